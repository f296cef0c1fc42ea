package track

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpeyre/mlxp/internal/rundir"
)

func readInfo(t *testing.T, dir string) map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(rundir.MetadataFile(dir, rundir.InfoFile))
	if err != nil {
		t.Fatalf("failed to read info file: %v", err)
	}
	var info map[string]interface{}
	if err := yaml.Unmarshal(raw, &info); err != nil {
		t.Fatalf("failed to decode info file: %v", err)
	}
	return info
}

func TestNewClaimsSequentialRuns(t *testing.T) {
	root := t.TempDir()

	first, err := New(root)
	if err != nil {
		t.Fatalf("failed to create first run: %v", err)
	}
	defer first.Close()
	second, err := New(root)
	if err != nil {
		t.Fatalf("failed to create second run: %v", err)
	}
	defer second.Close()

	if first.RunID() != 1 || second.RunID() != 2 {
		t.Errorf("got run ids %d, %d, want 1, 2", first.RunID(), second.RunID())
	}
	if first.RunDir() != rundir.RunPath(root, 1) {
		t.Errorf("run dir %q, want %q", first.RunDir(), rundir.RunPath(root, 1))
	}

	info := readInfo(t, first.RunDir())
	if info["status"] != string(StatusStarting) {
		t.Errorf("fresh run status %v, want %s", info["status"], StatusStarting)
	}
	if info["log_id"] != 1 {
		t.Errorf("info log_id = %v, want 1", info["log_id"])
	}
	if id, _ := info["uuid"].(string); id == "" {
		t.Error("info uuid is empty")
	}
	start, _ := info["start_time"].(string)
	if _, err := time.Parse(time.RFC3339, start); err != nil {
		t.Errorf("start_time %q is not RFC3339: %v", start, err)
	}

	// A fresh run is indexable immediately: all three metadata files
	// exist, with an empty config until LogConfig runs.
	raw, err := os.ReadFile(rundir.MetadataFile(first.RunDir(), rundir.ConfigFile))
	if err != nil {
		t.Fatalf("failed to read seeded config: %v", err)
	}
	cfg := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("failed to decode seeded config: %v", err)
	}
	if len(cfg) != 0 {
		t.Errorf("seeded config is %v, want empty", cfg)
	}
	raw, err = os.ReadFile(rundir.MetadataFile(first.RunDir(), rundir.MlxpFile))
	if err != nil {
		t.Fatalf("failed to read mlxp metadata: %v", err)
	}
	var meta map[string]interface{}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("failed to decode mlxp metadata: %v", err)
	}
	if meta["version"] != Version {
		t.Errorf("mlxp version = %v, want %s", meta["version"], Version)
	}
}

func TestWithRunIDResumesRun(t *testing.T) {
	root := t.TempDir()

	l, err := New(root, WithRunID(7))
	if err != nil {
		t.Fatalf("failed to create pinned run: %v", err)
	}
	if l.RunID() != 7 {
		t.Errorf("run id = %d, want 7", l.RunID())
	}
	if err := l.LogConfig(map[string]interface{}{"lr": 0.1}); err != nil {
		t.Fatalf("failed to log config: %v", err)
	}
	l.Close()

	// Resuming the same id keeps the previously logged config.
	resumed, err := New(root, WithRunID(7))
	if err != nil {
		t.Fatalf("failed to resume run: %v", err)
	}
	defer resumed.Close()
	raw, err := os.ReadFile(rundir.MetadataFile(resumed.RunDir(), rundir.ConfigFile))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	cfg := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if cfg["lr"] != 0.1 {
		t.Errorf("resumed config lr = %v, want 0.1", cfg["lr"])
	}

	// Fresh allocation continues past the pinned id.
	next, err := New(root)
	if err != nil {
		t.Fatalf("failed to allocate after pinned run: %v", err)
	}
	defer next.Close()
	if next.RunID() != 8 {
		t.Errorf("next run id = %d, want 8", next.RunID())
	}
}

func TestLogMetricsAppendsCompactJSONLines(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	if err := l.LogMetrics(map[string]interface{}{"loss": 0.5, "step": 1}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.LogMetrics(map[string]interface{}{"loss": 0.25, "step": 2}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	raw, err := os.ReadFile(rundir.MetricsFile(l.RunDir(), "train"))
	if err != nil {
		t.Fatalf("failed to read metrics file: %v", err)
	}
	want := `{"loss":0.5,"step":1}` + "\n" + `{"loss":0.25,"step":2}` + "\n"
	if string(raw) != want {
		t.Errorf("metrics file:\n%q\nwant:\n%q", raw, want)
	}
}

func TestLogMetricsDefaultLog(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	if err := l.LogMetrics(map[string]interface{}{"loss": 0.5}, ""); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	if _, err := os.Stat(rundir.MetricsFile(l.RunDir(), DefaultLog)); err != nil {
		t.Errorf("default log file missing: %v", err)
	}
	if _, err := os.Stat(rundir.KeysFile(l.RunDir(), DefaultLog)); err != nil {
		t.Errorf("default log registry missing: %v", err)
	}
}

func TestLogMetricsRejectsReservedNames(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	for _, name := range rundir.ReservedLogNames() {
		err := l.LogMetrics(map[string]interface{}{"loss": 0.5}, name)
		if !errors.Is(err, ErrReservedLogName) {
			t.Errorf("log name %q: got %v, want ErrReservedLogName", name, err)
		}
		if err != nil && !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name the rejected log", err)
		}
		if _, statErr := os.Stat(rundir.MetricsFile(l.RunDir(), name)); !os.IsNotExist(statErr) {
			t.Errorf("rejected log %q left a file behind", name)
		}
	}
}

func TestKeyRegistryAccumulatesKinds(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	if err := l.LogMetrics(map[string]interface{}{"loss": 0.5, "step": 1}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.LogMetrics(map[string]interface{}{"loss": 0.4, "converged": false}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}

	raw, err := os.ReadFile(rundir.KeysFile(l.RunDir(), "train"))
	if err != nil {
		t.Fatalf("failed to read registry: %v", err)
	}
	registry := map[string]string{}
	if err := yaml.Unmarshal(raw, &registry); err != nil {
		t.Fatalf("failed to decode registry: %v", err)
	}
	want := map[string]string{"loss": "float", "step": "int", "converged": "bool"}
	if !reflect.DeepEqual(registry, want) {
		t.Errorf("registry = %v, want %v", registry, want)
	}
}

func TestKeyRegistrySurvivesResume(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	id := l.RunID()
	if err := l.LogMetrics(map[string]interface{}{"loss": 0.5}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("failed to close run: %v", err)
	}

	resumed, err := New(root, WithRunID(id))
	if err != nil {
		t.Fatalf("failed to resume run: %v", err)
	}
	defer resumed.Close()
	if err := resumed.LogMetrics(map[string]interface{}{"acc": 0.9}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}

	raw, err := os.ReadFile(rundir.KeysFile(resumed.RunDir(), "train"))
	if err != nil {
		t.Fatalf("failed to read registry: %v", err)
	}
	registry := map[string]string{}
	if err := yaml.Unmarshal(raw, &registry); err != nil {
		t.Fatalf("failed to decode registry: %v", err)
	}
	want := map[string]string{"loss": "float", "acc": "float"}
	if !reflect.DeepEqual(registry, want) {
		t.Errorf("registry = %v, want %v", registry, want)
	}
}

func TestSetStatusLifecycle(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	if err := l.SetStatus(StatusRunning); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}
	info := readInfo(t, l.RunDir())
	if info["status"] != string(StatusRunning) {
		t.Errorf("status = %v, want %s", info["status"], StatusRunning)
	}
	if _, ok := info["end_time"]; ok {
		t.Error("non-terminal status wrote an end_time")
	}

	// Terminal status flushes pending metric lines before it lands.
	if err := l.LogMetrics(map[string]interface{}{"loss": 0.1}, "train"); err != nil {
		t.Fatalf("failed to log metrics: %v", err)
	}
	if err := l.SetStatus(StatusComplete); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}

	info = readInfo(t, l.RunDir())
	if info["status"] != string(StatusComplete) {
		t.Errorf("status = %v, want %s", info["status"], StatusComplete)
	}
	end, _ := info["end_time"].(string)
	if _, err := time.Parse(time.RFC3339, end); err != nil {
		t.Errorf("end_time %q is not RFC3339: %v", end, err)
	}
	raw, err := os.ReadFile(rundir.MetricsFile(l.RunDir(), "train"))
	if err != nil {
		t.Fatalf("failed to read metrics file: %v", err)
	}
	if !strings.Contains(string(raw), `"loss":0.1`) {
		t.Error("terminal status did not flush pending metrics")
	}
}

func TestCloseLeavesStatusUntouched(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := l.SetStatus(StatusRunning); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("failed to close run: %v", err)
	}

	info := readInfo(t, l.RunDir())
	if info["status"] != string(StatusRunning) {
		t.Errorf("close changed status to %v", info["status"])
	}
}

func TestLogArtifact(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	defer l.Close()

	if err := l.LogArtifact(strings.NewReader("weights"), filepath.Join("models", "best.txt")); err != nil {
		t.Fatalf("failed to log artifact: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(l.RunDir(), rundir.ArtifactsDir, "models", "best.txt"))
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if string(raw) != "weights" {
		t.Errorf("artifact contents %q, want %q", raw, "weights")
	}

	for _, name := range []string{"../escape.txt", "/etc/passwd", "models/../../escape.txt"} {
		if err := l.LogArtifact(strings.NewReader("x"), name); !errors.Is(err, ErrInvalidArtifactName) {
			t.Errorf("artifact name %q: got %v, want ErrInvalidArtifactName", name, err)
		}
	}
}
