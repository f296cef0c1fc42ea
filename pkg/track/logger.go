// Package track writes run directories: it claims a run identity under
// a log root, stamps the run's metadata, and appends configuration,
// metrics, artifacts and checkpoints in the layout the reader side and
// the catalog indexer consume.
package track

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jpeyre/mlxp/internal/rundir"
)

// Version is stamped into every run's mlxp.yaml so readers can tell
// which toolkit release produced the directory.
const Version = "0.1.0"

// DefaultLog is the metric log name used when none is given.
const DefaultLog = "metrics"

// Sentinel errors returned by the run writer.
var (
	// ErrReservedLogName is returned when a metric log name collides
	// with a metadata file stem.
	ErrReservedLogName = errors.New("reserved log name")

	// ErrNoCheckpoint is returned by LoadCheckpoint when the named
	// checkpoint was never written.
	ErrNoCheckpoint = errors.New("checkpoint does not exist")

	// ErrInvalidArtifactName is returned when an artifact name would
	// escape the run's artifacts directory.
	ErrInvalidArtifactName = errors.New("invalid artifact name")
)

// Logger owns one run directory and all writes into it. A Logger is
// safe for concurrent use; the run identity itself is claimed once, at
// construction, through the race-safe allocator.
type Logger struct {
	id  uint64
	dir string

	mu        sync.Mutex
	info      runInfo
	appenders map[string]*appender
	registry  map[string]map[string]bool // log name -> fields already registered
	forcedID  *uint64
}

// Option configures a Logger before it claims its run directory.
type Option func(*Logger)

// WithRunID pins the run to a specific id instead of allocating a
// fresh one. The caller asserts exclusive ownership of the id; reusing
// a live run's id from two processes corrupts its files.
func WithRunID(id uint64) Option {
	return func(l *Logger) {
		l.forcedID = &id
	}
}

// New claims a run directory under root and stamps its metadata. The
// run starts in status STARTING with an empty configuration, so it is
// indexable before LogConfig is called.
func New(root string, opts ...Option) (*Logger, error) {
	l := &Logger{
		appenders: make(map[string]*appender),
		registry:  make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}

	alloc := rundir.NewAllocator(root)
	if l.forcedID != nil {
		dir, err := alloc.Ensure(*l.forcedID)
		if err != nil {
			return nil, err
		}
		l.id, l.dir = *l.forcedID, dir
	} else {
		id, dir, err := alloc.Allocate()
		if err != nil {
			return nil, err
		}
		l.id, l.dir = id, dir
	}

	l.info = newRunInfo(l.id, l.dir)
	if err := l.writeInfo(); err != nil {
		return nil, err
	}
	if err := writeYAMLFile(rundir.MetadataFile(l.dir, rundir.MlxpFile), map[string]interface{}{
		"version": Version,
	}); err != nil {
		return nil, err
	}
	configPath := rundir.MetadataFile(l.dir, rundir.ConfigFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeYAMLFile(configPath, map[string]interface{}{}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// RunID returns the run's claimed identity.
func (l *Logger) RunID() uint64 { return l.id }

// RunDir returns the run's directory.
func (l *Logger) RunDir() string { return l.dir }

// LogConfig writes the run's configuration file, replacing any previous
// one. The mapping may nest; the catalog flattens it at index time.
func (l *Logger) LogConfig(cfg map[string]interface{}) error {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeYAMLFile(rundir.MetadataFile(l.dir, rundir.ConfigFile), cfg)
}

// LogMetrics appends one observation to a metric log as a single
// compact JSON line and registers any field names not seen before in
// the log's key registry. An empty log name selects DefaultLog.
func (l *Logger) LogMetrics(vals map[string]interface{}, logName string) error {
	if logName == "" {
		logName = DefaultLog
	}
	if rundir.IsReservedLogName(logName) {
		return fmt.Errorf("track: %w: %q collides with a metadata file, pick a name outside %v",
			ErrReservedLogName, logName, rundir.ReservedLogNames())
	}

	raw, err := json.Marshal(vals)
	if err != nil {
		return fmt.Errorf("track: failed to encode metrics for log %s: %w", logName, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	app, err := l.appender(logName)
	if err != nil {
		return err
	}
	if _, err := app.buf.Write(raw); err != nil {
		return fmt.Errorf("track: failed to append to log %s: %w", logName, err)
	}
	if err := app.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("track: failed to append to log %s: %w", logName, err)
	}
	return l.registerKeys(logName, vals)
}

// LogArtifact copies src under the run's artifacts directory. The name
// may contain subdirectories but must stay inside the run.
func (l *Logger) LogArtifact(src io.Reader, name string) error {
	clean := filepath.Clean(name)
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("track: %w: %q escapes the artifacts directory", ErrInvalidArtifactName, name)
	}

	dst := filepath.Join(l.dir, rundir.ArtifactsDir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("track: failed to create artifact directory for %s: %w", clean, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("track: failed to create artifact %s: %w", clean, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("track: failed to write artifact %s: %w", clean, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("track: failed to close artifact %s: %w", clean, err)
	}
	return nil
}

// Flush forces all buffered metric lines to disk.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// Close flushes and closes every open metric log. The run's status is
// left as it stands: terminal statuses are the caller's statement, not
// a side effect of closing.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for name, app := range l.appenders {
		if err := app.buf.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("track: failed to flush log %s: %w", name, err)
		}
		if err := app.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("track: failed to close log %s: %w", name, err)
		}
	}
	l.appenders = make(map[string]*appender)
	return firstErr
}

// appender holds one metric log's open file and write buffer.
type appender struct {
	file *os.File
	buf  *bufio.Writer
}

// appender returns the open appender for a log, creating it on first
// use. Must be called with the mutex held.
func (l *Logger) appender(logName string) (*appender, error) {
	if app, ok := l.appenders[logName]; ok {
		return app, nil
	}
	f, err := os.OpenFile(rundir.MetricsFile(l.dir, logName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("track: failed to open log %s: %w", logName, err)
	}
	app := &appender{file: f, buf: bufio.NewWriter(f)}
	l.appenders[logName] = app
	return app, nil
}

// flushLocked flushes every appender. Must be called with the mutex
// held.
func (l *Logger) flushLocked() error {
	var firstErr error
	for name, app := range l.appenders {
		if err := app.buf.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("track: failed to flush log %s: %w", name, err)
		}
	}
	return firstErr
}

// registerKeys merges field names into the log's key registry file.
// The registry survives resumed runs: existing entries are read back
// and kept. Must be called with the mutex held.
func (l *Logger) registerKeys(logName string, vals map[string]interface{}) error {
	known := l.registry[logName]
	if known == nil {
		known = make(map[string]bool)
		l.registry[logName] = known
	}

	var newKeys []string
	for k := range vals {
		if !known[k] {
			newKeys = append(newKeys, k)
		}
	}
	if len(newKeys) == 0 {
		return nil
	}
	sort.Strings(newKeys)

	path := rundir.KeysFile(l.dir, logName)
	merged := make(map[string]string)
	if raw, err := os.ReadFile(path); err == nil {
		// A malformed registry is rebuilt from scratch.
		_ = yaml.Unmarshal(raw, &merged)
	}
	for _, k := range newKeys {
		merged[k] = rundir.KindOf(vals[k])
		known[k] = true
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("track: failed to create key registry directory: %w", err)
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("track: failed to encode key registry for log %s: %w", logName, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("track: failed to write key registry for log %s: %w", logName, err)
	}
	return nil
}

// writeYAMLFile marshals doc and writes it in one shot.
func writeYAMLFile(path string, doc interface{}) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("track: failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("track: failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// hostname and username degrade to empty strings rather than failing a
// run start over environment lookups.

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return os.Getenv("USER")
	}
	return u.Username
}
