package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/jpeyre/mlxp/internal/rundir"
)

// Checkpoint serializes v and stores it snappy-compressed under the
// run's checkpoint directory. Writing goes through a temp file and an
// atomic rename so a crash mid-checkpoint never truncates the previous
// one.
func (l *Logger) Checkpoint(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("track: failed to encode checkpoint %s: %w", name, err)
	}
	compressed := snappy.Encode(nil, raw)

	path := rundir.CheckpointFile(l.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("track: failed to create checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("track: failed to write checkpoint %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("track: failed to publish checkpoint %s: %w", name, err)
	}
	return nil
}

// LoadCheckpoint restores a checkpoint into v. A checkpoint that was
// never written returns ErrNoCheckpoint.
func (l *Logger) LoadCheckpoint(name string, v interface{}) error {
	raw, err := os.ReadFile(rundir.CheckpointFile(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("track: %w: %s", ErrNoCheckpoint, name)
		}
		return fmt.Errorf("track: failed to read checkpoint %s: %w", name, err)
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return fmt.Errorf("track: failed to decompress checkpoint %s: %w", name, err)
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("track: failed to decode checkpoint %s: %w", name, err)
	}
	return nil
}
