// Package rundir defines the on-disk layout of a run directory and the
// race-safe allocator that claims new run identities under a shared root.
package rundir

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Subdirectories created for every run.
const (
	MetricsDir   = "metrics"
	MetadataDir  = "metadata"
	ArtifactsDir = "artifacts"
)

// KeysDir holds the per-log key registries under the metrics directory.
const KeysDir = ".keys"

// CheckpointsDir holds checkpoint blobs under the artifacts directory.
const CheckpointsDir = "checkpoints"

// Metadata file names under the metadata directory.
const (
	ConfigFile = "config.yaml"
	InfoFile   = "info.yaml"
	MlxpFile   = "mlxp.yaml"
)

// reservedLogNames clash with the metadata file stems and cannot be used
// as metric log names.
var reservedLogNames = []string{"config", "info", "mlxp"}

// IsReservedLogName reports whether name collides with a metadata file stem.
func IsReservedLogName(name string) bool {
	for _, r := range reservedLogNames {
		if name == r {
			return true
		}
	}
	return false
}

// ReservedLogNames returns the log names the writer refuses.
func ReservedLogNames() []string {
	out := make([]string, len(reservedLogNames))
	copy(out, reservedLogNames)
	return out
}

// RunPath returns the directory claimed by a run id under root.
func RunPath(root string, id uint64) string {
	return filepath.Join(root, strconv.FormatUint(id, 10))
}

// MetricsFile returns the NDJSON data file for a metric log.
func MetricsFile(runDir, logName string) string {
	return filepath.Join(runDir, MetricsDir, logName+".json")
}

// KeysFile returns the key registry for a metric log.
func KeysFile(runDir, logName string) string {
	return filepath.Join(runDir, MetricsDir, KeysDir, logName+".yaml")
}

// MetadataFile returns the path of a metadata file within a run directory.
func MetadataFile(runDir, name string) string {
	return filepath.Join(runDir, MetadataDir, name)
}

// CheckpointFile returns the path of a named checkpoint blob.
func CheckpointFile(runDir, name string) string {
	return filepath.Join(runDir, ArtifactsDir, CheckpointsDir, name+".snappy")
}

// KindOf classifies a logged or indexed value into the kind strings
// recorded by key registries and the catalog's fields table.
func KindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "string"
	case []interface{}, []float64, []int, []string:
		return "list"
	default:
		return "object"
	}
}

// ParseRunID parses a pure-digit directory name into a run id.
func ParseRunID(name string) (uint64, bool) {
	if name == "" {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EnsureLayout creates the standard subdirectories of a run directory.
func EnsureLayout(runDir string) error {
	for _, sub := range []string{MetricsDir, MetadataDir, ArtifactsDir} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return fmt.Errorf("rundir: failed to create %s subdirectory: %w", sub, err)
		}
	}
	return nil
}
