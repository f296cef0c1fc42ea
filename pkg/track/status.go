package track

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jpeyre/mlxp/internal/rundir"
)

// Status is a run's lifecycle state as recorded in its info file.
type Status string

// Run lifecycle states. A run is STARTING from directory creation until
// the caller marks it RUNNING, and ends in COMPLETE or FAILED. A run
// left RUNNING was interrupted or is still alive.
const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// terminal reports whether the status ends the run's lifecycle.
func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// runInfo is the info.yaml document identifying a run.
type runInfo struct {
	LogID     uint64 `yaml:"log_id"`
	LogDir    string `yaml:"log_dir"`
	UUID      string `yaml:"uuid"`
	Hostname  string `yaml:"hostname"`
	User      string `yaml:"user"`
	ProcessID int    `yaml:"process_id"`
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time,omitempty"`
	Status    Status `yaml:"status"`
}

func newRunInfo(id uint64, dir string) runInfo {
	return runInfo{
		LogID:     id,
		LogDir:    dir,
		UUID:      uuid.NewString(),
		Hostname:  hostname(),
		User:      username(),
		ProcessID: os.Getpid(),
		StartTime: time.Now().Format(time.RFC3339),
		Status:    StatusStarting,
	}
}

// Status returns the run's current lifecycle state.
func (l *Logger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.Status
}

// SetStatus records a lifecycle transition in the run's info file.
// Terminal statuses stamp the end time and flush all metric logs first,
// so a reader that observes the terminal status also observes every
// logged line.
func (l *Logger) SetStatus(status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if status.terminal() {
		if err := l.flushLocked(); err != nil {
			return err
		}
		l.info.EndTime = time.Now().Format(time.RFC3339)
	}
	l.info.Status = status
	return l.writeInfo()
}

// writeInfo rewrites the run's info file. Must be called with the
// mutex held (or before the Logger is shared).
func (l *Logger) writeInfo() error {
	return writeYAMLFile(rundir.MetadataFile(l.dir, rundir.InfoFile), l.info)
}
