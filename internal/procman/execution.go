package procman

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Key identifies at most one live script process: one owner may run a given
// filename once at a time. The key is reused after the process ends.
type Key struct {
	OwnerID  int64
	Filename string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.OwnerID, k.Filename)
}

// TerminationReason records why an execution was removed from the registry.
type TerminationReason string

const (
	ReasonStopped TerminationReason = "stopped" // explicit stop request
	ReasonTimeout TerminationReason = "timeout" // per-entry watcher fired
	ReasonSweep   TerminationReason = "sweep"   // periodic over-age sweep
	ReasonExited  TerminationReason = "exited"  // process ended on its own
)

// execution is a live entry in the registry. The registry owns the log sink
// and the process handle exclusively; both are released exactly once.
type execution struct {
	key       Key
	kind      string
	pid       int
	startedAt time.Time
	workDir   string
	logPath   string

	cmd     *exec.Cmd
	logSink *os.File
	timer   *time.Timer

	closeOnce sync.Once
}

// finalize appends an optional sentinel line to the log and closes the sink.
// Safe to call from the stop path, the timeout watcher, the sweep, and the
// reaper concurrently; the sink is closed exactly once.
func (e *execution) finalize(sentinel string) {
	e.closeOnce.Do(func() {
		if sentinel != "" {
			fmt.Fprintf(e.logSink, "\n\n[SYSTEM] %s\n", sentinel)
		}
		_ = e.logSink.Close()
	})
}

// ExecutionInfo is a point-in-time snapshot of a live entry.
type ExecutionInfo struct {
	OwnerID   int64     `json:"owner_id"`
	Filename  string    `json:"filename"`
	Kind      string    `json:"kind"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	WorkDir   string    `json:"work_dir"`
	LogPath   string    `json:"log_path"`
}

func (e *execution) snapshot() ExecutionInfo {
	return ExecutionInfo{
		OwnerID:   e.key.OwnerID,
		Filename:  e.key.Filename,
		Kind:      e.kind,
		PID:       e.pid,
		StartedAt: e.startedAt,
		WorkDir:   e.workDir,
		LogPath:   e.logPath,
	}
}
