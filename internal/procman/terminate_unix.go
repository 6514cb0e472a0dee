//go:build !windows

package procman

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// setSysProcAttr places the child in its own process group so the whole
// tree (the script plus anything it forks) can be signalled at once.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree terminates the process group rooted at pid: SIGTERM first,
// then SIGKILL for anything still alive after the grace period. A group
// that is already gone is not an error.
func terminateTree(pid int, grace time.Duration) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Fall back to signalling the pid directly.
		pgid = pid
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("terminating process group %d: %w", pgid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(-pgid, 0); errors.Is(err, syscall.ESRCH) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("force-killing process group %d: %w", pgid, err)
	}
	return nil
}
