//go:build windows

package procman

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

func setSysProcAttr(cmd *exec.Cmd) {
	// taskkill /T handles descendants; no special spawn attributes needed.
}

// terminateTree kills the process and all descendants via taskkill. The
// grace period is not honored on Windows; taskkill /F is immediate.
func terminateTree(pid int, _ time.Duration) error {
	out, err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		// "not found" means the tree is already gone.
		if strings.Contains(string(out), "not found") {
			return nil
		}
		return fmt.Errorf("taskkill pid %d: %w: %s", pid, err, strings.TrimSpace(string(out)))
	}
	return nil
}
