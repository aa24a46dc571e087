//go:build windows

package lockfile

import (
	"fmt"
	"os"
	"os/exec"
)

func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("lockfile: failed to find process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("lockfile: failed to kill PID %d: %w", pid, err)
	}
	return nil
}

func forceKillProcess(pid int) error {
	return killProcess(pid)
}

func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return isProcessAliveTasklist(pid, proc)
}

func isProcessAliveTasklist(pid int, _ *os.Process) bool {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return containsSubstring(string(output), fmt.Sprintf("%d", pid))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
