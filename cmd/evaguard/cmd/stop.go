package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running evaguard server",
	Long: `Stop a running "evaguard serve" by reading its PID file and sending SIGTERM.

The PID file is located at ~/.evaguard/server.pid.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var stopTimeout time.Duration

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait before killing the server")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Stopping evaguard server (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(proc, stopTimeout) {
		os.Remove(pidPath)
		fmt.Fprintln(out, "Server stopped.")
		return nil
	}

	fmt.Fprintf(out, "Server still running after %s, killing it.\n", stopTimeout)
	_ = proc.Kill()
	os.Remove(pidPath)
	return nil
}

// waitForExit polls proc until it exits or timeout elapses.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-ticker.C:
			if !processIsAlive(proc) {
				return true
			}
		case <-deadline:
			return !processIsAlive(proc)
		}
	}
}
