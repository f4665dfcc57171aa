package axbuild

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runCommand announces and runs an external command wired to the terminal.
// A nonzero exit comes back as an error still carrying the exit status.
func runCommand(cmd *exec.Cmd) error {
	info("Running", fmt.Sprintf("`%s`", strings.Join(cmd.Args, " ")))

	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed with %w", err)
	}
	return nil
}

// exitStatus maps a child process error onto the exit code this process
// should report: the child's own code when it has one, 101 when the child
// died without one (signal).
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 101
}
