package nmcli

import (
	"context"
	"os"
	"os/exec"
)

// Commander abstracts command execution so tests can script nmcli.
// Errors for processes that ran and exited nonzero must implement
// ExitCode() int, as *exec.ExitError does.
type Commander interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecCommander struct {
}

func NewExecCommander() Commander {
	return &ExecCommander{}
}

func (c *ExecCommander) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return command(ctx, name, args...).CombinedOutput()
}

func (c *ExecCommander) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return command(ctx, name, args...).Output()
}

// command pins the C locale so nmcli diagnostics are stable.
func command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	return cmd
}
