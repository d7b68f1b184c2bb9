//go:build !windows

package hook

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand runs command through /bin/sh in its own process group, so
// cancellation reaches every child it spawns.
func (e *Executor) createCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := e.commandContext(ctx, "/bin/sh", "-c", command)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
