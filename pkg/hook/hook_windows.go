//go:build windows

package hook

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand runs command through cmd /C in a new process group.
func (e *Executor) createCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := e.commandContext(ctx, "cmd", "/C", command)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
