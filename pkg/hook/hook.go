// Package hook runs user commands before and after a sync pass.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// Plan lists the commands to run around each pass.
type Plan struct {
	PreSync  []string
	PostSync []string
	// FailFast aborts the pass when a pre-sync command fails.
	FailFast bool
}

// Enabled reports whether the plan has anything to run.
func (p Plan) Enabled() bool {
	return len(p.PreSync) > 0 || len(p.PostSync) > 0
}

// Executor runs hook commands through the platform shell.
type Executor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor returns an Executor. A nil commandContext uses
// exec.CommandContext.
func NewExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Executor{commandContext: commandContext}
}

// Run executes commands in order with env added to the environment. A
// failing command stops the list only when failFast is set.
func (e *Executor) Run(ctx context.Context, stage string, commands []string, env []string, dryRun, failFast bool) error {
	if len(commands) == 0 {
		return nil
	}
	plog.Info(fmt.Sprintf("Running %s hook commands", stage))

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if dryRun {
			plog.Notice("[DRY RUN] EXEC", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		cmd.Env = append(cmd.Environ(), env...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if failFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

// Syncer runs one pass over all replicas.
type Syncer interface {
	SyncAll(ctx context.Context, dryRun bool) (pathsync.Results, error)
}

// Wrap returns a Syncer that runs the plan's commands around next.
// Post-sync commands see PGL_BOOKSYNC_RESULT, PGL_BOOKSYNC_FAILED and
// PGL_BOOKSYNC_DRY_RUN.
func Wrap(next Syncer, e *Executor, p Plan) Syncer {
	if !p.Enabled() {
		return next
	}
	return &hookedSyncer{next: next, exec: e, plan: p}
}

type hookedSyncer struct {
	next Syncer
	exec *Executor
	plan Plan
}

func (h *hookedSyncer) SyncAll(ctx context.Context, dryRun bool) (pathsync.Results, error) {
	dryEnv := "PGL_BOOKSYNC_DRY_RUN=" + strconv.FormatBool(dryRun)
	if err := h.exec.Run(ctx, "pre-sync", h.plan.PreSync, []string{dryEnv}, dryRun, h.plan.FailFast); err != nil {
		return nil, fmt.Errorf("pre-sync hook: %w", err)
	}

	results, err := h.next.SyncAll(ctx, dryRun)

	env := []string{
		dryEnv,
		"PGL_BOOKSYNC_RESULT=" + pathsync.RunResult(results, err),
		"PGL_BOOKSYNC_FAILED=" + strconv.Itoa(results.Failed()),
	}
	// Post-sync failures never change the pass result.
	if hookErr := h.exec.Run(ctx, "post-sync", h.plan.PostSync, env, dryRun, false); hookErr != nil {
		plog.Warn("Post-sync hooks aborted", "error", hookErr)
	}
	return results, err
}
