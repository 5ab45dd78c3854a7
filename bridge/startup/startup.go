// Package startup cleans up after a possible previous termination: a
// process that died mid-completion leaves Messages stuck Writing and Tasks
// stuck InProgress, neither of which any running goroutine still owns.
package startup

import (
	"context"
	"fmt"
	"log/slog"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/repo"
)

// Recover transitions every Writing Message to Failed and every InProgress
// Task to ToDo, across all tenants. Call this once, after migrations and
// before any executor or planner worker starts polling.
func Recover(ctx context.Context, r repo.Repo) error {
	slog.Debug("startup: cleaning up after possible previous termination")

	messages, err := r.Messages().TransitionAll(ctx, bridge.MessageWriting, bridge.MessageFailed)
	if err != nil {
		return fmt.Errorf("startup: recover writing messages: %w", err)
	}

	tasks, err := r.Tasks().TransitionAll(ctx, bridge.TaskInProgress, bridge.TaskToDo)
	if err != nil {
		return fmt.Errorf("startup: recover in-progress tasks: %w", err)
	}

	slog.Info("startup: recovered from previous termination", "messages_failed", messages, "tasks_reset", tasks)

	return nil
}
