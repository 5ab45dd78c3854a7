package bridge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ChatWorkdir returns the sandbox-mounted path for one tool-call's driver
// script within a chat's scratch directory. toolCallID is the LLM-assigned
// call id (an opaque string, not a uuid).
func ChatWorkdir(root string, chatID, messageID uuid.UUID, toolCallID string) string {
	return filepath.Join(root, fmt.Sprintf("wd-%s", chatID), fmt.Sprintf("tc-%s-%s.py", messageID, toolCallID))
}

// EnsureChatWorkdir creates chatID's scratch directory if it does not
// already exist and returns it.
func EnsureChatWorkdir(root string, chatID uuid.UUID) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("wd-%s", chatID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// TaskWorkdir returns the sandbox-mounted scratch directory shared by every
// task in one execution tree, keyed by the top ancestor's id.
func TaskWorkdir(root string, rootTaskID uuid.UUID) string {
	return filepath.Join(root, fmt.Sprintf("wd-task-%s", rootTaskID))
}

// EnsureTaskWorkdir returns task's workdir, creating it if it does not
// already exist.
func EnsureTaskWorkdir(root string, task *Task) (string, error) {
	rootTaskID, err := task.RootID()
	if err != nil {
		return "", err
	}
	dir := TaskWorkdir(root, rootTaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
