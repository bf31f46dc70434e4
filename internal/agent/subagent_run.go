package agent

import (
	"context"

	"github.com/skyefall/nanobot/internal/sessions"
	"github.com/skyefall/nanobot/internal/subagent"
)

// RunSubagentTask adapts Loop.Run to subagent.RunFunc: it runs one
// detached turn under a synthetic child session key, isolated from the
// parent's own session history (spec.md §4.12).
func (l *Loop) RunSubagentTask(ctx context.Context, task subagent.Task) (string, error) {
	childKey := sessions.BuildTopicSessionKey("subagent", task.ID, 0)
	l.sessions.GetOrCreate(childKey)
	l.sessions.SetSpawnInfo(childKey, task.SpawnedBy, task.Depth)

	result, err := l.Run(ctx, RunRequest{
		SessionKey:   childKey,
		Message:      task.Prompt,
		Channel:      "subagent",
		ChatID:       task.ID,
		PeerKind:     "subagent",
		RunID:        task.ID,
		HistoryLimit: 0,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
