package tools

import (
	"context"

	"github.com/skyefall/nanobot/internal/store"
	"github.com/skyefall/nanobot/internal/subagent"
)

// SpawnTool hands a prompt to the Subagent Manager, returning an
// acknowledgement string; the subagent later publishes its own outbound
// message on completion (spec.md §4.4, §4.12).
type SpawnTool struct {
	manager  *subagent.Manager
	sessions store.SessionStore
}

func NewSpawnTool(manager *subagent.Manager, sessions store.SessionStore) *SpawnTool {
	return &SpawnTool{manager: manager, sessions: sessions}
}

func (t *SpawnTool) Name() string        { return "spawn" }
func (t *SpawnTool) Description() string { return "Spawn a background subagent to work on a task independently." }

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The task to hand to the subagent",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.manager == nil {
		return ErrorResult("subagent manager not available")
	}

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return ErrorResult("prompt is required")
	}

	sessionKey := ToolSessionKeyFromCtx(ctx)
	channel := ToolChannelFromCtx(ctx)
	chatID := ToolChatIDFromCtx(ctx)

	depth := 0
	if t.sessions != nil && sessionKey != "" {
		depth = t.sessions.GetOrCreate(sessionKey).SpawnDepth
	}

	ack, err := t.manager.Spawn(ctx, sessionKey, depth, prompt, channel, chatID)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult(ack)
}
