package tools

import (
	"context"

	"github.com/skyefall/nanobot/internal/bus"
)

// MessageTool enqueues an OutboundMessage back to the turn's origin
// channel and marks `_sent_in_turn` so the agent loop suppresses its
// fallback reply (spec.md §4.4).
type MessageTool struct {
	msgBus *bus.MessageBus
}

func NewMessageTool(msgBus *bus.MessageBus) *MessageTool {
	return &MessageTool{msgBus: msgBus}
}

func (t *MessageTool) Name() string        { return "message" }
func (t *MessageTool) Description() string { return "Send a message back to the user in the current conversation." }

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The message text to send",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.msgBus == nil {
		return ErrorResult("message bus not available")
	}

	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}

	channel := ToolChannelFromCtx(ctx)
	chatID := ToolChatIDFromCtx(ctx)
	if channel == "" || chatID == "" {
		return ErrorResult("no origin channel/chat_id in context")
	}

	t.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})

	if flag := ToolSentInTurnFlagFromCtx(ctx); flag != nil {
		*flag = true
	}

	return SilentResult("message sent")
}
