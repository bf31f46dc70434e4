package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyefall/nanobot/internal/providers"
	"github.com/skyefall/nanobot/internal/tracing"
)

// reasonAct runs the bounded reason-act cycle (spec.md §4.7.1): call the
// provider, and for as long as it asks for tool calls, execute them one at
// a time (never in parallel — a later call may depend on an earlier one's
// side effect) and feed the results back, until the model stops asking for
// a tool or MaxIterations is reached.
func (l *Loop) reasonAct(ctx context.Context, provider providers.Provider, model string, messages []providers.Message, req RunRequest) (string, int, providers.Usage, error) {
	var total providers.Usage
	toolDefs := l.toolPolicy.FilterTools(l.tools, l.id, provider.Name(), nil, nil, false, false)

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		llmCtx := ctx
		var span trace.Span
		if l.collector != nil {
			llmCtx, span = l.collector.StartSpan(ctx, "agent.llm_call",
				attribute.Int("iteration", iteration),
				attribute.String("provider", provider.Name()),
				attribute.String("model", model),
			)
		}

		resp, err := provider.Chat(llmCtx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   l.maxTokens,
				providers.OptTemperature: l.temperature,
			},
		})
		if span != nil {
			tracing.EndSpan(span, err)
		}
		if err != nil {
			return "", iteration, total, fmt.Errorf("agent: provider chat: %w", err)
		}
		if resp.Usage != nil {
			total.PromptTokens += resp.Usage.PromptTokens
			total.CompletionTokens += resp.Usage.CompletionTokens
		}

		if !resp.HasToolCalls() {
			return resp.Content, iteration, total, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			l.emit(AgentEvent{
				Type:    "tool.call",
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]string{"tool": call.Name, "id": call.ID},
			})

			args := call.Arguments

			toolCtx := ctx
			var toolSpan trace.Span
			if l.collector != nil {
				toolCtx, toolSpan = l.collector.StartSpan(ctx, "agent.tool_call", attribute.String("tool", call.Name))
			}

			result := l.tools.ExecuteWithContext(toolCtx, call.Name, args, req.Channel, req.ChatID, req.PeerKind, req.SessionKey, nil)
			if toolSpan != nil {
				tracing.EndSpan(toolSpan, result.Err, attribute.Bool("is_error", result.IsError))
			}

			if result.Usage != nil {
				total.PromptTokens += result.Usage.PromptTokens
				total.CompletionTokens += result.Usage.CompletionTokens
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})

			l.emit(AgentEvent{
				Type:    "tool.result",
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]interface{}{"tool": call.Name, "id": call.ID, "is_error": result.IsError},
			})
		}
	}

	return "", l.maxIterations, total, fmt.Errorf("agent: exceeded max iterations (%d) without a final answer", l.maxIterations)
}
