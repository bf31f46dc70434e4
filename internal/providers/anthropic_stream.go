package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return errorResponse(err), nil
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	toolCallJSON := make(map[int]string)
	var rawContentBlocks []json.RawMessage
	var currentBlockType string
	thinkingChars := 0

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev struct {
				Message struct {
					Usage anthropicUsage `json:"usage"`
				} `json:"message"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				result.Usage = &Usage{PromptTokens: ev.Message.Usage.InputTokens, CacheCreationTokens: ev.Message.Usage.CacheCreationInputTokens, CacheReadTokens: ev.Message.Usage.CacheReadInputTokens}
			}

		case "content_block_start":
			var ev struct {
				ContentBlock anthropicContentBlock `json:"content_block"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				currentBlockType = ev.ContentBlock.Type
				if ev.ContentBlock.Type == "tool_use" {
					result.ToolCalls = append(result.ToolCalls, ToolCall{ID: ev.ContentBlock.ID, Name: strings.TrimSpace(ev.ContentBlock.Name), Arguments: map[string]interface{}{}})
				}
				rawContentBlocks = append(rawContentBlocks, json.RawMessage(fmt.Sprintf(`{"type":%q}`, ev.ContentBlock.Type)))
			}

		case "content_block_delta":
			var ev struct {
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text,omitempty"`
					Thinking    string `json:"thinking,omitempty"`
					PartialJSON string `json:"partial_json,omitempty"`
				} `json:"delta"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				switch ev.Delta.Type {
				case "text_delta":
					result.Content += ev.Delta.Text
					if onChunk != nil {
						onChunk(StreamChunk{Content: ev.Delta.Text})
					}
				case "thinking_delta":
					result.ReasoningContent += ev.Delta.Thinking
					thinkingChars += len(ev.Delta.Thinking)
					if onChunk != nil {
						onChunk(StreamChunk{Thinking: ev.Delta.Thinking})
					}
				case "input_json_delta":
					if len(result.ToolCalls) > 0 {
						toolCallJSON[len(result.ToolCalls)-1] += ev.Delta.PartialJSON
					}
				}
			}

		case "content_block_stop":
			if len(rawContentBlocks) > 0 {
				idx := len(rawContentBlocks) - 1
				if block := p.buildRawBlock(currentBlockType, result, toolCallJSON); block != nil {
					rawContentBlocks[idx] = block
				}
			}
			currentBlockType = ""

		case "message_delta":
			var ev struct {
				Delta struct {
					StopReason string `json:"stop_reason,omitempty"`
				} `json:"delta"`
				Usage anthropicUsage `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				switch ev.Delta.StopReason {
				case "tool_use":
					result.FinishReason = "tool_calls"
				case "max_tokens":
					result.FinishReason = "length"
				case "":
					// no terminal stop reason in this delta
				default:
					result.FinishReason = "stop"
				}
				if ev.Usage.OutputTokens > 0 {
					if result.Usage == nil {
						result.Usage = &Usage{}
					}
					result.Usage.CompletionTokens = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				return errorResponse(fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)), nil
			}
		}
	}

	for i, rawJSON := range toolCallJSON {
		if rawJSON == "" {
			continue
		}
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(rawJSON), &args)
		result.ToolCalls[i].Arguments = args
	}
	if result.Usage != nil {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
		if thinkingChars > 0 {
			result.Usage.ThinkingTokens = thinkingChars / 4
		}
	}
	if len(rawContentBlocks) > 0 && len(result.ToolCalls) > 0 {
		if b, err := json.Marshal(rawContentBlocks); err == nil {
			result.RawAssistantContent = b
		}
	}
	return result, nil
}

// buildRawBlock reconstructs a complete content block from streamed deltas,
// needed to preserve thinking blocks for tool-use passback on the next turn.
func (p *AnthropicProvider) buildRawBlock(blockType string, result *ChatResponse, toolCallJSON map[int]string) json.RawMessage {
	switch blockType {
	case "thinking":
		b, _ := json.Marshal(map[string]interface{}{"type": "thinking", "thinking": result.ReasoningContent})
		return b
	case "text":
		b, _ := json.Marshal(map[string]interface{}{"type": "text", "text": result.Content})
		return b
	case "tool_use":
		if len(result.ToolCalls) == 0 {
			return nil
		}
		tc := result.ToolCalls[len(result.ToolCalls)-1]
		args := make(map[string]interface{})
		if rawJSON := toolCallJSON[len(result.ToolCalls)-1]; rawJSON != "" {
			_ = json.Unmarshal([]byte(rawJSON), &args)
		}
		b, _ := json.Marshal(map[string]interface{}{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": args})
		return b
	default:
		return nil
	}
}
