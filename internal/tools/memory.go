package tools

import (
	"context"
	"encoding/json"

	"github.com/skyefall/nanobot/internal/memory"
)

// MemoryTool exposes {remember, recall, forget} over the vector memory
// collaborator (spec.md §4.4).
type MemoryTool struct {
	store *memory.Store
}

func NewMemoryTool(store *memory.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string        { return "memory" }
func (t *MemoryTool) Description() string { return "Remember, recall, or forget long-term memory records." }

func (t *MemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"remember", "recall", "forget"},
			},
			"content":     map[string]interface{}{"type": "string"},
			"tag":         map[string]interface{}{"type": "string", "enum": []string{"core", "crucial", "default"}},
			"weight":      map[string]interface{}{"type": "number"},
			"categories":  map[string]interface{}{"type": "array"},
			"query":       map[string]interface{}{"type": "string"},
			"max_results": map[string]interface{}{"type": "number"},
			"min_score":   map[string]interface{}{"type": "number"},
			"id":          map[string]interface{}{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("memory store not available")
	}

	action, _ := args["action"].(string)
	switch action {
	case "remember":
		return t.remember(ctx, args)
	case "recall":
		return t.recall(args)
	case "forget":
		id, _ := args["id"].(string)
		if id == "" {
			return ErrorResult("id is required")
		}
		ok, err := t.store.Forget(id)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if !ok {
			return ErrorResult("record not found: " + id)
		}
		return SilentResult(`{"status":"forgotten"}`)
	default:
		return ErrorResult("unknown action: " + action)
	}
}

func (t *MemoryTool) remember(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}

	tag := memory.Tag(stringOr(args["tag"], string(memory.TagDefault)))
	weight, _ := args["weight"].(float64)

	var categories []string
	if raw, ok := args["categories"].([]interface{}); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				categories = append(categories, s)
			}
		}
	}

	rec, err := t.store.Remember(content, memory.Metadata{
		Tag:        tag,
		Weight:     weight,
		Categories: categories,
	})
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(rec)
}

func (t *MemoryTool) recall(args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	maxResults := 5
	if v, ok := args["max_results"].(float64); ok && int(v) > 0 {
		maxResults = int(v)
	}
	minScore, _ := args["min_score"].(float64)

	records := t.store.Recall(query, maxResults, minScore)
	data, err := json.Marshal(records)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult(string(data))
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
