package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skyefall/nanobot/internal/cron"
)

// CronTool is CRUD over CronJobs, delegating to the Cron Engine
// (spec.md §4.4).
type CronTool struct {
	engine *cron.Engine
}

func NewCronTool(engine *cron.Engine) *CronTool {
	return &CronTool{engine: engine}
}

func (t *CronTool) Name() string        { return "cron" }
func (t *CronTool) Description() string { return "Create, list, enable/disable, run, or remove scheduled jobs." }

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"add", "remove", "enable", "disable", "list", "run", "status"},
			},
			"id":   map[string]interface{}{"type": "string"},
			"name": map[string]interface{}{"type": "string"},
			"schedule": map[string]interface{}{
				"type":        "object",
				"description": `{"kind":"every","every_ms":N} | {"kind":"cron","expr":"* * * * *","tz":"..."} | {"kind":"at","at_ms":N}`,
			},
			"message":           map[string]interface{}{"type": "string"},
			"deliver":           map[string]interface{}{"type": "boolean"},
			"to":                map[string]interface{}{"type": "string"},
			"channel":           map[string]interface{}{"type": "string"},
			"enabled":           map[string]interface{}{"type": "boolean"},
			"include_disabled":  map[string]interface{}{"type": "boolean"},
			"force":             map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.engine == nil {
		return ErrorResult("cron engine not available")
	}

	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(args)
	case "remove":
		return t.remove(args)
	case "enable":
		return t.setEnabled(args, true)
	case "disable":
		return t.setEnabled(args, false)
	case "list":
		includeDisabled, _ := args["include_disabled"].(bool)
		jobs := t.engine.ListJobs(includeDisabled)
		return jsonResult(jobs)
	case "run":
		id, _ := args["id"].(string)
		if id == "" {
			return ErrorResult("id is required")
		}
		force, _ := args["force"].(bool)
		if err := t.engine.RunJob(ctx, id, force); err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(fmt.Sprintf(`{"status":"ran","id":"%s"}`, id))
	case "status":
		return jsonResult(t.engine.Status())
	default:
		return ErrorResult("unknown action: " + action)
	}
}

func (t *CronTool) add(args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult("name is required")
	}

	schedRaw, _ := args["schedule"].(map[string]interface{})
	if schedRaw == nil {
		return ErrorResult("schedule is required")
	}
	sched, err := parseSchedule(schedRaw)
	if err != nil {
		return ErrorResult(err.Error())
	}

	message, _ := args["message"].(string)
	deliver, _ := args["deliver"].(bool)
	to, _ := args["to"].(string)
	channel, _ := args["channel"].(string)
	enabled := true
	if v, ok := args["enabled"].(bool); ok {
		enabled = v
	}

	job, err := t.engine.AddJob(name, sched, cron.Payload{
		Message: message,
		Deliver: deliver,
		To:      to,
		Channel: channel,
	}, enabled)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(job)
}

func (t *CronTool) remove(args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	ok, err := t.engine.RemoveJob(id)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if !ok {
		return ErrorResult("job not found: " + id)
	}
	return SilentResult(fmt.Sprintf(`{"status":"removed","id":"%s"}`, id))
}

func (t *CronTool) setEnabled(args map[string]interface{}, enabled bool) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	ok, err := t.engine.EnableJob(id, enabled)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if !ok {
		return ErrorResult("job not found: " + id)
	}
	return SilentResult(fmt.Sprintf(`{"status":"ok","id":"%s","enabled":%v}`, id, enabled))
}

func parseSchedule(raw map[string]interface{}) (cron.Schedule, error) {
	kind, _ := raw["kind"].(string)
	switch cron.ScheduleKind(kind) {
	case cron.KindEvery:
		everyMS, _ := raw["every_ms"].(float64)
		return cron.Schedule{Kind: cron.KindEvery, EveryMS: int64(everyMS)}, nil
	case cron.KindCron:
		expr, _ := raw["expr"].(string)
		tz, _ := raw["tz"].(string)
		return cron.Schedule{Kind: cron.KindCron, Expr: expr, TZ: tz}, nil
	case cron.KindAt:
		atMS, _ := raw["at_ms"].(float64)
		return cron.Schedule{Kind: cron.KindAt, AtMS: int64(atMS)}, nil
	default:
		return cron.Schedule{}, fmt.Errorf("unknown schedule kind: %q", kind)
	}
}

func jsonResult(v interface{}) *Result {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return SilentResult(string(data))
}
