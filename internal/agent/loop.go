// Package agent implements the single always-on agent's reason-act loop
// (SPEC_FULL.md §4.7/§4.7.1): one Loop per running process, draining the
// message bus, assembling context, calling the configured LLM provider,
// and executing tool calls serially until the model stops asking for one.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyefall/nanobot/internal/bus"
	"github.com/skyefall/nanobot/internal/config"
	contextmgr "github.com/skyefall/nanobot/internal/context"
	"github.com/skyefall/nanobot/internal/identity"
	"github.com/skyefall/nanobot/internal/mcp"
	"github.com/skyefall/nanobot/internal/memory"
	"github.com/skyefall/nanobot/internal/providers"
	"github.com/skyefall/nanobot/internal/skills"
	"github.com/skyefall/nanobot/internal/store"
	"github.com/skyefall/nanobot/internal/subagent"
	"github.com/skyefall/nanobot/internal/tools"
	"github.com/skyefall/nanobot/internal/tracing"
	"github.com/skyefall/nanobot/pkg/protocol"
)

// defaultMaxIterations bounds the reason-act cycle (spec.md §4.7.1
// IterationExhaustion) when LoopConfig.MaxIterations is unset.
const defaultMaxIterations = 20

// defaultContextWindow is used when LoopConfig.ContextWindow is unset.
const defaultContextWindow = 200000

// defaultMaxMessageChars bounds inbound message size before it reaches the
// provider (spec.md §7 ValidationFailure).
const defaultMaxMessageChars = 32000

// Loop is the single agent instance's execution loop: one per running
// process (SPEC_FULL.md §1 Non-goals exclude multi-tenant isolation).
type Loop struct {
	id            string
	providers     *providers.Registry
	providerName  string
	model         string
	contextWindow int
	maxTokens     int
	temperature   float64
	maxIterations int
	workspace     string

	sessions   store.SessionStore
	tools      *tools.Registry
	toolPolicy *tools.PolicyEngine

	identityMgr *identity.Manager
	memoryStore *memory.Store
	memoryCfg   *config.MemoryConfig
	memoryDir   string
	skills      *skills.Loader

	summarizer        contextmgr.Summarizer
	compactionCfg     *config.CompactionConfig
	contextPruningCfg *config.ContextPruningConfig

	msgBus     OutboundPublisher
	mcp        *mcp.Manager
	mcpOnce    bool // set true once a lazy-connect attempt succeeds
	subagents  *subagent.Manager
	collector  *tracing.Collector
	onEvent    func(event AgentEvent)
	inputGuard *InputGuard

	injectionAction string
	maxMessageChars int
}

// OutboundPublisher is the narrow bus surface the loop needs to deliver
// its final reply (spec.md §4.2 MessageBus).
type OutboundPublisher interface {
	PublishOutbound(msg bus.OutboundMessage)
}

// AgentEvent is emitted for each turn milestone so a control-plane
// websocket (internal/gateway) can stream live status (SPEC_FULL.md §4.7).
type AgentEvent struct {
	Type    string      `json:"type"` // run.started, tool.call, tool.result, run.completed, run.failed
	AgentID string      `json:"agentId"`
	RunID   string      `json:"runId"`
	Payload interface{} `json:"payload,omitempty"`
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Providers     *providers.Registry
	ProviderName  string
	Model         string
	ContextWindow int
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	Workspace     string

	Sessions   store.SessionStore
	Tools      *tools.Registry
	ToolPolicy *tools.PolicyEngine

	IdentityMgr *identity.Manager
	MemoryStore *memory.Store
	MemoryCfg   *config.MemoryConfig
	MemoryDir   string
	Skills      *skills.Loader

	Summarizer        contextmgr.Summarizer
	CompactionCfg     *config.CompactionConfig
	ContextPruningCfg *config.ContextPruningConfig

	Bus       OutboundPublisher
	MCP       *mcp.Manager
	Collector *tracing.Collector
	OnEvent   func(AgentEvent)

	InjectionAction string
	MaxMessageChars int
}

// NewLoop constructs a Loop. Subagent wiring happens afterward via
// SetSubagentManager, since the subagent.Manager's RunFunc closes over
// this Loop (see subagent_run.go) and would otherwise create a
// construction cycle.
func NewLoop(cfg LoopConfig) *Loop {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	contextWindow := cfg.ContextWindow
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}

	action := cfg.InjectionAction
	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}
	var guard *InputGuard
	if action != "off" {
		guard = NewInputGuard()
	}

	maxMessageChars := cfg.MaxMessageChars
	if maxMessageChars <= 0 {
		maxMessageChars = defaultMaxMessageChars
	}

	return &Loop{
		id:                cfg.ID,
		providers:         cfg.Providers,
		providerName:      cfg.ProviderName,
		model:             cfg.Model,
		contextWindow:     contextWindow,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		maxIterations:     maxIter,
		workspace:         cfg.Workspace,
		sessions:          cfg.Sessions,
		tools:             cfg.Tools,
		toolPolicy:        cfg.ToolPolicy,
		identityMgr:       cfg.IdentityMgr,
		memoryStore:       cfg.MemoryStore,
		memoryCfg:         cfg.MemoryCfg,
		memoryDir:         cfg.MemoryDir,
		skills:            cfg.Skills,
		summarizer:        cfg.Summarizer,
		compactionCfg:     cfg.CompactionCfg,
		contextPruningCfg: cfg.ContextPruningCfg,
		msgBus:            cfg.Bus,
		mcp:               cfg.MCP,
		collector:         cfg.Collector,
		onEvent:           cfg.OnEvent,
		inputGuard:        guard,
		injectionAction:   action,
		maxMessageChars:   maxMessageChars,
	}
}

// SetSubagentManager wires the subagent manager after construction (see
// NewLoop's doc comment).
func (l *Loop) SetSubagentManager(m *subagent.Manager) { l.subagents = m }

// RunRequest is one turn's input.
type RunRequest struct {
	SessionKey   string
	Message      string
	Media        []string
	Channel      string
	ChatID       string
	PeerKind     string
	RunID        string
	SenderID     string // author identity key, used for trust-level lookup
	HistoryLimit int
}

// RunResult is one turn's output.
type RunResult struct {
	Content    string
	RunID      string
	Iterations int
	Usage      providers.Usage
}

// ID returns the agent's identifier.
func (l *Loop) ID() string { return l.id }

// Model returns the configured model identifier.
func (l *Loop) Model() string { return l.model }

func (l *Loop) emit(event AgentEvent) {
	if l.onEvent != nil {
		l.onEvent(event)
	}
}

// Run executes one full turn: lazily connects MCP servers, assembles
// context, runs the reason-act cycle to completion, persists the
// session, and publishes the reply (spec.md §4.7 steps 1-8).
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.emit(AgentEvent{Type: protocol.AgentEventRunStarted, AgentID: l.id, RunID: req.RunID})

	var span trace.Span
	if l.collector != nil {
		ctx, span = l.collector.StartSpan(ctx, "agent.turn",
			attribute.String("session_key", req.SessionKey),
			attribute.String("channel", req.Channel),
		)
	}

	start := time.Now()
	result, err := l.runTurn(ctx, req)
	dur := time.Since(start)

	if span != nil {
		tracing.EndSpan(span, err, attribute.Int64("duration_ms", dur.Milliseconds()))
	}

	if err != nil {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunFailed,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{"error": err.Error()},
		})
		return nil, err
	}

	l.emit(AgentEvent{Type: protocol.AgentEventRunCompleted, AgentID: l.id, RunID: req.RunID})
	return result, nil
}

// runTurn is the body of the 8-step turn procedure (spec.md §4.7):
//  1. lazily connect configured MCP servers
//  2. resolve the identity snapshot
//  3. load session history, applying the history limit
//  4. compact the session if it has grown past its window
//  5. recall long-term and today's memory context
//  6. assemble the system + history + user messages
//  7. run the reason-act cycle (step-by-step tool execution)
//  8. persist the turn and publish the reply
func (l *Loop) runTurn(ctx context.Context, req RunRequest) (*RunResult, error) {
	if len(req.Message) > l.maxMessageChars {
		req.Message = req.Message[:l.maxMessageChars]
	}
	if l.inputGuard != nil {
		req.Message = l.inputGuard.Scan(req.Message, l.injectionAction)
	}

	// Step 1: lazy MCP connect, once, non-fatal.
	if l.mcp != nil && !l.mcpOnce {
		l.mcpOnce = true
		if err := l.mcp.Start(ctx); err != nil {
			slog.Warn("agent: mcp start failed, will retry on next message", "error", err)
			l.mcpOnce = false
		}
	}

	// Step 2: identity snapshot.
	var snap *identity.IdentitySnapshot
	if l.identityMgr != nil {
		snap = l.identityMgr.Current()
	}

	// Step 3: session history.
	l.sessions.GetOrCreate(req.SessionKey)
	historyLimit := req.HistoryLimit
	history := l.sessions.GetHistory(req.SessionKey, 0)
	history = limitHistoryTurns(history, historyLimit)
	history = sanitizeHistory(history)

	// Step 4: compact if needed.
	provider, err := l.providers.Get(l.providerName)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve provider %q: %w", l.providerName, err)
	}
	model := l.modelOrDefault(provider)
	if compacted, didCompact := contextmgr.CompactIfNeeded(
		ctx, history, l.contextWindow, l.maxTokens, 0.75,
		l.keepLastMessages(), model, l.summarizer,
	); didCompact {
		history = compacted
		l.sessions.IncrementCompaction(req.SessionKey)
	}

	// Step 5: memory recall.
	longTerm, today := l.loadMemoryContext()
	if l.memoryStore != nil && l.memoryEnabled() {
		if recalled := l.recallMemory(req.Message); recalled != "" {
			if longTerm != "" {
				longTerm += "\n"
			}
			longTerm += recalled
		}
	}

	// Step 6: assemble messages.
	var skillNames []string
	skillBodies := map[string]string{}
	if l.skills != nil {
		if sf, err := l.skills.Load(); err == nil {
			skillNames = skills.Names(sf)
			skillBodies = skills.BodiesByName(sf)
		}
	}

	messages := contextmgr.BuildMessages(contextmgr.BuildOpts{
		History:        history,
		Current:        req.Message,
		Author:         req.SenderID,
		Channel:        req.Channel,
		ChatID:         req.ChatID,
		Media:          req.Media,
		SkillNames:     skillNames,
		MaxTokens:      l.maxTokens,
		Model:          model,
		Snapshot:       snap,
		Workspace:      l.workspace,
		Runtime:        "go",
		Skills:         skillBodies,
		LongTermMemory: longTerm,
		TodayMemory:    today,
		SessionKey:     req.SessionKey,
	})

	images := loadImages(req.Media)
	if len(images) > 0 {
		ctx = tools.WithMediaImages(ctx, images)
	}
	ctx = tools.WithToolWorkspace(ctx, l.workspace)

	// Step 7: reason-act cycle.
	sentInTurn := false
	ctx = tools.WithToolSentInTurnFlag(ctx, &sentInTurn)
	content, toolCalls, usage, err := l.reasonAct(ctx, provider, model, messages, req)
	if err != nil {
		return nil, err
	}

	content = SanitizeAssistantContent(content)
	silent := sentInTurn || IsSilentReply(content)

	// Step 8: persist and publish.
	l.sessions.AddMessage(req.SessionKey, providers.Message{Role: "user", Content: req.Message, Timestamp: time.Now()})
	l.sessions.AddMessage(req.SessionKey, providers.Message{Role: "assistant", Content: content, Timestamp: time.Now()})
	l.sessions.AccumulateTokens(req.SessionKey, int64(usage.PromptTokens), int64(usage.CompletionTokens))
	if err := l.sessions.Save(req.SessionKey); err != nil {
		slog.Warn("agent: session save failed", "session", req.SessionKey, "error", err)
	}

	if !silent && content != "" && l.msgBus != nil {
		l.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: req.Channel,
			ChatID:  req.ChatID,
			Content: content,
		})
	}

	return &RunResult{Content: content, RunID: req.RunID, Iterations: toolCalls, Usage: usage}, nil
}

func (l *Loop) modelOrDefault(p providers.Provider) string {
	if l.model != "" {
		return l.model
	}
	return p.DefaultModel()
}

func (l *Loop) keepLastMessages() int {
	if l.compactionCfg != nil && l.compactionCfg.KeepLastMessages > 0 {
		return l.compactionCfg.KeepLastMessages
	}
	return 4
}

func (l *Loop) memoryEnabled() bool {
	return l.memoryCfg == nil || l.memoryCfg.Enabled == nil || *l.memoryCfg.Enabled
}

func (l *Loop) recallMemory(query string) string {
	maxResults := 5
	minScore := 0.0
	if l.memoryCfg != nil {
		if l.memoryCfg.MaxResults > 0 {
			maxResults = l.memoryCfg.MaxResults
		}
		minScore = l.memoryCfg.MinScore
	}
	records := l.memoryStore.Recall(query, maxResults, minScore)
	if len(records) == 0 {
		return ""
	}
	var out string
	for _, r := range records {
		out += "- " + r.Content + "\n"
	}
	return out
}
