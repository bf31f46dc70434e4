package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skyefall/nanobot/internal/agent"
	"github.com/skyefall/nanobot/internal/bus"
	"github.com/skyefall/nanobot/internal/channels"
	"github.com/skyefall/nanobot/internal/channels/discord"
	"github.com/skyefall/nanobot/internal/channels/telegram"
	"github.com/skyefall/nanobot/internal/config"
	"github.com/skyefall/nanobot/internal/cron"
	"github.com/skyefall/nanobot/internal/dailysummary"
	"github.com/skyefall/nanobot/internal/gateway"
	"github.com/skyefall/nanobot/internal/heartbeat"
	"github.com/skyefall/nanobot/internal/identity"
	mcpbridge "github.com/skyefall/nanobot/internal/mcp"
	"github.com/skyefall/nanobot/internal/memory"
	"github.com/skyefall/nanobot/internal/providers"
	"github.com/skyefall/nanobot/internal/sessions"
	"github.com/skyefall/nanobot/internal/skills"
	"github.com/skyefall/nanobot/internal/store"
	filestore "github.com/skyefall/nanobot/internal/store/file"
	"github.com/skyefall/nanobot/internal/subagent"
	"github.com/skyefall/nanobot/internal/summarizer"
	"github.com/skyefall/nanobot/internal/tools"
	"github.com/skyefall/nanobot/internal/tracing"
)

// runtime bundles every long-lived collaborator the gateway/agent/cron
// commands share, assembled once from config (SPEC_FULL.md §6).
type runtime struct {
	cfg *config.Config

	msgBus      *bus.MessageBus
	providerReg *providers.Registry
	identityMgr *identity.Manager
	sessions    store.SessionStore
	memoryStore *memory.Store
	toolsReg    *tools.Registry
	policy      *tools.PolicyEngine
	mcpMgr      *mcpbridge.Manager
	skillsLdr   *skills.Loader
	subagentMgr *subagent.Manager
	collector   *tracing.Collector
	shutdownOT  func(context.Context) error
	loop        *agent.Loop
	channelMgr  *channels.Manager
	pairingSvc  channels.PairingService
	cronEngine  *cron.Engine
	heartbeat   *heartbeat.Service
	dailySum    *dailysummary.Service
	gw          *gateway.Server

	workspace string
}

// buildRuntime wires every component once, in this order: workspace, bus,
// providers, identity, sessions, memory, tools, MCP, skills, cron, tracing,
// the agent loop, subagents, then channels/heartbeat/daily summary/gateway.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if !filepath.IsAbs(workspace) {
		abs, err := filepath.Abs(workspace)
		if err == nil {
			workspace = abs
		}
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	rt.workspace = workspace

	rt.msgBus = bus.NewMessageBus()

	rt.providerReg = providers.NewRegistry()
	registerProviders(rt.providerReg, cfg)

	identityMgr, err := identity.NewManager(workspace)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	rt.identityMgr = identityMgr

	sessMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))
	rt.sessions = filestore.NewSessionStore(sessMgr)

	if cfg.Agent.Memory == nil || cfg.Agent.Memory.Enabled == nil || *cfg.Agent.Memory.Enabled {
		memPath := filepath.Join(workspace, "memory.jsonl")
		memStore, err := memory.Open(memPath)
		if err != nil {
			slog.Warn("memory store unavailable, continuing without it", "error", err)
		} else {
			rt.memoryStore = memStore
		}
	}

	rt.toolsReg = tools.NewRegistry()
	restrict := cfg.Agent.RestrictToWorkspace
	rt.toolsReg.Register(tools.NewReadFileTool(workspace, restrict))
	rt.toolsReg.Register(tools.NewExecTool(workspace, restrict))
	rt.toolsReg.Register(tools.NewSessionsListTool())
	rt.toolsReg.Register(tools.NewSessionsHistoryTool())
	rt.toolsReg.Register(tools.NewSessionsSendTool())
	rt.toolsReg.Register(tools.NewSessionStatusTool())
	rt.toolsReg.Register(tools.NewMessageTool(rt.msgBus))
	rt.toolsReg.Register(tools.NewReadImageTool(rt.providerReg))
	rt.toolsReg.Register(tools.NewCreateImageTool(rt.providerReg))

	if ws := cfg.Tools.Web; ws.Brave.Enabled || ws.DuckDuckGo.Enabled {
		if t := tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveEnabled: ws.Brave.Enabled,
			BraveAPIKey:  ws.Brave.APIKey,
			DDGEnabled:   ws.DuckDuckGo.Enabled,
		}); t != nil {
			rt.toolsReg.Register(t)
		}
	}
	rt.toolsReg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	if rt.memoryStore != nil {
		rt.toolsReg.Register(tools.NewMemoryTool(rt.memoryStore))
	}

	rt.policy = tools.NewPolicyEngine(&cfg.Tools)

	if len(cfg.Tools.McpServers) > 0 {
		rt.mcpMgr = mcpbridge.NewManager(rt.toolsReg, mcpbridge.WithConfigs(cfg.Tools.McpServers))
	}

	rt.skillsLdr = skills.NewLoader(workspace)

	cronPath := filepath.Join(workspace, "cron", "jobs.json")
	rt.cronEngine, err = cron.NewEngine(cronPath, rt.msgBus, rt.runCronJob)
	if err != nil {
		return nil, fmt.Errorf("cron engine: %w", err)
	}
	rt.toolsReg.Register(tools.NewCronTool(rt.cronEngine))

	var traceCollector *tracing.Collector
	if cfg.Telemetry.Enabled {
		collector, shutdown, err := tracing.InitProvider(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure)
		if err != nil {
			slog.Warn("telemetry init failed, continuing without spans", "error", err)
		} else {
			traceCollector = collector
			rt.shutdownOT = shutdown
		}
	}
	rt.collector = traceCollector

	summarizerProvider, err := rt.providerReg.Get(cfg.Agent.Provider)
	if err != nil {
		slog.Warn("summarizer: configured provider unavailable, session compaction/daily summaries will fail until one is", "provider", cfg.Agent.Provider, "error", err)
	}
	summarizerSvc := summarizer.NewService(summarizerProvider, cfg.Agent.Model)

	memoryDir := filepath.Join(workspace, "memory")

	loopCfg := agent.LoopConfig{
		ID:                "default",
		Providers:         rt.providerReg,
		ProviderName:      cfg.Agent.Provider,
		Model:             cfg.Agent.Model,
		ContextWindow:     cfg.Agent.ContextWindow,
		MaxTokens:         cfg.Agent.MaxTokens,
		Temperature:       cfg.Agent.Temperature,
		MaxIterations:     cfg.Agent.MaxToolIterations,
		Workspace:         workspace,
		Sessions:          rt.sessions,
		Tools:             rt.toolsReg,
		ToolPolicy:        rt.policy,
		IdentityMgr:       rt.identityMgr,
		MemoryStore:       rt.memoryStore,
		MemoryCfg:         cfg.Agent.Memory,
		MemoryDir:         memoryDir,
		Skills:            rt.skillsLdr,
		Summarizer:        summarizerSvc,
		CompactionCfg:     cfg.Agent.Compaction,
		ContextPruningCfg: cfg.Agent.ContextPruning,
		Bus:               rt.msgBus,
		MCP:               rt.mcpMgr,
		Collector:         rt.collector,
		OnEvent: func(e agent.AgentEvent) {
			if rt.gw != nil {
				rt.gw.Broadcast(e)
			}
		},
		InjectionAction:   cfg.Gateway.InjectionAction,
		MaxMessageChars:   cfg.Gateway.MaxMessageChars,
	}
	rt.loop = agent.NewLoop(loopCfg)

	if cfg.Agent.Subagents != nil {
		subCfg := subagent.Config{
			MaxConcurrent:       cfg.Agent.Subagents.MaxConcurrent,
			MaxSpawnDepth:       cfg.Agent.Subagents.MaxSpawnDepth,
			MaxChildrenPerAgent: cfg.Agent.Subagents.MaxChildrenPerAgent,
			Model:               cfg.Agent.Model,
		}
		rt.subagentMgr = subagent.NewManager(subCfg, rt.msgBus, rt.loop.RunSubagentTask, rt.collector)
		rt.loop.SetSubagentManager(rt.subagentMgr)
		rt.toolsReg.Register(tools.NewSpawnTool(rt.subagentMgr, rt.sessions))
	}

	rt.channelMgr = channels.NewManager(rt.msgBus)
	rt.pairingSvc = channels.NewInMemoryPairingService()

	var heartbeatInterval time.Duration
	if cfg.Agent.Heartbeat != nil && cfg.Agent.Heartbeat.Every != "" {
		if d, err := time.ParseDuration(cfg.Agent.Heartbeat.Every); err == nil {
			heartbeatInterval = d
		}
	}
	rt.heartbeat = heartbeat.NewService(workspace, heartbeatInterval, rt.runHeartbeat)

	const defaultDailySummaryHour = 2
	rt.dailySum = dailysummary.NewService(rt.sessions, summarizerSvc, rt.memoryStore, memoryDir, defaultDailySummaryHour)

	rt.gw = gateway.NewServer(&cfg.Gateway, rt.msgBus, rt.loop, rt.sessions, rt.toolsReg)
	rt.gw.SetPairingService(rt.pairingSvc)

	return rt, nil
}

func (rt *runtime) runCronJob(ctx context.Context, job cron.Job) (string, error) {
	res, err := rt.loop.Run(ctx, agent.RunRequest{
		SessionKey: sessions.BuildTopicSessionKey("cron", job.ID, 0),
		Message:    job.Payload.Message,
		Channel:    "system",
		ChatID:     job.Payload.To,
		PeerKind:   "system",
		RunID:      job.ID,
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (rt *runtime) runHeartbeat(ctx context.Context, prompt string) (string, error) {
	res, err := rt.loop.Run(ctx, agent.RunRequest{
		SessionKey: sessions.BuildTopicSessionKey("system", "heartbeat", 0),
		Message:    prompt,
		Channel:    "system",
		ChatID:     "heartbeat",
		PeerKind:   "system",
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// attachChannels constructs and registers the configured chat channels on
// rt.channelMgr. Channel constructors dial out (bot token validation, etc.),
// so this is only ever called from the long-lived gateway command, never
// from the one-shot agent/cron commands that share buildRuntime.
func attachChannels(rt *runtime, cfg *config.Config) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, rt.msgBus, rt.pairingSvc)
		if err != nil {
			slog.Warn("telegram channel unavailable", "error", err)
		} else {
			rt.channelMgr.RegisterChannel("telegram", ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, rt.msgBus, rt.pairingSvc)
		if err != nil {
			slog.Warn("discord channel unavailable", "error", err)
		} else {
			rt.channelMgr.RegisterChannel("discord", ch)
		}
	}
}

// shutdown releases every long-lived collaborator in reverse startup order.
func (rt *runtime) shutdown(ctx context.Context) {
	if rt.cronEngine != nil {
		rt.cronEngine.Stop()
	}
	if rt.channelMgr != nil {
		_ = rt.channelMgr.StopAll(ctx)
	}
	if rt.mcpMgr != nil {
		rt.mcpMgr.Stop()
	}
	if rt.shutdownOT != nil {
		_ = rt.shutdownOT(ctx)
	}
}
