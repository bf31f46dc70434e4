package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skyefall/nanobot/internal/agent"
	"github.com/skyefall/nanobot/internal/bus"
	"github.com/skyefall/nanobot/internal/config"
	"github.com/skyefall/nanobot/internal/sessions"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the long-lived agent process: channels, cron, heartbeat, and the control-plane gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.HasAnyProvider() {
		fmt.Println("No AI provider API key configured. Run `nanobot onboard` or set a provider env var (e.g. NANOBOT_ANTHROPIC_API_KEY).")
		os.Exit(1)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		slog.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	attachChannels(rt, cfg)

	if err := rt.channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	rt.cronEngine.Start(ctx)
	go rt.heartbeat.Run(ctx)
	go rt.dailySum.Run(ctx)

	go func() {
		if err := rt.gw.Start(ctx); err != nil {
			slog.Error("gateway server stopped", "error", err)
		}
	}()

	go consumeInbound(ctx, rt)

	go func() {
		for range hupCh {
			slog.Info("reloading identity and MCP connections")
			if err := rt.identityMgr.Reload(); err != nil {
				slog.Warn("identity reload failed", "error", err)
			}
			if rt.mcpMgr != nil {
				if err := rt.mcpMgr.Reload(ctx); err != nil {
					slog.Warn("mcp reload failed", "error", err)
				}
			}
		}
	}()

	slog.Info("nanobot gateway started",
		"version", Version,
		"model", rt.cfg.Agent.Model,
		"tools", rt.toolsReg.List(),
		"channels", rt.channelMgr.GetEnabledChannels(),
	)

	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	rt.shutdown(context.Background())
	cancel()
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// consumeInbound drains the message bus's inbound queue and runs each
// message through the agent loop, publishing the reply back out via the
// bus (spec.md §4.2's channel → bus → agent → bus → channel path).
func consumeInbound(ctx context.Context, rt *runtime) {
	for {
		msg, ok := rt.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		handleInbound(ctx, rt, msg)
	}
}

func handleInbound(ctx context.Context, rt *runtime, msg bus.InboundMessage) {
	sessionKey := sessions.BuildSessionKey(msg.Channel, msg.ChatID)
	if msg.Metadata["command"] == "reset" {
		rt.sessions.Reset(sessionKey)
		return
	}
	_, err := rt.loop.Run(ctx, agent.RunRequest{
		SessionKey:   sessionKey,
		Message:      msg.Content,
		Media:        msg.Media,
		Channel:      msg.Channel,
		ChatID:       msg.ChatID,
		PeerKind:     msg.PeerKind,
		SenderID:     msg.SenderID,
		HistoryLimit: msg.HistoryLimit,
	})
	if err != nil {
		slog.Error("agent run failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}
