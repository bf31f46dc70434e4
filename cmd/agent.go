package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skyefall/nanobot/internal/agent"
	"github.com/skyefall/nanobot/internal/config"
	"github.com/skyefall/nanobot/internal/sessions"
)

func agentCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
	)
	c := &cobra.Command{
		Use:   "agent",
		Short: "Send one message to the agent and print its reply (or start an interactive REPL with no -m)",
		Run: func(cmd *cobra.Command, args []string) {
			runAgentOnce(message, sessionKey)
		},
	}
	c.Flags().StringVarP(&message, "message", "m", "", "message to send; omit for an interactive REPL")
	c.Flags().StringVarP(&sessionKey, "session", "s", "cli:local", "session key to use")
	return c
}

func runAgentOnce(message, sessionKey string) {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if !cfg.HasAnyProvider() {
		fmt.Fprintln(os.Stderr, "no AI provider API key configured; run `nanobot onboard` first")
		os.Exit(1)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build runtime:", err)
		os.Exit(1)
	}
	defer rt.shutdown(context.Background())

	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey("cli", "local")
	}

	if message != "" {
		printReply(rt, sessionKey, message)
		return
	}

	fmt.Println("nanobot interactive session — Ctrl+D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		printReply(rt, sessionKey, line)
	}
}

func printReply(rt *runtime, sessionKey, message string) {
	result, err := rt.loop.Run(context.Background(), agent.RunRequest{
		SessionKey: sessionKey,
		Message:    message,
		Channel:    "cli",
		ChatID:     "local",
		PeerKind:   "direct",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Println(result.Content)
}
