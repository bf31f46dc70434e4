package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skyefall/nanobot/internal/config"
)

func channelsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "channels",
		Short: "Inspect configured chat channels and approve pending pairings",
	}
	root.AddCommand(channelsStatusCmd())
	root.AddCommand(channelsLoginCmd())
	return root
}

func channelsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which channels are configured and enabled",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "load config:", err)
				os.Exit(1)
			}
			checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
			checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
		},
	}
}

// channelsLoginCmd approves a pending DM pairing code against the running
// gateway process — the pairing ledger lives only in that process's memory
// (channels.InMemoryPairingService), so this is a thin HTTP client, not a
// local state mutation.
func channelsLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <pairing-code>",
		Short: "Approve a pending pairing code from a chat channel (requires `nanobot gateway` running)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "load config:", err)
				os.Exit(1)
			}
			if err := approvePairing(cfg, args[0]); err != nil {
				fmt.Fprintln(os.Stderr, "approve pairing:", err)
				os.Exit(1)
			}
			fmt.Println("paired")
		},
	}
}

func approvePairing(cfg *config.Config, code string) error {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/pairing/approve", host, cfg.Gateway.Port)

	body, _ := json.Marshal(map[string]string{"code": code})
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.Token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is `nanobot gateway` running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
