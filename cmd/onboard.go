package cmd

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skyefall/nanobot/internal/config"
)

// providerPriority is the order auto-detection checks for an env-configured
// API key (first match wins), matching registerProviders' resolution order.
var providerPriority = []string{
	"anthropic", "openai", "openrouter", "groq", "deepseek",
	"gemini", "mistral", "xai", "minimax", "cohere", "perplexity",
}

var providerModelHints = map[string]string{
	"anthropic":  "claude-sonnet-4-5-20250929",
	"openai":     "gpt-4.1",
	"openrouter": "anthropic/claude-sonnet-4.5",
	"groq":       "llama-3.3-70b-versatile",
	"deepseek":   "deepseek-chat",
	"gemini":     "gemini-2.5-pro",
	"mistral":    "mistral-large-latest",
	"xai":        "grok-4",
	"minimax":    "MiniMax-M1",
	"cohere":     "command-a-03-2025",
	"perplexity": "sonar-pro",
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Create a workspace and config.json, auto-detecting a provider from the environment",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s — remove it first to re-onboard.\n", cfgPath)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	provider, hasKey := detectProvider(cfg)
	if provider == "" {
		provider = promptProvider()
		if provider == "" {
			fmt.Println("No provider selected. Set a NANOBOT_<PROVIDER>_API_KEY env var and re-run, or edit config.json by hand.")
			os.Exit(1)
		}
	}
	cfg.Agent.Provider = provider
	if hint, ok := providerModelHints[provider]; ok {
		cfg.Agent.Model = hint
	}
	fmt.Printf("  Provider: %s (model: %s)\n", provider, cfg.Agent.Model)
	if !hasKey {
		fmt.Printf("  No NANOBOT_%s_API_KEY found in env — add one before running `nanobot gateway`.\n", strings.ToUpper(provider))
	}

	if cfg.Gateway.Token == "" {
		token, err := randomToken(16)
		if err == nil {
			cfg.Gateway.Token = token
			fmt.Println("  Gateway token: generated (stored in config.json)")
		}
	}

	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		fmt.Fprintln(os.Stderr, "create workspace:", err)
		os.Exit(1)
	}
	fmt.Printf("  Workspace: %s\n", workspace)

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "save config:", err)
		os.Exit(1)
	}
	fmt.Printf("  Config saved to %s\n", cfgPath)

	fmt.Println()
	fmt.Println("Onboarding complete. Run `nanobot status` to verify, then `nanobot gateway` to start.")
}

// detectProvider returns the configured agent provider if it has an API key,
// otherwise the first provider in providerPriority that has one, and whether
// a key was actually found.
func detectProvider(cfg *config.Config) (string, bool) {
	if cfg.Agent.Provider != "" && resolveProviderAPIKey(cfg, cfg.Agent.Provider) != "" {
		return cfg.Agent.Provider, true
	}
	for _, name := range providerPriority {
		if resolveProviderAPIKey(cfg, name) != "" {
			return name, true
		}
	}
	return "", false
}

func resolveProviderAPIKey(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	case "groq":
		return cfg.Providers.Groq.APIKey
	case "deepseek":
		return cfg.Providers.DeepSeek.APIKey
	case "gemini":
		return cfg.Providers.Gemini.APIKey
	case "mistral":
		return cfg.Providers.Mistral.APIKey
	case "xai":
		return cfg.Providers.XAI.APIKey
	case "minimax":
		return cfg.Providers.MiniMax.APIKey
	case "cohere":
		return cfg.Providers.Cohere.APIKey
	case "perplexity":
		return cfg.Providers.Perplexity.APIKey
	}
	return ""
}

func promptProvider() string {
	fmt.Println("No provider API key found in the environment.")
	fmt.Printf("Pick one to configure (will still need NANOBOT_<NAME>_API_KEY set): %s\n", strings.Join(providerPriority, ", "))
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return ""
	}
	choice := strings.ToLower(strings.TrimSpace(scanner.Text()))
	for _, name := range providerPriority {
		if name == choice {
			return name
		}
	}
	return ""
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
