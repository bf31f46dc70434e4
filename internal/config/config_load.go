package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultAgentWorkspace is the workspace directory used when none is configured.
const DefaultAgentWorkspace = "~/.nanobot/workspace"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:           DefaultAgentWorkspace,
			RestrictToWorkspace: true,
			Provider:            "anthropic",
			Model:               "claude-sonnet-4-5-20250929",
			MaxTokens:           8192,
			Temperature:         0.7,
			MaxToolIterations:   20,
			ContextWindow:       200000,
			Subagents: &SubagentsConfig{
				MaxConcurrent: 20,
				MaxSpawnDepth: 1,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "off",
				ReactionLevel: "off",
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{
				Enabled:  false,
				Headless: true,
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		Sessions: SessionsConfig{
			Storage: "~/.nanobot/sessions",
		},
		Cron: CronConfig{
			MaxRetries:     3,
			RetryBaseDelay: "10s",
			RetryMaxDelay:  "5m",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyContextPruningDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyContextPruningDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("NANOBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("NANOBOT_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("NANOBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("NANOBOT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("NANOBOT_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("NANOBOT_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("NANOBOT_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("NANOBOT_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("NANOBOT_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("NANOBOT_MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("NANOBOT_COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("NANOBOT_PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)
	envStr("NANOBOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("NANOBOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("NANOBOT_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Auto-enable channels if credentials are provided via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Allow overriding default provider/model.
	envStr("NANOBOT_PROVIDER", &c.Agent.Provider)
	envStr("NANOBOT_MODEL", &c.Agent.Model)

	// Workspace & sessions.
	envStr("NANOBOT_WORKSPACE", &c.Agent.Workspace)
	envStr("NANOBOT_SESSIONS_STORAGE", &c.Sessions.Storage)

	// Gateway host/port.
	envStr("NANOBOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("NANOBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Telemetry.
	envStr("NANOBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("NANOBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("NANOBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("NANOBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NANOBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Owner IDs from env (comma-separated).
	if v := os.Getenv("NANOBOT_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}
}

// applyContextPruningDefaults auto-enables context pruning when the Anthropic
// provider is configured, since prompt-cache-aware pruning only pays off
// against a provider that actually bills for cache reads.
func (c *Config) applyContextPruningDefaults() {
	if c.Providers.Anthropic.APIKey == "" {
		return
	}

	if c.Agent.ContextPruning == nil {
		c.Agent.ContextPruning = &ContextPruningConfig{
			Mode: "cache-ttl",
		}
	} else if c.Agent.ContextPruning.Mode == "" {
		c.Agent.ContextPruning.Mode = "cache-ttl"
	}
}

// Save writes the config to disk atomically (temp file + rename), matching
// the write idiom used for session archives.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyContextPruningDefaults()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
