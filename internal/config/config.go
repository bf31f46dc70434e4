package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON allow-lists.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the agent runtime. There is exactly
// one agent per running process (SPEC_FULL.md §1 Non-goals exclude
// multi-tenant isolation); Agent holds its defaults directly rather than a
// per-agent override map.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Sessions  SessionsConfig  `json:"sessions"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig holds the single agent's runtime settings.
type AgentConfig struct {
	Workspace           string                `json:"workspace"`
	RestrictToWorkspace bool                  `json:"restrict_to_workspace"`
	Provider            string                `json:"provider"`
	Model               string                `json:"model"`
	MaxTokens           int                   `json:"max_tokens"`
	Temperature         float64               `json:"temperature"`
	MaxToolIterations   int                   `json:"max_tool_iterations"`
	ContextWindow       int                   `json:"context_window"`
	Identity            IdentityConfig        `json:"identity,omitempty"`
	Subagents           *SubagentsConfig      `json:"subagents,omitempty"`
	Memory              *MemoryConfig         `json:"memory,omitempty"`
	Compaction          *CompactionConfig     `json:"compaction,omitempty"`
	ContextPruning      *ContextPruningConfig `json:"contextPruning,omitempty"`
	Heartbeat           *HeartbeatConfig      `json:"heartbeat,omitempty"`

	BootstrapMaxChars      int `json:"bootstrapMaxChars,omitempty"`
	BootstrapTotalMaxChars int `json:"bootstrapTotalMaxChars,omitempty"`
}

// CompactionConfig configures session compaction behaviour (SPEC_FULL.md §4.6).
type CompactionConfig struct {
	ReserveTokensFloor int                `json:"reserveTokensFloor,omitempty"`
	MaxHistoryShare    float64            `json:"maxHistoryShare,omitempty"`
	MinMessages        int                `json:"minMessages,omitempty"`
	KeepLastMessages   int                `json:"keepLastMessages,omitempty"`
	MemoryFlush        *MemoryFlushConfig `json:"memoryFlush,omitempty"`
}

// MemoryFlushConfig configures the pre-compaction memory flush.
type MemoryFlushConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	SoftThresholdTokens int    `json:"softThresholdTokens,omitempty"`
	Prompt              string `json:"prompt,omitempty"`
	SystemPrompt        string `json:"systemPrompt,omitempty"`
}

// ContextPruningConfig configures in-memory trimming of old tool results.
type ContextPruningConfig struct {
	Mode                 string                   `json:"mode,omitempty"`
	KeepLastAssistants   int                      `json:"keepLastAssistants,omitempty"`
	SoftTrimRatio        float64                  `json:"softTrimRatio,omitempty"`
	HardClearRatio       float64                  `json:"hardClearRatio,omitempty"`
	MinPrunableToolChars int                      `json:"minPrunableToolChars,omitempty"`
	SoftTrim             *ContextPruningSoftTrim  `json:"softTrim,omitempty"`
	HardClear            *ContextPruningHardClear `json:"hardClear,omitempty"`
}

type ContextPruningSoftTrim struct {
	MaxChars  int `json:"maxChars,omitempty"`
	HeadChars int `json:"headChars,omitempty"`
	TailChars int `json:"tailChars,omitempty"`
}

type ContextPruningHardClear struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// HeartbeatConfig configures periodic agent self-pokes (SPEC_FULL.md §4.10).
type HeartbeatConfig struct {
	Every       string             `json:"every,omitempty"`
	ActiveHours *ActiveHoursConfig `json:"activeHours,omitempty"`
	Model       string             `json:"model,omitempty"`
	Session     string             `json:"session,omitempty"`
	Target      string             `json:"target,omitempty"`
	To          string             `json:"to,omitempty"`
	Prompt      string             `json:"prompt,omitempty"`
	AckMaxChars int                `json:"ackMaxChars,omitempty"`
}

type ActiveHoursConfig struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// MemoryConfig configures the agent's long-term memory store (SPEC_FULL.md §4.11).
type MemoryConfig struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	MaxResults  int     `json:"max_results,omitempty"`
	MaxChunkLen int     `json:"max_chunk_len,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
}

// TelemetryConfig configures OpenTelemetry span export for the agent loop.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"`
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// CronConfig holds retry settings for cron jobs. The cron engine does not
// read them: a failed job run is logged and not retried.
type CronConfig struct {
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// SubagentsConfig configures the subagent spawn tool (SPEC_FULL.md §4.12).
type SubagentsConfig struct {
	MaxConcurrent       int    `json:"maxConcurrent,omitempty"`
	MaxSpawnDepth       int    `json:"maxSpawnDepth,omitempty"`
	MaxChildrenPerAgent int    `json:"maxChildrenPerAgent,omitempty"`
	ArchiveAfterMinutes int    `json:"archiveAfterMinutes,omitempty"`
	Model               string `json:"model,omitempty"`
}

// IdentityConfig is the inline identity override; the richer on-disk
// identity snapshot lives in internal/identity (TOML file, SPEC_FULL.md §3).
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Tools = src.Tools
	c.Sessions = src.Sessions
	c.Cron = src.Cron
	c.Telemetry = src.Telemetry
}

// Hash returns a short SHA-256 hash of the config for optimistic concurrency
// checks (e.g. the gateway's config-reload endpoint).
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
