package bootstrap

// Workspace file names seeded for a new agent and read back by the
// Context Manager's Identity Loader (SPEC_FULL.md §4.5).
const (
	SoulFile      = "SOUL.md"
	IdentityFile  = "IDENTITY.toml"
	UserFile      = "USER.toml"
	AgentsFile    = "AGENTS.toml"
	HeartbeatFile = "HEARTBEAT.toml"
	BootstrapFile = "BOOTSTRAP.md"
)
