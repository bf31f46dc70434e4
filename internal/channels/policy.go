package channels

import "log/slog"

// knownPolicies is the set of recognized policy values for DM/Group access
// control. Anything else falls through to a channel's own "secure default"
// (see Channel.CheckPolicy / each adapter's handleMessage).
var knownPolicies = map[string]bool{
	"":          true,
	"open":      true,
	"allowlist": true,
	"pairing":   true,
	"disabled":  true,
}

// ValidatePolicy logs a warning if dmPolicy/groupPolicy are not one of the
// recognized values, so a config typo surfaces at startup instead of
// silently falling back to the secure default with no explanation.
func (c *BaseChannel) ValidatePolicy(dmPolicy, groupPolicy string) {
	if !knownPolicies[dmPolicy] {
		slog.Warn("unrecognized dm_policy, falling back to secure default", "channel", c.name, "dm_policy", dmPolicy)
	}
	if !knownPolicies[groupPolicy] {
		slog.Warn("unrecognized group_policy, falling back to secure default", "channel", c.name, "group_policy", groupPolicy)
	}
}
