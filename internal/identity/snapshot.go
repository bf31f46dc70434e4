// Package identity loads and renders the workspace's identity files
// (SOUL.md, IDENTITY.toml, USER.toml, AGENTS.toml) into an IdentitySnapshot,
// and evaluates trust and tool permissions for a message author.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/skyefall/nanobot/internal/bootstrap"
)

// TrustLevel is one of unknown|low|moderate|high|trusted, monotone in the
// underlying numeric score.
type TrustLevel string

const (
	TrustUnknown  TrustLevel = "unknown"
	TrustLow      TrustLevel = "low"
	TrustModerate TrustLevel = "moderate"
	TrustHigh     TrustLevel = "high"
	TrustTrusted  TrustLevel = "trusted"
)

// identityFile is the parsed shape of IDENTITY.toml.
type identityFile struct {
	Traits   map[string]float64 `toml:"traits"`
	Trust    *trustConfig       `toml:"trust"`
	Autonomy autonomyConfig     `toml:"autonomy"`
}

type trustConfig struct {
	Default float64            `toml:"default"`
	Known   map[string]float64 `toml:"known"`
}

type autonomyConfig struct {
	Free                 map[string]bool `toml:"free"`
	RequiresConfirmation map[string]bool `toml:"requires_confirmation"`
}

// userFile is the parsed shape of USER.toml: name, timezone and a free-form
// notes string. Other keys in the file are ignored.
type userFile struct {
	Name     string `toml:"name"`
	Timezone string `toml:"timezone"`
	Notes    string `toml:"notes"`
}

// AllowedTools is the result of resolving an author's trust level against
// the autonomy policy: which tool actions run without confirmation, and
// which still require it.
type AllowedTools struct {
	Autonomous           []string
	ConfirmationRequired []string
}

// IdentitySnapshot is the parsed, cached form of the four identity files.
// A fresh snapshot replaces the old one atomically on reload; nothing in
// an IdentitySnapshot is ever mutated in place.
type IdentitySnapshot struct {
	Soul     string
	Identity identityFile
	User     userFile
	Agents   map[string]interface{}
}

// Load reads SOUL.md, IDENTITY.toml, USER.toml, and AGENTS.toml from the
// workspace directory. Missing files degrade gracefully: SOUL.md becomes
// empty text, IDENTITY.toml/USER.toml/AGENTS.toml become zero-valued.
func Load(workspaceDir string) (*IdentitySnapshot, error) {
	snap := &IdentitySnapshot{}

	soulPath := filepath.Join(workspaceDir, bootstrap.SoulFile)
	if b, err := os.ReadFile(soulPath); err == nil {
		snap.Soul = string(b)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", bootstrap.SoulFile, err)
	}

	identityPath := filepath.Join(workspaceDir, bootstrap.IdentityFile)
	if _, err := toml.DecodeFile(identityPath, &snap.Identity); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: decode %s: %w", bootstrap.IdentityFile, err)
	}

	userPath := filepath.Join(workspaceDir, bootstrap.UserFile)
	if _, err := toml.DecodeFile(userPath, &snap.User); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: decode %s: %w", bootstrap.UserFile, err)
	}

	agentsPath := filepath.Join(workspaceDir, bootstrap.AgentsFile)
	snap.Agents = map[string]interface{}{}
	if _, err := toml.DecodeFile(agentsPath, &snap.Agents); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: decode %s: %w", bootstrap.AgentsFile, err)
	}

	return snap, nil
}

// TrustScore resolves an author's numeric trust score: a case-insensitive
// lookup in trust.known, falling back to trust.default, or a bare 0 (caller
// maps this to TrustUnknown) when no trust section is configured at all.
func (s *IdentitySnapshot) TrustScore(author string) (score float64, hasTrustSection bool) {
	if s.Identity.Trust == nil {
		return 0, false
	}
	lower := strings.ToLower(author)
	for known, v := range s.Identity.Trust.Known {
		if strings.ToLower(known) == lower {
			return v, true
		}
	}
	return s.Identity.Trust.Default, true
}

// TrustLevelFor buckets an author's trust score into a level. A missing
// trust section yields TrustUnknown regardless of score.
func (s *IdentitySnapshot) TrustLevelFor(author string) TrustLevel {
	score, ok := s.TrustScore(author)
	if !ok {
		return TrustUnknown
	}
	return levelForScore(score)
}

func levelForScore(score float64) TrustLevel {
	switch {
	case score >= 0.9:
		return TrustTrusted
	case score > 0.7:
		return TrustHigh
	case score > 0.4:
		return TrustModerate
	default:
		return TrustLow
	}
}

// AllowedToolsFor resolves the tool-permission set for an author's trust
// level. Trusted authors get the union of free and confirmation-required
// actions as autonomous, with an empty confirmation list. Everyone else
// gets the raw policy back unchanged.
func (s *IdentitySnapshot) AllowedToolsFor(author string) AllowedTools {
	level := s.TrustLevelFor(author)

	free := sortedKeys(s.Identity.Autonomy.Free, true)
	confirm := sortedKeys(s.Identity.Autonomy.RequiresConfirmation, true)

	if level == TrustTrusted {
		autonomous := append([]string{}, free...)
		autonomous = append(autonomous, confirm...)
		return AllowedTools{Autonomous: autonomous, ConfirmationRequired: nil}
	}
	return AllowedTools{Autonomous: free, ConfirmationRequired: confirm}
}

func sortedKeys(m map[string]bool, onlyTrue bool) []string {
	var out []string
	for k, v := range m {
		if onlyTrue && !v {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RenderTraits renders the trait floats as high|moderate|low lines, using
// the same >0.7/>0.4 thresholds as trust buckets (but without the
// trusted/unknown buckets, which only apply to trust scores).
func (s *IdentitySnapshot) RenderTraits() string {
	if len(s.Identity.Traits) == 0 {
		return ""
	}
	var b strings.Builder
	for name, v := range s.Identity.Traits {
		label := "low"
		switch {
		case v > 0.7:
			label = "high"
		case v > 0.4:
			label = "moderate"
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, label)
	}
	return b.String()
}

// RenderUser renders the USER.toml content as prose for the identity
// section of the prompt.
func (s *IdentitySnapshot) RenderUser() string {
	var b strings.Builder
	if s.User.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", s.User.Name)
	}
	if s.User.Timezone != "" {
		fmt.Fprintf(&b, "Timezone: %s\n", s.User.Timezone)
	}
	if s.User.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", s.User.Notes)
	}
	return b.String()
}
