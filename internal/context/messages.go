// Package contextmgr assembles the system prompt and user message sent to
// the LLM provider for each turn (spec.md §4.5), and drives sliding-window
// compaction of session history via summarization (spec.md §4.6).
package contextmgr

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skyefall/nanobot/internal/identity"
	"github.com/skyefall/nanobot/internal/providers"
)

// sectionDelimiter joins system-prompt sections, per spec.md §4.5.
const sectionDelimiter = "\n---\n"

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// BuildOpts carries everything BuildMessages needs to assemble one turn's
// message list.
type BuildOpts struct {
	History    []providers.Message
	Current    string
	Author     string
	Channel    string
	ChatID     string
	Media      []string
	SkillNames []string

	MaxTokens int
	Model     string

	Snapshot  *identity.IdentitySnapshot
	Workspace string
	Runtime   string

	// Skills maps skill name -> body, loaded from skills/<name>.md.
	Skills map[string]string

	// LongTermMemory and TodayMemory are pre-rendered memory context blocks;
	// empty strings are omitted from the prompt entirely.
	LongTermMemory string
	TodayMemory    string

	SessionKey string
}

// BuildMessages constructs the full message list for one LLM turn: a
// system message followed by history, followed by the current user
// message. Output shape: [system, ...history, user] (spec.md §4.5).
func BuildMessages(opts BuildOpts) []providers.Message {
	system := buildSystemPrompt(opts)

	messages := make([]providers.Message, 0, len(opts.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: system})
	messages = append(messages, opts.History...)
	messages = append(messages, buildUserMessage(opts.Current, opts.Media))

	used := CountTokens(system, opts.Model)
	for _, m := range opts.History {
		used += CountTokens(m.Content, opts.Model)
	}
	used += CountTokens(opts.Current, opts.Model)
	logTokenPressure(used, opts.MaxTokens, opts.SessionKey)

	return messages
}

// buildSystemPrompt composes the six fixed sections in order, joined by a
// literal "---" delimiter. Any section that renders empty is skipped
// rather than emitted as a bare delimiter run.
func buildSystemPrompt(opts BuildOpts) string {
	var sections []string

	if s := identitySection(opts.Snapshot); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, environmentSection(opts.Workspace, opts.Runtime))
	sections = append(sections, sessionSection(opts))

	level := identity.TrustUnknown
	if opts.Snapshot != nil {
		level = opts.Snapshot.TrustLevelFor(opts.Author)
	}
	sections = append(sections, trustProtocolSection(level))

	if s := skillsSection(opts.SkillNames, opts.Skills); s != "" {
		sections = append(sections, s)
	}
	if s := memorySection(opts.LongTermMemory, opts.TodayMemory); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, sectionDelimiter)
}

// identitySection renders SOUL text, trait/trust rendering, and the user
// file. Internal sections (state, continuity, allegories) are excluded by
// construction: identity.IdentitySnapshot never exposes them.
func identitySection(snap *identity.IdentitySnapshot) string {
	if snap == nil {
		return ""
	}
	var b strings.Builder
	if snap.Soul != "" {
		b.WriteString(strings.TrimSpace(snap.Soul))
		b.WriteString("\n\n")
	}
	if traits := snap.RenderTraits(); traits != "" {
		b.WriteString("Traits:\n")
		b.WriteString(traits)
	}
	if user := snap.RenderUser(); user != "" {
		b.WriteString("\nUser:\n")
		b.WriteString(user)
	}
	return strings.TrimSpace(b.String())
}

func environmentSection(workspace, runtime string) string {
	if runtime == "" {
		runtime = "go"
	}
	return fmt.Sprintf(
		"Environment:\nTime: %s\nRuntime: %s\nWorkspace: %s",
		time.Now().Format(time.RFC3339), runtime, workspace,
	)
}

func sessionSection(opts BuildOpts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:\nChannel: %s\nChat: %s\nAuthor: %s\n", opts.Channel, opts.ChatID, opts.Author)

	level := identity.TrustUnknown
	var allowed identity.AllowedTools
	if opts.Snapshot != nil {
		level = opts.Snapshot.TrustLevelFor(opts.Author)
		allowed = opts.Snapshot.AllowedToolsFor(opts.Author)
	}
	fmt.Fprintf(&b, "Trust level: %s\n", level)
	fmt.Fprintf(&b, "Autonomous tools: %s\n", joinOrNone(allowed.Autonomous))
	fmt.Fprintf(&b, "Confirmation-required tools: %s", joinOrNone(allowed.ConfirmationRequired))
	return b.String()
}

func joinOrNone(xs []string) string {
	if len(xs) == 0 {
		return "(none)"
	}
	sorted := append([]string{}, xs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// trustProtocolSection selects one of five fixed instruction variants by
// trust level (spec.md §4.5).
func trustProtocolSection(level identity.TrustLevel) string {
	switch level {
	case identity.TrustTrusted:
		return "Trust protocol: this author is fully trusted. Act autonomously on every tool; do not ask for confirmation."
	case identity.TrustHigh:
		return "Trust protocol: this author is highly trusted. Prefer acting autonomously; confirm only destructive or irreversible actions outside the usual allow-list."
	case identity.TrustModerate:
		return "Trust protocol: this author has moderate trust. Use free tools autonomously; confirm before anything in the requires-confirmation list."
	case identity.TrustLow:
		return "Trust protocol: this author has low trust. Favor read-only tools; confirm before any action with side effects."
	default:
		return "Trust protocol: this author's trust is unknown. Treat as untrusted: read-only tools only, confirm everything else."
	}
}

func skillsSection(names []string, skills map[string]string) string {
	if len(names) == 0 || len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Active skills:\n")
	for _, name := range names {
		body, ok := skills[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", name, strings.TrimSpace(body))
	}
	return strings.TrimSpace(b.String())
}

func memorySection(longTerm, today string) string {
	if longTerm == "" && today == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Memory:\n")
	if longTerm != "" {
		fmt.Fprintf(&b, "Long-term:\n%s\n", longTerm)
	}
	if today != "" {
		fmt.Fprintf(&b, "Today:\n%s\n", today)
	}
	return strings.TrimSpace(b.String())
}

// buildUserMessage assembles the current turn's user message. If every
// media path is an existing image file, the content is emitted as images
// plus trailing text; otherwise media paths fall back into plain text.
func buildUserMessage(text string, media []string) providers.Message {
	if len(media) == 0 {
		return providers.Message{Role: "user", Content: text}
	}

	images := make([]providers.ImageContent, 0, len(media))
	allImages := true
	for _, path := range media {
		img, ok := loadImage(path)
		if !ok {
			allImages = false
			break
		}
		images = append(images, img)
	}
	if allImages {
		return providers.Message{Role: "user", Content: text, Images: images}
	}

	// Fallback: list the media paths as plain text alongside the message.
	var b strings.Builder
	b.WriteString(text)
	for _, path := range media {
		fmt.Fprintf(&b, "\n[media: %s]", path)
	}
	return providers.Message{Role: "user", Content: b.String()}
}

func loadImage(path string) (providers.ImageContent, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if !imageExts[ext] {
		return providers.ImageContent{}, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return providers.ImageContent{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return providers.ImageContent{}, false
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return providers.ImageContent{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, true
}
