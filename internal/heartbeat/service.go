// Package heartbeat implements the periodic self-poke (spec.md §4.10): on
// a timer (and on file-watch events), read the workspace's heartbeat file
// and, if it describes actionable work, invoke the agent with a fixed
// prompt.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

const defaultInterval = 30 * time.Minute

// HeartbeatPrompt is the fixed prompt sent to the agent when the
// heartbeat file describes actionable work.
const HeartbeatPrompt = "This is your periodic heartbeat check-in. Review HEARTBEAT.toml/HEARTBEAT.md for any active tasks and act on them. Reply with exactly HEARTBEAT_OK if there is nothing to do."

// OnHeartbeatFunc invokes the agent with the heartbeat prompt and returns
// its reply.
type OnHeartbeatFunc func(ctx context.Context, prompt string) (string, error)

// tasksFile is the parsed shape of HEARTBEAT.toml: a map of section name
// to a list of task lines. Any non-empty section counts as actionable.
type tasksFile struct {
	Tasks map[string][]string `toml:"tasks"`
}

// Service runs the heartbeat loop.
type Service struct {
	workspaceDir string
	interval     time.Duration
	onHeartbeat  OnHeartbeatFunc

	tomlPath string
	mdPath   string
}

// NewService constructs a heartbeat service for the given workspace.
// interval<=0 uses the default 30-minute period.
func NewService(workspaceDir string, interval time.Duration, onHeartbeat OnHeartbeatFunc) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		workspaceDir: workspaceDir,
		interval:     interval,
		onHeartbeat:  onHeartbeat,
		tomlPath:     filepath.Join(workspaceDir, "HEARTBEAT.toml"),
		mdPath:       filepath.Join(workspaceDir, "HEARTBEAT.md"),
	}
}

// Run blocks until ctx is cancelled, checking on every tick and on every
// watched file-write event, whichever comes first.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	watcher, events := s.startWatcher()
	if watcher != nil {
		defer watcher.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		case <-events:
			s.check(ctx)
		}
	}
}

// startWatcher sets up an fsnotify watch on the workspace directory so an
// edit to HEARTBEAT.toml/HEARTBEAT.md triggers an immediate check instead
// of waiting out the full interval. Returns a nil watcher and nil
// channel if the watch can't be established (never fatal).
func (s *Service) startWatcher() (*fsnotify.Watcher, <-chan struct{}) {
	events := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("heartbeat: fsnotify unavailable, falling back to timer-only", "error", err)
		return nil, nil
	}
	if err := watcher.Add(s.workspaceDir); err != nil {
		slog.Warn("heartbeat: could not watch workspace directory", "error", err)
		watcher.Close()
		return nil, nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				base := filepath.Base(ev.Name)
				if base != "HEARTBEAT.toml" && base != "HEARTBEAT.md" {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, events
}

func (s *Service) check(ctx context.Context) {
	prompt, ok := s.readActionable()
	if !ok {
		return
	}

	reply, err := s.onHeartbeat(ctx, prompt)
	if err != nil {
		slog.Error("heartbeat: on_heartbeat failed", "error", err)
		return
	}
	if isAck(reply) {
		return
	}
	slog.Info("heartbeat: agent produced output outside HEARTBEAT_OK", "reply_len", len(reply))
}

// readActionable reads the heartbeat file and reports whether it
// describes actionable content. Empty/unparseable files, or files whose
// sections all have no active tasks, are not actionable.
func (s *Service) readActionable() (string, bool) {
	if data, err := os.ReadFile(s.tomlPath); err == nil {
		var tf tasksFile
		if _, err := toml.Decode(string(data), &tf); err != nil {
			return "", false
		}
		if !hasActiveTasks(tf.Tasks) {
			return "", false
		}
		return HeartbeatPrompt, true
	}

	data, err := os.ReadFile(s.mdPath)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", false
	}
	return HeartbeatPrompt, true
}

func hasActiveTasks(tasks map[string][]string) bool {
	for _, lines := range tasks {
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				return true
			}
		}
	}
	return false
}

// isAck reports whether reply acknowledges a no-op heartbeat, matching
// "HEARTBEAT_OK" case- and underscore-insensitively.
func isAck(reply string) bool {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(reply), "_", ""))
	return normalized == "HEARTBEATOK"
}
