package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/skyefall/nanobot/internal/bus"
)

// OnJobFunc is invoked by the runtime to execute a firing job through the
// agent; it returns the agent's reply text, if any.
type OnJobFunc func(ctx context.Context, job Job) (string, error)

// Engine is the persistent cron dispatch loop. One catalog file backs
// every job; Add/Remove/Enable all rewrite the catalog in full (spec.md
// §4.9: "write the full catalog on every mutation").
type Engine struct {
	path   string
	bus    *bus.MessageBus
	onJob  OnJobFunc
	index  *sqliteIndex

	mu   sync.Mutex
	jobs map[string]*Job

	wake   chan struct{}
	stopCh chan struct{}
	stopped sync.Once
	wg     sync.WaitGroup
}

// NewEngine loads (or creates) the catalog at path.
func NewEngine(path string, msgBus *bus.MessageBus, onJob OnJobFunc) (*Engine, error) {
	e := &Engine{
		path:   path,
		bus:    msgBus,
		onJob:  onJob,
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// WithSQLiteIndex attaches a best-effort queryable mirror of the catalog
// (SPEC_FULL.md §4.9 expansion). The JSON catalog remains authoritative;
// the mirror is rebuilt from it if missing or stale.
func (e *Engine) WithSQLiteIndex(dbPath string) *Engine {
	idx, err := openSQLiteIndex(dbPath)
	if err != nil {
		slog.Warn("cron: sqlite index unavailable, continuing without it", "error", err)
		return e
	}
	e.index = idx
	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	if err := idx.Rebuild(snapshot); err != nil {
		slog.Warn("cron: sqlite index rebuild failed", "error", err)
	}
	return e
}

func (e *Engine) load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("cron: parse catalog: %w", err)
	}
	for _, j := range jobs {
		e.jobs[j.ID] = j
	}
	return nil
}

func (e *Engine) persistLocked() error {
	snapshot := e.snapshotLocked()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".cron-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
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
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return err
	}

	if e.index != nil {
		if err := e.index.Rebuild(snapshot); err != nil {
			slog.Warn("cron: sqlite index rebuild after mutation failed", "error", err)
		}
	}
	return nil
}

func (e *Engine) snapshotLocked() []Job {
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// AddJob inserts a new job, computing its initial next-run time.
func (e *Engine) AddJob(name string, sched Schedule, payload Payload, enabled bool) (Job, error) {
	next, err := computeNextRun(sched, time.Now())
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Enabled:  enabled,
		Schedule: sched,
		Payload:  payload,
		State:    State{NextRunAtMS: timeToMS(next)},
	}
	e.jobs[job.ID] = job
	if err := e.persistLocked(); err != nil {
		return Job{}, err
	}
	e.wakeLocked()
	return *job, nil
}

// RemoveJob deletes a job by id.
func (e *Engine) RemoveJob(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[id]; !ok {
		return false, nil
	}
	delete(e.jobs, id)
	return true, e.persistLocked()
}

// EnableJob flips a job's enabled flag.
func (e *Engine) EnableJob(id string, enabled bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return false, nil
	}
	job.Enabled = enabled
	if err := e.persistLocked(); err != nil {
		return true, err
	}
	e.wakeLocked()
	return true, nil
}

// ListJobs returns the catalog, optionally including disabled jobs.
func (e *Engine) ListJobs(includeDisabled bool) []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.snapshotLocked()
	if includeDisabled {
		return all
	}
	out := all[:0:0]
	for _, j := range all {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out
}

// Status summarizes the engine for introspection (gateway/status surface).
type Status struct {
	JobCount  int       `json:"job_count"`
	NextWake  time.Time `json:"next_wake,omitempty"`
	HasNext   bool      `json:"has_next"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{JobCount: len(e.jobs)}
	next, ok := e.earliestLocked()
	if ok {
		st.NextWake = msToTime(next.State.NextRunAtMS)
		st.HasNext = true
	}
	return st
}

// RunJob fires a job immediately regardless of its schedule; force=true
// runs it even if disabled.
func (e *Engine) RunJob(ctx context.Context, id string, force bool) error {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("cron: job %s not found", id)
	}
	if !job.Enabled && !force {
		e.mu.Unlock()
		return fmt.Errorf("cron: job %s is disabled", id)
	}
	snapshot := *job
	e.mu.Unlock()

	e.fire(ctx, snapshot)
	return nil
}

// earliestLocked returns the job with the smallest NextRunAtMS among
// enabled jobs, tie-broken lexicographically by id.
func (e *Engine) earliestLocked() (*Job, bool) {
	var best *Job
	for _, j := range e.jobs {
		if !j.Enabled {
			continue
		}
		if best == nil || j.State.NextRunAtMS < best.State.NextRunAtMS ||
			(j.State.NextRunAtMS == best.State.NextRunAtMS && j.ID < best.ID) {
			best = j
		}
	}
	return best, best != nil
}

func (e *Engine) wakeLocked() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop signals the dispatch loop to exit and waits for it.
func (e *Engine) Stop() {
	e.stopped.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		job, ok := e.earliestLocked()
		e.mu.Unlock()

		var timer *time.Timer
		if ok {
			d := time.Until(msToTime(job.State.NextRunAtMS))
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		} else {
			timer = time.NewTimer(time.Hour)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stopCh:
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
			continue
		case <-timer.C:
			e.tick(ctx)
		}
	}
}

// tick fires every job whose next-run time has arrived. Missed fires
// (clock jump, downtime) collapse into a single catch-up execution per
// job, since computeNextRun always advances from "now" rather than
// replaying each skipped occurrence.
func (e *Engine) tick(ctx context.Context) {
	now := time.Now()
	var due []Job

	e.mu.Lock()
	for _, j := range e.jobs {
		if j.Enabled && msToTime(j.State.NextRunAtMS).Before(now.Add(time.Millisecond)) {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ID < due[k].ID })

	for _, j := range due {
		stored := e.jobs[j.ID]
		last := now.UnixMilli()
		stored.State.LastRunAtMS = &last
		stored.State.RunCount++

		if stored.Schedule.Kind == KindAt {
			stored.Enabled = false
		} else if next, err := computeNextRun(stored.Schedule, now); err == nil {
			stored.State.NextRunAtMS = timeToMS(next)
		} else {
			slog.Error("cron: failed to compute next run, disabling job", "job", j.ID, "error", err)
			stored.Enabled = false
		}
	}
	if len(due) > 0 {
		if err := e.persistLocked(); err != nil {
			slog.Error("cron: failed to persist catalog after tick", "error", err)
		}
	}
	e.mu.Unlock()

	for _, j := range due {
		e.fire(ctx, j)
	}
}

func (e *Engine) fire(ctx context.Context, job Job) {
	if e.onJob == nil {
		return
	}
	reply, err := e.onJob(ctx, job)
	if err != nil {
		slog.Error("cron: job callback failed", "job", job.ID, "error", err)
		return
	}
	if job.Payload.Deliver && job.Payload.To != "" && e.bus != nil {
		channel := job.Payload.Channel
		if channel == "" {
			channel = "system"
		}
		content := reply
		if content == "" {
			content = job.Payload.Message
		}
		e.bus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  job.Payload.To,
			Content: content,
		})
	}
}

// computeNextRun resolves a schedule's next fire time relative to `from`.
func computeNextRun(sched Schedule, from time.Time) (time.Time, error) {
	switch sched.Kind {
	case KindEvery:
		if sched.EveryMS <= 0 {
			return time.Time{}, fmt.Errorf("cron: every schedule requires every_ms > 0")
		}
		return from.Add(time.Duration(sched.EveryMS) * time.Millisecond), nil

	case KindCron:
		if !gronx.IsValid(sched.Expr) {
			return time.Time{}, fmt.Errorf("cron: invalid cron expression %q", sched.Expr)
		}
		base := from
		if sched.TZ != "" {
			loc, err := time.LoadLocation(sched.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("cron: unknown timezone %q: %w", sched.TZ, err)
			}
			base = from.In(loc)
		}
		next, err := gronx.NextTickAfter(sched.Expr, base, false)
		if err != nil {
			return time.Time{}, err
		}
		return next, nil

	case KindAt:
		return msToTime(sched.AtMS), nil

	default:
		return time.Time{}, fmt.Errorf("cron: unknown schedule kind %q", sched.Kind)
	}
}
