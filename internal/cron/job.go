// Package cron implements the persistent scheduled job runner (spec.md
// §4.9): a catalog of CronJobs dispatched by earliest next-run time, with
// every/cron/at schedule kinds and at-most-once firing semantics.
package cron

import "time"

// ScheduleKind selects how a job's next run time is computed.
type ScheduleKind string

const (
	KindEvery ScheduleKind = "every"
	KindCron  ScheduleKind = "cron"
	KindAt    ScheduleKind = "at"
)

// Schedule describes when a job fires next.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	EveryMS int64 `json:"every_ms,omitempty"`

	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`

	AtMS int64 `json:"at_ms,omitempty"`
}

// Payload is what a firing job hands to the runtime callback.
type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	To      string `json:"to,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// State is the mutable run-tracking portion of a job.
type State struct {
	NextRunAtMS int64  `json:"next_run_at_ms"`
	LastRunAtMS *int64 `json:"last_run_at_ms,omitempty"`
	RunCount    int64  `json:"run_count"`
}

// Job is one entry in the cron catalog.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	State    State    `json:"state"`
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timeToMS(t time.Time) int64 {
	return t.UnixMilli()
}
