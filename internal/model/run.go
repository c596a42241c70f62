package model

import "time"

// RunKind identifies what a recorded run did.
type RunKind string

const (
	RunKindIngest        RunKind = "ingest"
	RunKindIngestPersons RunKind = "ingest_persons"
	RunKindSync          RunKind = "sync"
)

// RunStatus represents the current state of a recorded run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one ingest or sync invocation as recorded in the run log. Counters
// hold the flat result summary of the run.
type Run struct {
	ID         string         `json:"id"`
	Kind       RunKind        `json:"kind"`
	Source     string         `json:"source"`
	Status     RunStatus      `json:"status"`
	Counters   map[string]int `json:"counters,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
