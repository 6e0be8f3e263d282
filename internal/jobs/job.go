// Package jobs runs asynchronous ingestion and graph-build work on a single
// background worker, persisting every state change so jobs survive restarts.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects what a job does.
type Kind string

const (
	KindIngest     Kind = "ingest"
	KindGraphBuild Kind = "graph_build"
)

// Status is a job lifecycle state. Done and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// LogEntry is one timestamped line of a job's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Job is the persisted record of one unit of work. The same JSON is stored on
// disk and sent to subscribers.
type Job struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Store     string     `json:"store"`
	Status    Status     `json:"status"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Logs      []LogEntry `json:"logs"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Ingest parameters.
	Filename  string `json:"filename,omitempty"`
	Path      string `json:"path,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`

	// Graph build parameters.
	K              int `json:"k,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty"`
	M              int `json:"m,omitempty"`
}

// NewIngestJob returns a pending job that ingests the records of the file at path.
func NewIngestJob(store, filename, path string, batchSize int) *Job {
	j := newJob(KindIngest, store)
	j.Filename = filename
	j.Path = path
	j.BatchSize = batchSize
	return j
}

// NewGraphBuildJob returns a pending job that rebuilds the store's graph.
func NewGraphBuildJob(store string, k, efConstruction, m int) *Job {
	j := newJob(KindGraphBuild, store)
	j.K = k
	j.EfConstruction = efConstruction
	j.M = m
	return j
}

func newJob(kind Kind, store string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Store:     store,
		Status:    StatusPending,
		Logs:      []LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns a copy that shares no mutable state with j.
func (j *Job) Snapshot() Job {
	c := *j
	c.Logs = make([]LogEntry, len(j.Logs))
	copy(c.Logs, j.Logs)
	return c
}

func (j *Job) log(message string) {
	now := time.Now().UTC()
	j.Logs = append(j.Logs, LogEntry{Timestamp: now, Message: message})
	j.UpdatedAt = now
}

// updateProgress derives the percentage from processed and total, clamped to [0, 100].
func (j *Job) updateProgress() {
	if j.Total <= 0 {
		j.Progress = 0
		return
	}
	j.Progress = max(0, min(100, j.Processed*100/j.Total))
}
