package sched

import (
	"context"
	"time"
)

// Priority orders task execution. Lower values run first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Status is a task's lifecycle phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Executor is any task body. A non-nil error marks the task Failed.
type Executor func(ctx context.Context, args map[string]any) error

// Timing resolves to one execution time when the task is scheduled.
// An absolute At wins over Delay. Variance jitters a delay by the given
// fraction in both directions; Jitter shifts an absolute time by up to
// five minutes either way.
type Timing struct {
	At       time.Time
	Delay    time.Duration
	Variance float64
	Jitter   bool
}

type recurKind int

const (
	recurNone recurKind = iota
	recurInterval
	recurDaily
)

// recurrence is the explicit descriptor the scheduler interprets to
// re-enqueue a recurring task after each run.
type recurrence struct {
	kind          recurKind
	every         time.Duration
	variance      float64
	spec          string
	jitterMinutes int
}

type task struct {
	id       string
	priority Priority
	status   Status
	exec     Executor
	args     map[string]any

	runAt     time.Time
	createdAt time.Time
	execAt    time.Time
	lastErr   string

	seq   uint64
	index int
	recur recurrence
}

// TaskInfo is the externally visible snapshot of one task.
type TaskInfo struct {
	ID         string
	Priority   Priority
	Status     Status
	RunAt      time.Time
	CreatedAt  time.Time
	ExecutedAt time.Time
	LastError  string
}

// Statistics summarizes queue and lifetime counters.
type Statistics struct {
	Queued     int
	ByPriority map[Priority]int
	Executed   uint64
	Failed     uint64
	Cancelled  uint64
}
