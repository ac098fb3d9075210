package task

import (
	"time"
)

// Status is the coarse lifecycle state of a scheduled submission.
//
// Allowed transitions:
//
//	pending -> running -> completed | failed
//	pending -> cancelled
//
// completed, failed and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Kind is the fine-grained terminal outcome of a run. Status collapses it
// to completed/failed; Kind keeps the distinction for listings and
// notifications (a cooldown is not a failure).
type Kind string

const (
	KindScored       Kind = "scored"
	KindCooldown     Kind = "cooldown"
	KindTimedOut     Kind = "timed_out"
	KindErrored      Kind = "errored"
	KindActionFailed Kind = "action_failed"
)

// FinalStatus maps an outcome kind to the persisted task status.
// Cooldown and timeout are recognized non-error outcomes, so they
// persist as completed; only platform-reported errors and failed
// submissions persist as failed.
func (k Kind) FinalStatus() Status {
	switch k {
	case KindErrored, KindActionFailed:
		return StatusFailed
	default:
		return StatusCompleted
	}
}

// Metric names the result feed is mined for.
const (
	MetricOverallScore = "overall_score"
	MetricAccuracy     = "accuracy"
	MetricAvgResponse  = "avg_response"
	MetricPosition     = "position"
	MetricF1Score      = "f1_score"
	MetricPrecision    = "precision"
	MetricRecall       = "recall"
	MetricThroughput   = "throughput"
)

// MetricNames lists every metric the classifier can extract, in display order.
var MetricNames = []string{
	MetricOverallScore,
	MetricAccuracy,
	MetricAvgResponse,
	MetricPosition,
	MetricF1Score,
	MetricPrecision,
	MetricRecall,
	MetricThroughput,
}

// Metrics maps metric name to its extracted string value. Partial results
// are valid; a key is present only when a pattern fired.
type Metrics map[string]string

// HasResults reports whether the metrics contain at least one of the
// primary trio (score, accuracy, response time). Secondary metrics alone
// do not count as a substantial result.
func (m Metrics) HasResults() bool {
	if len(m) == 0 {
		return false
	}
	_, a := m[MetricOverallScore]
	_, b := m[MetricAccuracy]
	_, c := m[MetricAvgResponse]
	return a || b || c
}

func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	cp := make(Metrics, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Result is the persisted outcome envelope of one run.
type Result struct {
	Kind       Kind      `json:"kind"`
	Details    string    `json:"details,omitempty"`
	Metrics    Metrics   `json:"metrics,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Metrics = r.Metrics.Clone()
	return &cp
}

// Task is one scheduled webhook submission.
//
// Marker is the free-text notes string later searched for on the platform
// feed to locate this task's entry. It is set once at creation and never
// mutated.
type Task struct {
	ID          string    `json:"id"`
	Owner       int64     `json:"owner"`
	Target      string    `json:"target"`
	Marker      string    `json:"marker"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Result      *Result   `json:"result,omitempty"`
}

// Due reports whether the task should fire at now.
func (t Task) Due(now time.Time) bool {
	return t.Status == StatusPending && !t.ScheduledAt.After(now)
}

func (t Task) Clone() Task {
	cp := t
	cp.Result = t.Result.Clone()
	return cp
}
