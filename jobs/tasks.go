package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReservationSweep releases reservations older than their TTL.
	TaskReservationSweep = "inventory:reservation_sweep"
	// TaskDraftSweep discards stale journal drafts.
	TaskDraftSweep = "accounting:draft_sweep"
	// TaskLedgerIntegrity replays both logs and compares them to the caches.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskExpiryScan reports lots approaching expiry.
	TaskExpiryScan = "inventory:expiry_scan"
	// TaskReportWarmup pre-populates the report cache.
	TaskReportWarmup = "reports:warmup"
	// TaskIdempotencySweep forgets idempotency keys past their retention.
	TaskIdempotencySweep = "posting:idempotency_sweep"
)

// SweepPayload overrides the configured TTL when set.
type SweepPayload struct {
	TTL time.Duration `json:"ttl,omitempty"`
}

// IntegrityPayload controls the integrity check.
type IntegrityPayload struct {
	// Rebuild overwrites drifted caches from the logs.
	Rebuild bool `json:"rebuild,omitempty"`
}

// ExpiryScanPayload overrides the configured window when set.
type ExpiryScanPayload struct {
	WithinDays int `json:"within_days,omitempty"`
}

// WarmupPayload carries scheduling metadata.
type WarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newTask(typ string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)...), nil
}

// NewReservationSweepTask constructs a reservation sweep task.
func NewReservationSweepTask(payload SweepPayload) (*asynq.Task, error) {
	return newTask(TaskReservationSweep, payload, asynq.MaxRetry(1))
}

// NewDraftSweepTask constructs a draft sweep task.
func NewDraftSweepTask(payload SweepPayload) (*asynq.Task, error) {
	return newTask(TaskDraftSweep, payload, asynq.MaxRetry(1))
}

// NewIdempotencySweepTask constructs an idempotency key sweep task.
func NewIdempotencySweepTask(payload SweepPayload) (*asynq.Task, error) {
	return newTask(TaskIdempotencySweep, payload, asynq.MaxRetry(1))
}

// NewIntegrityTask constructs an integrity check task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, payload, asynq.MaxRetry(0))
}

// NewExpiryScanTask constructs an expiry scan task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	return newTask(TaskExpiryScan, payload)
}

// NewWarmupTask constructs a report warmup task.
func NewWarmupTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskReportWarmup, WarmupPayload{ScheduledFor: at})
}

// NewTask builds the task for typ with its zero payload. It backs manual
// triggers where only the type name is known.
func NewTask(typ string) (*asynq.Task, error) {
	switch typ {
	case TaskReservationSweep:
		return NewReservationSweepTask(SweepPayload{})
	case TaskDraftSweep:
		return NewDraftSweepTask(SweepPayload{})
	case TaskLedgerIntegrity:
		return NewIntegrityTask(IntegrityPayload{})
	case TaskExpiryScan:
		return NewExpiryScanTask(ExpiryScanPayload{})
	case TaskReportWarmup:
		return NewWarmupTask(time.Now().UTC())
	case TaskIdempotencySweep:
		return NewIdempotencySweepTask(SweepPayload{})
	default:
		return nil, &UnknownTaskError{Type: typ}
	}
}

// UnknownTaskError reports a task type no handler serves.
type UnknownTaskError struct {
	Type string
}

func (e *UnknownTaskError) Error() string { return "jobs: unknown task type " + e.Type }

// TaskTypes lists every task type served by the worker.
func TaskTypes() []string {
	return []string{TaskReservationSweep, TaskDraftSweep, TaskIdempotencySweep, TaskLedgerIntegrity, TaskExpiryScan, TaskReportWarmup}
}
