package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Set groups the handlers served by a worker or inline runner.
type Set struct {
	Reservations *ReservationSweepJob
	Drafts       *DraftSweepJob
	Keys         *IdempotencySweepJob
	Integrity    *IntegrityJob
	Expiry       *ExpiryScanJob
	Warmup       *WarmupJob
}

// Schedule holds the interval of each periodic job. Zero disables a job.
type Schedule struct {
	ReservationSweep time.Duration
	DraftSweep       time.Duration
	IdempotencySweep time.Duration
	Integrity        time.Duration
	ExpiryScan       time.Duration
	Warmup           time.Duration
}

func (s Schedule) every(typ string) time.Duration {
	switch typ {
	case TaskReservationSweep:
		return s.ReservationSweep
	case TaskDraftSweep:
		return s.DraftSweep
	case TaskIdempotencySweep:
		return s.IdempotencySweep
	case TaskLedgerIntegrity:
		return s.Integrity
	case TaskExpiryScan:
		return s.ExpiryScan
	case TaskReportWarmup:
		return s.Warmup
	}
	return 0
}

// Handlers lists the configured handlers keyed by task type.
func (s Set) Handlers() []TaskHandler {
	var out []TaskHandler
	if s.Reservations != nil {
		out = append(out, TaskHandler{Type: TaskReservationSweep, Handler: s.Reservations.Handle})
	}
	if s.Drafts != nil {
		out = append(out, TaskHandler{Type: TaskDraftSweep, Handler: s.Drafts.Handle})
	}
	if s.Keys != nil {
		out = append(out, TaskHandler{Type: TaskIdempotencySweep, Handler: s.Keys.Handle})
	}
	if s.Integrity != nil {
		out = append(out, TaskHandler{Type: TaskLedgerIntegrity, Handler: s.Integrity.Handle})
	}
	if s.Expiry != nil {
		out = append(out, TaskHandler{Type: TaskExpiryScan, Handler: s.Expiry.Handle})
	}
	if s.Warmup != nil {
		out = append(out, TaskHandler{Type: TaskReportWarmup, Handler: s.Warmup.Handle})
	}
	return out
}

// Periodic converts the handlers into inline jobs on the given schedule.
func (s Set) Periodic(schedule Schedule) []Periodic {
	var out []Periodic
	for _, h := range s.Handlers() {
		out = append(out, Periodic{Type: h.Type, Every: schedule.every(h.Type), Handler: h.Handler})
	}
	return out
}

// Cron converts the schedule into Asynq scheduler registrations.
func (s Schedule) Cron() ([]CronRegistration, error) {
	var out []CronRegistration
	for _, typ := range TaskTypes() {
		every := s.every(typ)
		if every <= 0 {
			continue
		}
		task, err := NewTask(typ)
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{
			Spec:    fmt.Sprintf("@every %s", every),
			Task:    task,
			Options: []asynq.Option{asynq.Unique(every)},
		})
	}
	return out, nil
}
