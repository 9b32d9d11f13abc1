package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/lock"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const idempotencyModule = "posting"

// Ledger is the journal side used by the coordinator.
type Ledger interface {
	Post(ctx context.Context, input accounting.PostingInput) (accounting.JournalEntry, error)
	Reverse(ctx context.Context, input accounting.ReverseInput) (accounting.JournalEntry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (accounting.JournalEntry, error)
	Resolve(role accounting.Role) (accounting.Account, error)
}

// Stock is the inventory side used by the coordinator.
type Stock interface {
	Allocate(ctx context.Context, in inventory.AllocateInput) (inventory.Allocation, error)
	AllocateForScrap(ctx context.Context, in inventory.AllocateInput) (inventory.Allocation, error)
	CommitMany(ctx context.Context, handles []uuid.UUID, opts inventory.CommitOptions) ([]inventory.StockMovement, error)
	Release(ctx context.Context, handle uuid.UUID) error
	ReceiveBatch(ctx context.Context, inputs []inventory.ReceiveInput) ([]inventory.Lot, []inventory.StockMovement, error)
	Transfer(ctx context.Context, in inventory.TransferInput) (inventory.TransferResult, error)
	Restock(ctx context.Context, in inventory.RestockInput) ([]inventory.StockMovement, []inventory.Lot, error)
	Adjust(ctx context.Context, in inventory.AdjustInput) (inventory.StockMovement, error)
}

// IdempotencyPort reserves request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Notifier is told after every committed composite.
type Notifier interface {
	Bump(ctx context.Context) error
}

// Config tunes commit-phase retries.
type Config struct {
	CommitRetries int
	RetryBase     time.Duration
}

// Coordinator runs composite operations across the ledger and the stock
// books so that both change or neither does.
type Coordinator struct {
	ledger   Ledger
	stock    Stock
	store    Store
	idem     IdempotencyPort
	locker   lock.Locker
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewCoordinator wires a coordinator.
func NewCoordinator(ledger Ledger, stock Stock, store Store, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.CommitRetries < 0 {
		cfg.CommitRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger: ledger,
		stock:  stock,
		store:  store,
		locker: lock.NewLocal(),
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithIdempotency enables idempotency keys.
func (c *Coordinator) WithIdempotency(idem IdempotencyPort) { c.idem = idem }

// WithLocker replaces the locker guarding returns of the same sale.
func (c *Coordinator) WithLocker(l lock.Locker) {
	if l != nil {
		c.locker = l
	}
}

// WithNotifier registers the change notifier.
func (c *Coordinator) WithNotifier(n Notifier) { c.notifier = n }

// WithMetrics registers the metrics collectors.
func (c *Coordinator) WithMetrics(m *Metrics) { c.metrics = m }

// WithNow overrides the clock for testing.
func (c *Coordinator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Close stops accepting work and waits for in-flight composites.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports ErrClosed once Close has been called.
func (c *Coordinator) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.inflight.Add(1)
	return nil
}

// GetComposite loads a composite transaction.
func (c *Coordinator) GetComposite(ctx context.Context, id uuid.UUID) (Composite, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) newComposite(kind Kind, reference, key string) Composite {
	return Composite{ID: uuid.New(), Kind: kind, Reference: reference, Status: StatusCommitted, IdempotencyKey: key, CreatedAt: c.now()}
}

// run wraps a composite with lifecycle tracking, idempotency and metrics.
// A replayed key returns the stored composite.
func (c *Coordinator) run(ctx context.Context, kind Kind, key string, fn func(ctx context.Context) (Composite, error)) (Composite, error) {
	if err := c.begin(); err != nil {
		return Composite{}, err
	}
	defer c.inflight.Done()
	start := time.Now()

	if key != "" && c.idem != nil {
		if err := c.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				return Composite{}, err
			}
			existing, gerr := c.store.GetByKey(ctx, key)
			if errors.Is(gerr, ErrCompositeNotFound) {
				return Composite{}, ErrInProgress
			}
			if gerr != nil {
				return Composite{}, gerr
			}
			if existing.Kind != kind {
				return Composite{}, fmt.Errorf("%w: idempotency key used by %s", ErrInvalidInput, existing.Kind)
			}
			c.metrics.observe(kind, "replayed", start)
			return existing, nil
		}
	}

	composite, err := fn(ctx)
	if err != nil {
		if key != "" && c.idem != nil {
			_ = c.idem.Delete(context.WithoutCancel(ctx), key)
		}
		outcome := "rejected"
		var commitErr *CommitError
		if errors.As(err, &commitErr) {
			outcome = "compensated"
		}
		c.metrics.observe(kind, outcome, start)
		return Composite{}, err
	}
	c.metrics.observe(kind, "committed", start)
	if c.notifier != nil {
		_ = c.notifier.Bump(ctx)
	}
	c.logger.InfoContext(ctx, "composite committed",
		slog.String("kind", string(kind)),
		slog.String("id", composite.ID.String()),
		slog.String("reference", composite.Reference))
	return composite, nil
}

func ledgerRejected(err error) bool {
	for _, target := range []error{
		accounting.ErrUnbalanced, accounting.ErrTooFewLines, accounting.ErrInvalidLine,
		accounting.ErrAmountOverflow, accounting.ErrUnknownAccount, accounting.ErrNonLeafAccount,
		accounting.ErrAccountArchived, accounting.ErrMappingNotFound, accounting.ErrNotPosted,
		accounting.ErrJournalNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func permanent(err error) bool {
	return inventory.IsBusinessError(err) || ledgerRejected(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retry runs op with exponential backoff. Business rejections are not retried.
func (c *Coordinator) retry(ctx context.Context, kind Kind, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryBase
	eb.MaxInterval = 32 * c.cfg.RetryBase
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.CommitRetries)), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.metrics.retried(kind)
		c.logger.WarnContext(ctx, "commit step failed, retrying",
			slog.String("kind", string(kind)), slog.Duration("wait", wait), slog.Any("error", err))
	})
}

func (c *Coordinator) resolve(roles ...accounting.Role) (map[accounting.Role]int64, error) {
	out := make(map[accounting.Role]int64, len(roles))
	for _, role := range roles {
		acc, err := c.ledger.Resolve(role)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPostingFailed, err)
		}
		out[role] = acc.ID
	}
	return out, nil
}

// post writes the journal entry under a stable id so a retried post after an
// ambiguous failure finds the first attempt instead of duplicating it.
func (c *Coordinator) post(ctx context.Context, kind Kind, input accounting.PostingInput) (accounting.JournalEntry, error) {
	input.ID = uuid.New()
	var entry accounting.JournalEntry
	err := c.retry(ctx, kind, func() error {
		e, err := c.ledger.Post(ctx, input)
		if errors.Is(err, accounting.ErrEntryExists) {
			e, err = c.ledger.GetEntry(ctx, input.ID)
		}
		entry = e
		return err
	})
	if err == nil {
		return entry, nil
	}
	if ledgerRejected(err) {
		return accounting.JournalEntry{}, fmt.Errorf("%w: %w", ErrPostingFailed, err)
	}
	// the entry may have landed before the failure was reported
	if e, gerr := c.ledger.GetEntry(context.WithoutCancel(ctx), input.ID); gerr == nil && e.Status == accounting.JournalStatusPosted {
		if _, rerr := c.ledger.Reverse(context.WithoutCancel(ctx), accounting.ReverseInput{EntryID: e.ID, ActorID: input.ActorID, Memo: "compensation: post failed"}); rerr != nil {
			c.logger.ErrorContext(ctx, "reverse of ambiguous post failed", slog.String("entry", e.ID.String()), slog.Any("error", rerr))
		}
	}
	return accounting.JournalEntry{}, fmt.Errorf("posting: post journal: %w", err)
}

func (c *Coordinator) releaseAll(ctx context.Context, handles []uuid.UUID) error {
	var errs []error
	for _, h := range handles {
		if err := c.stock.Release(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

// undo lists what compensation must roll back.
type undo struct {
	entry     *accounting.JournalEntry
	handles   []uuid.UUID
	movements []inventory.StockMovement
	actorID   int64
}

// compensate restores both books after a failure past the journal post and
// records the composite as COMPENSATED. It runs detached from the caller's
// cancellation.
func (c *Coordinator) compensate(ctx context.Context, composite Composite, u undo, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if len(u.handles) > 0 {
		if err := c.releaseAll(ctx, u.handles); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(u.movements) - 1; i >= 0; i-- {
		mv := u.movements[i]
		err := c.retry(ctx, composite.Kind, func() error {
			_, err := c.stock.Adjust(ctx, inventory.AdjustInput{
				LotID:   mv.LotID,
				Delta:   -mv.Delta,
				Reason:  fmt.Sprintf("compensation of %s %s", composite.Kind, composite.ID),
				ActorID: u.actorID,
			})
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("undo movement %s: %w", mv.ID, err))
		}
	}
	if u.entry != nil {
		err := c.retry(ctx, composite.Kind, func() error {
			_, err := c.ledger.Reverse(ctx, accounting.ReverseInput{
				EntryID: u.entry.ID,
				ActorID: u.actorID,
				Memo:    fmt.Sprintf("compensation of %s %s", composite.Kind, composite.ID),
			})
			if errors.Is(err, accounting.ErrNotPosted) {
				return nil
			}
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reverse entry %s: %w", u.entry.ID, err))
		}
	}
	compensated := len(errs) == 0
	c.metrics.compensated(composite.Kind)
	if !compensated {
		c.logger.ErrorContext(ctx, "compensation incomplete",
			slog.String("kind", string(composite.Kind)),
			slog.String("id", composite.ID.String()),
			slog.Any("cause", cause),
			slog.Any("error", errors.Join(errs...)))
	}

	composite.Status = StatusCompensated
	composite.IdempotencyKey = ""
	composite.Failure = cause.Error()
	if u.entry != nil {
		id := u.entry.ID
		composite.JournalEntryID = &id
	}
	if err := c.store.Insert(ctx, composite); err != nil {
		c.logger.WarnContext(ctx, "store compensated composite", slog.String("id", composite.ID.String()), slog.Any("error", err))
	}
	return &CommitError{Kind: composite.Kind, CompositeID: composite.ID, Compensated: compensated, Cause: cause}
}

// persist stores a committed composite, compensating when it cannot.
func (c *Coordinator) persist(ctx context.Context, composite Composite, u undo) (Composite, error) {
	err := c.retry(ctx, composite.Kind, func() error { return c.store.Insert(ctx, composite) })
	if err != nil {
		return Composite{}, c.compensate(ctx, composite, u, fmt.Errorf("store composite: %w", err))
	}
	return composite, nil
}

func movementIDs(mvs []inventory.StockMovement) []uuid.UUID {
	ids := make([]uuid.UUID, len(mvs))
	for i, mv := range mvs {
		ids[i] = mv.ID
	}
	return ids
}

func entryID(e *accounting.JournalEntry) *uuid.UUID {
	if e == nil {
		return nil
	}
	id := e.ID
	return &id
}
