package posting

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists composite transactions.
type Store interface {
	Insert(ctx context.Context, c Composite) error
	Get(ctx context.Context, id uuid.UUID) (Composite, error)
	GetByKey(ctx context.Context, key string) (Composite, error)
	// ListByOrigin returns committed composites that reference origin.
	ListByOrigin(ctx context.Context, origin uuid.UUID) ([]Composite, error)
}

// Repository stores composites in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const compositeColumns = `id, kind, reference, status, journal_entry_id, origin_id, COALESCE(idempotency_key, ''), lines, movement_ids, failure, created_at`

func scanComposite(row pgx.Row) (Composite, error) {
	var c Composite
	var kind, status string
	var lines []byte
	if err := row.Scan(&c.ID, &kind, &c.Reference, &status, &c.JournalEntryID, &c.OriginID, &c.IdempotencyKey, &lines, &c.MovementIDs, &c.Failure, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Composite{}, ErrCompositeNotFound
		}
		return Composite{}, err
	}
	c.Kind, c.Status = Kind(kind), Status(status)
	if err := json.Unmarshal(lines, &c.Lines); err != nil {
		return Composite{}, err
	}
	return c, nil
}

// Insert persists c. An empty idempotency key is stored as NULL.
func (r *Repository) Insert(ctx context.Context, c Composite) error {
	lines, err := json.Marshal(c.Lines)
	if err != nil {
		return err
	}
	var key *string
	if c.IdempotencyKey != "" {
		key = &c.IdempotencyKey
	}
	movements := c.MovementIDs
	if movements == nil {
		movements = []uuid.UUID{}
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO composite_transactions (id, kind, reference, status, journal_entry_id, origin_id, idempotency_key, lines, movement_ids, failure, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, string(c.Kind), c.Reference, string(c.Status), c.JournalEntryID, c.OriginID, key, lines, movements, c.Failure, c.CreatedAt)
	return err
}

// Get loads a composite.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Composite, error) {
	return scanComposite(r.pool.QueryRow(ctx, `SELECT `+compositeColumns+` FROM composite_transactions WHERE id=$1`, id))
}

// GetByKey loads the composite created under an idempotency key.
func (r *Repository) GetByKey(ctx context.Context, key string) (Composite, error) {
	return scanComposite(r.pool.QueryRow(ctx, `SELECT `+compositeColumns+` FROM composite_transactions WHERE idempotency_key=$1`, key))
}

// ListByOrigin returns committed composites referencing origin.
func (r *Repository) ListByOrigin(ctx context.Context, origin uuid.UUID) ([]Composite, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+compositeColumns+` FROM composite_transactions WHERE origin_id=$1 AND status='COMMITTED' ORDER BY created_at`, origin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Composite
	for rows.Next() {
		c, err := scanComposite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MemoryStore keeps composites in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]Composite
	order []uuid.UUID
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]Composite)}
}

func cloneComposite(c Composite) Composite {
	c.Lines = slices.Clone(c.Lines)
	c.MovementIDs = slices.Clone(c.MovementIDs)
	return c
}

// Insert persists c.
func (m *MemoryStore) Insert(_ context.Context, c Composite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[c.ID]; exists {
		return errors.New("posting: composite already stored")
	}
	if c.IdempotencyKey != "" {
		for _, existing := range m.items {
			if existing.IdempotencyKey == c.IdempotencyKey {
				return errors.New("posting: idempotency key already stored")
			}
		}
	}
	m.items[c.ID] = cloneComposite(c)
	m.order = append(m.order, c.ID)
	return nil
}

// Get loads a composite.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Composite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return Composite{}, ErrCompositeNotFound
	}
	return cloneComposite(c), nil
}

// GetByKey loads the composite created under an idempotency key.
func (m *MemoryStore) GetByKey(_ context.Context, key string) (Composite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if key != "" && c.IdempotencyKey == key {
			return cloneComposite(c), nil
		}
	}
	return Composite{}, ErrCompositeNotFound
}

// ListByOrigin returns committed composites referencing origin in insertion order.
func (m *MemoryStore) ListByOrigin(_ context.Context, origin uuid.UUID) ([]Composite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Composite
	for _, id := range m.order {
		c := m.items[id]
		if c.Status == StatusCommitted && c.OriginID != nil && *c.OriginID == origin {
			out = append(out, cloneComposite(c))
		}
	}
	return out, nil
}
