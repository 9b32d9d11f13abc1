package accounting

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// MemoryRepository keeps the ledger in process memory. A single mutex
// serializes transactions; writes inside a failed transaction are undone.
type MemoryRepository struct {
	mu          sync.Mutex
	accounts    []Account
	entries     map[uuid.UUID]JournalEntry
	balances    map[int64]Amount
	nextAccount int64
	nextNumber  int64
}

// NewMemoryRepository constructs an empty ledger store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries:  make(map[uuid.UUID]JournalEntry),
		balances: make(map[int64]Amount),
	}
}

type memoryTx struct {
	repo *MemoryRepository
	undo []func()
}

// WithTx runs fn under the store lock and rolls back on error.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// ListAccounts returns accounts in insertion order.
func (m *MemoryRepository) ListAccounts(context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return parentsFirst(slices.Clone(m.accounts)), nil
}

func cloneEntry(e JournalEntry) JournalEntry {
	e.Lines = slices.Clone(e.Lines)
	return e
}

// GetEntry loads an entry with its lines.
func (m *MemoryRepository) GetEntry(_ context.Context, id uuid.UUID) (JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	return cloneEntry(e), nil
}

// ListEntries returns a page of entries, newest first.
func (m *MemoryRepository) ListEntries(_ context.Context, filter EntryFilter) ([]JournalEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []JournalEntry
	for _, e := range m.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		all = append(all, cloneEntry(e))
	}
	slices.SortFunc(all, func(a, b JournalEntry) int { return cmp.Compare(b.Number, a.Number) })
	limit, offset := shared.Window(filter.Page, filter.PerPage)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

// SumLines totals posted lines per account.
func (m *MemoryRepository) SumLines(_ context.Context, ids []int64, asOf *time.Time) (map[int64]LineTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]LineTotals)
	for _, e := range m.entries {
		if e.Status == JournalStatusDraft || e.PostedAt == nil {
			continue
		}
		if asOf != nil && e.PostedAt.After(*asOf) {
			continue
		}
		for _, line := range e.Lines {
			if ids != nil && !slices.Contains(ids, line.AccountID) {
				continue
			}
			t := out[line.AccountID]
			var err error
			if t.Debit, err = AddAmounts(t.Debit, line.Debit); err != nil {
				return nil, err
			}
			if t.Credit, err = AddAmounts(t.Credit, line.Credit); err != nil {
				return nil, err
			}
			out[line.AccountID] = t
		}
	}
	return out, nil
}

// Balances returns cached nets for ids.
func (m *MemoryRepository) Balances(_ context.Context, ids []int64) (map[int64]Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]Amount, len(ids))
	if ids == nil {
		for id, net := range m.balances {
			out[id] = net
		}
		return out, nil
	}
	for _, id := range ids {
		out[id] = m.balances[id]
	}
	return out, nil
}

func (t *memoryTx) InsertAccount(_ context.Context, acc Account) (Account, error) {
	m := t.repo
	for _, existing := range m.accounts {
		if existing.Code == acc.Code {
			return Account{}, ErrDuplicateCode
		}
	}
	m.nextAccount++
	acc.ID = m.nextAccount
	m.accounts = append(m.accounts, acc)
	t.undo = append(t.undo, func() {
		m.accounts = m.accounts[:len(m.accounts)-1]
		m.nextAccount--
	})
	return acc, nil
}

func (t *memoryTx) updateAccount(id int64, mutate func(*Account)) {
	m := t.repo
	for i := range m.accounts {
		if m.accounts[i].ID == id {
			prev := m.accounts[i]
			mutate(&m.accounts[i])
			t.undo = append(t.undo, func() { m.accounts[i] = prev })
			return
		}
	}
}

func (t *memoryTx) SetAccountArchived(_ context.Context, id int64) error {
	t.updateAccount(id, func(a *Account) { a.Archived = true })
	return nil
}

func (t *memoryTx) SetAccountParent(_ context.Context, id, parentID int64) error {
	t.updateAccount(id, func(a *Account) {
		p := parentID
		a.ParentID = &p
	})
	return nil
}

func (t *memoryTx) AccountHasPostings(_ context.Context, id int64) (bool, error) {
	for _, e := range t.repo.entries {
		if e.Status == JournalStatusDraft {
			continue
		}
		for _, line := range e.Lines {
			if line.AccountID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memoryTx) putEntry(e JournalEntry) {
	m := t.repo
	prev, existed := m.entries[e.ID]
	m.entries[e.ID] = e
	t.undo = append(t.undo, func() {
		if existed {
			m.entries[e.ID] = prev
			return
		}
		delete(m.entries, e.ID)
	})
}

func (t *memoryTx) InsertEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	m := t.repo
	if _, ok := m.entries[entry.ID]; ok {
		return JournalEntry{}, ErrEntryExists
	}
	m.nextNumber++
	entry.Number = m.nextNumber
	entry.UpdatedAt = entry.CreatedAt
	entry = cloneEntry(entry)
	t.putEntry(entry)
	t.undo = append(t.undo, func() { m.nextNumber-- })
	return cloneEntry(entry), nil
}

func (t *memoryTx) GetEntryForUpdate(_ context.Context, id uuid.UUID) (JournalEntry, error) {
	e, ok := t.repo.entries[id]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	return cloneEntry(e), nil
}

func (t *memoryTx) ReplaceDraft(_ context.Context, entry JournalEntry) error {
	current, ok := t.repo.entries[entry.ID]
	if !ok || current.Status != JournalStatusDraft {
		return ErrNotDraft
	}
	current.Reference = entry.Reference
	current.Memo = entry.Memo
	current.UpdatedAt = entry.UpdatedAt
	current.Lines = slices.Clone(entry.Lines)
	t.putEntry(current)
	return nil
}

func (t *memoryTx) DeleteDraft(_ context.Context, id uuid.UUID) error {
	m := t.repo
	current, ok := m.entries[id]
	if !ok || current.Status != JournalStatusDraft {
		return ErrNotDraft
	}
	delete(m.entries, id)
	t.undo = append(t.undo, func() { m.entries[id] = current })
	return nil
}

func (t *memoryTx) MarkPosted(_ context.Context, id uuid.UUID, at time.Time) error {
	current, ok := t.repo.entries[id]
	if !ok {
		return ErrJournalNotFound
	}
	current.Status = JournalStatusPosted
	current.PostedAt = &at
	current.UpdatedAt = at
	t.putEntry(current)
	return nil
}

func (t *memoryTx) MarkReversed(_ context.Context, id, reversedBy uuid.UUID) error {
	current, ok := t.repo.entries[id]
	if !ok {
		return ErrJournalNotFound
	}
	current.Status = JournalStatusReversed
	current.ReversedBy = &reversedBy
	t.putEntry(current)
	return nil
}

func (t *memoryTx) ListStaleDrafts(_ context.Context, before time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, e := range t.repo.entries {
		if e.Status == JournalStatusDraft && e.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *memoryTx) ApplyBalanceDeltas(_ context.Context, deltas map[int64]Amount) error {
	m := t.repo
	next := make(map[int64]Amount, len(deltas))
	for id, delta := range deltas {
		sum, err := AddAmounts(m.balances[id], delta)
		if err != nil {
			return err
		}
		next[id] = sum
	}
	for id, sum := range next {
		prev := m.balances[id]
		m.balances[id] = sum
		t.undo = append(t.undo, func() { m.balances[id] = prev })
	}
	return nil
}

func (t *memoryTx) LockBalances(_ context.Context, ids []int64) (map[int64]Amount, error) {
	out := make(map[int64]Amount, len(ids))
	for _, id := range ids {
		out[id] = t.repo.balances[id]
	}
	return out, nil
}

func (t *memoryTx) ReplaceBalances(_ context.Context, nets map[int64]Amount) error {
	m := t.repo
	prev := m.balances
	m.balances = make(map[int64]Amount, len(nets))
	for id, net := range nets {
		m.balances[id] = net
	}
	t.undo = append(t.undo, func() { m.balances = prev })
	return nil
}
