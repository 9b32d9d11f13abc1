package accounting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort is the persistence boundary of the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAccounts(ctx context.Context) ([]Account, error)
	GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, int, error)
	// SumLines totals non-draft lines per account, optionally up to asOf.
	// A nil ids slice means every account.
	SumLines(ctx context.Context, ids []int64, asOf *time.Time) (map[int64]LineTotals, error)
	Balances(ctx context.Context, ids []int64) (map[int64]Amount, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, acc Account) (Account, error)
	SetAccountArchived(ctx context.Context, id int64) error
	SetAccountParent(ctx context.Context, id, parentID int64) error
	AccountHasPostings(ctx context.Context, id int64) (bool, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	ReplaceDraft(ctx context.Context, entry JournalEntry) error
	DeleteDraft(ctx context.Context, id uuid.UUID) error
	MarkPosted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkReversed(ctx context.Context, id, reversedBy uuid.UUID) error
	ListStaleDrafts(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	// ApplyBalanceDeltas adds each delta to the cached net of the account,
	// locking the touched rows in ascending account order.
	ApplyBalanceDeltas(ctx context.Context, deltas map[int64]Amount) error
	LockBalances(ctx context.Context, ids []int64) (map[int64]Amount, error)
	ReplaceBalances(ctx context.Context, nets map[int64]Amount) error
}

// Repository provides PostgreSQL persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const accountColumns = `id, code, name, type, parent_id, archived, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	var typ string
	if err := row.Scan(&acc.ID, &acc.Code, &acc.Name, &typ, &acc.ParentID, &acc.Archived, &acc.CreatedAt); err != nil {
		return Account{}, err
	}
	acc.Type = AccountType(typ)
	return acc, nil
}

// ListAccounts returns every account, parents before children.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parentsFirst(accounts), nil
}

// parentsFirst orders accounts so every parent precedes its children. IDs
// alone are not enough once accounts have been moved.
func parentsFirst(accounts []Account) []Account {
	placed := make(map[int64]bool, len(accounts))
	out := make([]Account, 0, len(accounts))
	pending := accounts
	for len(pending) > 0 {
		var next []Account
		for _, acc := range pending {
			if acc.ParentID == nil || placed[*acc.ParentID] {
				out = append(out, acc)
				placed[acc.ID] = true
				continue
			}
			next = append(next, acc)
		}
		if len(next) == len(pending) {
			// orphaned rows; append as-is and let NewTree report them
			return append(out, next...)
		}
		pending = next
	}
	return out
}

const entryColumns = `id, number, reference, memo, status, reversal_of, reversed_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var status string
	if err := row.Scan(&e.ID, &e.Number, &e.Reference, &e.Memo, &status, &e.ReversalOf, &e.ReversedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	e.Status = JournalStatus(status)
	return e, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadLines(ctx context.Context, q querier, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(entries))
	pos := make(map[uuid.UUID]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		pos[e.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT entry_id, account_id, debit, credit, memo FROM journal_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entryID uuid.UUID
		var line JournalLine
		if err := rows.Scan(&entryID, &line.AccountID, &line.Debit, &line.Credit, &line.Memo); err != nil {
			return err
		}
		i := pos[entryID]
		entries[i].Lines = append(entries[i].Lines, line)
	}
	return rows.Err()
}

func getEntry(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	entry, err := scanEntry(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	entries := []JournalEntry{entry}
	if err := loadLines(ctx, q, entries); err != nil {
		return JournalEntry{}, err
	}
	return entries[0], nil
}

// GetEntry loads an entry with its lines.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return getEntry(ctx, r.pool, id, false)
}

// ListEntries returns a page of entries, newest first, with the total count.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, int, error) {
	limit, offset := shared.Window(filter.Page, filter.PerPage)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE ($1 = '' OR status = $1)`, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE ($1 = '' OR status = $1) ORDER BY number DESC LIMIT $2 OFFSET $3`, string(filter.Status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := loadLines(ctx, r.pool, entries); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SumLines totals posted lines per account.
func (r *Repository) SumLines(ctx context.Context, ids []int64, asOf *time.Time) (map[int64]LineTotals, error) {
	rows, err := r.pool.Query(ctx, `
SELECT l.account_id, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.status <> 'DRAFT'
  AND ($1::bigint[] IS NULL OR l.account_id = ANY($1))
  AND ($2::timestamptz IS NULL OR e.posted_at <= $2)
GROUP BY l.account_id`, ids, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]LineTotals)
	for rows.Next() {
		var id int64
		var t LineTotals
		if err := rows.Scan(&id, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}

// Balances returns cached nets for ids.
func (r *Repository) Balances(ctx context.Context, ids []int64) (map[int64]Amount, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, net FROM account_balances WHERE ($1::bigint[] IS NULL OR account_id = ANY($1))`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Amount)
	for rows.Next() {
		var id int64
		var net Amount
		if err := rows.Scan(&id, &net); err != nil {
			return nil, err
		}
		out[id] = net
	}
	return out, rows.Err()
}

func (r *txRepo) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, parent_id, archived, created_at) VALUES ($1, $2, $3, $4, FALSE, $5) RETURNING `+accountColumns,
		acc.Code, acc.Name, string(acc.Type), acc.ParentID, acc.CreatedAt)
	inserted, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO account_balances (account_id, net) VALUES ($1, 0)`, inserted.ID); err != nil {
		return Account{}, err
	}
	return inserted, nil
}

func (r *txRepo) SetAccountArchived(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE accounts SET archived = TRUE WHERE id=$1`, id)
	return err
}

func (r *txRepo) SetAccountParent(ctx context.Context, id, parentID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE accounts SET parent_id=$2 WHERE id=$1`, id, parentID)
	return err
}

func (r *txRepo) AccountHasPostings(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id WHERE l.account_id=$1 AND e.status <> 'DRAFT')`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (id, reference, memo, status, reversal_of, posted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING `+entryColumns,
		entry.ID, entry.Reference, entry.Memo, string(entry.Status), entry.ReversalOf, entry.PostedAt, entry.CreatedAt)
	inserted, err := scanEntry(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return JournalEntry{}, ErrEntryExists
		}
		return JournalEntry{}, err
	}
	if err := r.insertLines(ctx, entry.ID, entry.Lines); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = entry.Lines
	return inserted, nil
}

func (r *txRepo) insertLines(ctx context.Context, entryID uuid.UUID, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, memo) VALUES ($1, $2, $3, $4, $5, $6)`,
			entryID, i+1, line.AccountID, line.Debit, line.Credit, line.Memo)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) GetEntryForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return getEntry(ctx, r.tx, id, true)
}

func (r *txRepo) ReplaceDraft(ctx context.Context, entry JournalEntry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET reference=$2, memo=$3, updated_at=$4 WHERE id=$1 AND status='DRAFT'`,
		entry.ID, entry.Reference, entry.Memo, entry.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entry.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, entry.ID, entry.Lines)
}

func (r *txRepo) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1 AND EXISTS (SELECT 1 FROM journal_entries WHERE id=$1 AND status='DRAFT')`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1 AND status='DRAFT'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (r *txRepo) MarkPosted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_at=$2, updated_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepo) MarkReversed(ctx context.Context, id, reversedBy uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='REVERSED', reversed_by=$2, updated_at=NOW() WHERE id=$1`, id, reversedBy)
	return err
}

func (r *txRepo) ListStaleDrafts(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM journal_entries WHERE status='DRAFT' AND updated_at < $1 ORDER BY updated_at FOR UPDATE SKIP LOCKED`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepo) LockBalances(ctx context.Context, ids []int64) (map[int64]Amount, error) {
	rows, err := r.tx.Query(ctx, `SELECT account_id, net FROM account_balances WHERE account_id = ANY($1) ORDER BY account_id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	current := make(map[int64]Amount, len(ids))
	for rows.Next() {
		var id int64
		var net Amount
		if err := rows.Scan(&id, &net); err != nil {
			return nil, err
		}
		current[id] = net
	}
	return current, rows.Err()
}

func (r *txRepo) ApplyBalanceDeltas(ctx context.Context, deltas map[int64]Amount) error {
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	current, err := r.LockBalances(ctx, ids)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		next, err := AddAmounts(current[id], deltas[id])
		if err != nil {
			return fmt.Errorf("account %d: %w", id, err)
		}
		batch.Queue(`UPDATE account_balances SET net=$2, updated_at=NOW() WHERE account_id=$1`, id, next)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) ReplaceBalances(ctx context.Context, nets map[int64]Amount) error {
	if _, err := r.tx.Exec(ctx, `UPDATE account_balances SET net=0, updated_at=NOW()`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for id, net := range nets {
		batch.Queue(`UPDATE account_balances SET net=$2 WHERE account_id=$1`, id, net)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}
