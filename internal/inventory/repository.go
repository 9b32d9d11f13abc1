package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLot(ctx context.Context, id uuid.UUID) (Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	ListMovements(ctx context.Context, lotID uuid.UUID) ([]StockMovement, error)
	GetReservation(ctx context.Context, handle uuid.UUID) (Reservation, error)
	ListStaleReservations(ctx context.Context, before time.Time) ([]Reservation, error)
	// MovementSums returns Σ delta per lot over the whole movement log.
	MovementSums(ctx context.Context) (map[uuid.UUID]int64, error)
	// ActiveReservedSums returns Σ qty of ACTIVE reservation lines per lot.
	ActiveReservedSums(ctx context.Context) (map[uuid.UUID]int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertLot(ctx context.Context, lot Lot) error
	GetLotForUpdate(ctx context.Context, id uuid.UUID) (Lot, error)
	// LockLots locks every lot of the key that still has stock.
	LockLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error
	InsertMovements(ctx context.Context, movements []StockMovement) error
	InsertReservation(ctx context.Context, res Reservation) error
	GetReservationForUpdate(ctx context.Context, handle uuid.UUID) (Reservation, error)
	CloseReservation(ctx context.Context, handle uuid.UUID, status ReservationStatus, at time.Time) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const lotColumns = `id, product_id, warehouse_id, on_hand, reserved, initial_qty, unit_cost, production_date, expiry_date, received_at, damaged, source_lot_id`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ProductID, &l.WarehouseID, &l.OnHand, &l.Reserved, &l.InitialQty, &l.UnitCost,
		&l.ProductionDate, &l.ExpiryDate, &l.ReceivedAt, &l.Damaged, &l.SourceLotID)
	return l, err
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// GetLot loads a lot.
func (r *Repository) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	l, err := scanLot(r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return l, err
}

// ListLots returns lots matching filter ordered by expiry.
func (r *Repository) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR warehouse_id = $2)
  AND ($3::date IS NULL OR (expiry_date IS NOT NULL AND expiry_date <= $3))
  AND ($4 OR on_hand > 0)
ORDER BY expiry_date NULLS LAST, received_at, id`,
		filter.ProductID, filter.WarehouseID, filter.ExpiringBefore, filter.IncludeEmpty)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

const movementColumns = `id, lot_id, delta, type, journal_entry_id, reservation_id, reason, created_at`

// ListMovements returns the movement log of a lot in order.
func (r *Repository) ListMovements(ctx context.Context, lotID uuid.UUID) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE lot_id=$1 ORDER BY created_at, id`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		var typ string
		if err := rows.Scan(&m.ID, &m.LotID, &m.Delta, &typ, &m.JournalEntryID, &m.ReservationID, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

func getReservation(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, handle uuid.UUID, forUpdate bool) (Reservation, error) {
	query := `SELECT handle, product_id, warehouse_id, qty, status, created_at, closed_at FROM reservations WHERE handle=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var res Reservation
	var status string
	err := q.QueryRow(ctx, query, handle).Scan(&res.Handle, &res.ProductID, &res.WarehouseID, &res.Qty, &status, &res.CreatedAt, &res.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	res.Status = ReservationStatus(status)
	rows, err := q.Query(ctx, `SELECT lot_id, qty, unit_cost FROM reservation_lines WHERE handle=$1 ORDER BY line_no`, handle)
	if err != nil {
		return Reservation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line ReservationLine
		if err := rows.Scan(&line.LotID, &line.Qty, &line.UnitCost); err != nil {
			return Reservation{}, err
		}
		res.Lines = append(res.Lines, line)
	}
	return res, rows.Err()
}

// GetReservation loads a reservation with its lines.
func (r *Repository) GetReservation(ctx context.Context, handle uuid.UUID) (Reservation, error) {
	return getReservation(ctx, r.pool, handle, false)
}

// ListStaleReservations returns ACTIVE reservations created before the cutoff.
func (r *Repository) ListStaleReservations(ctx context.Context, before time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT handle, product_id, warehouse_id, qty, status, created_at FROM reservations WHERE status='ACTIVE' AND created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		var status string
		if err := rows.Scan(&res.Handle, &res.ProductID, &res.WarehouseID, &res.Qty, &status, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Status = ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

func sumByLot(ctx context.Context, pool *pgxpool.Pool, query string) (map[uuid.UUID]int64, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var sum int64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// MovementSums returns Σ delta per lot.
func (r *Repository) MovementSums(ctx context.Context) (map[uuid.UUID]int64, error) {
	return sumByLot(ctx, r.pool, `SELECT lot_id, COALESCE(SUM(delta), 0) FROM stock_movements GROUP BY lot_id`)
}

// ActiveReservedSums returns Σ reserved qty per lot over ACTIVE reservations.
func (r *Repository) ActiveReservedSums(ctx context.Context) (map[uuid.UUID]int64, error) {
	return sumByLot(ctx, r.pool, `SELECT l.lot_id, COALESCE(SUM(l.qty), 0) FROM reservation_lines l JOIN reservations r ON r.handle = l.handle WHERE r.status='ACTIVE' GROUP BY l.lot_id`)
}

func (r *txRepo) InsertLot(ctx context.Context, l Lot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO lots (`+lotColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.ProductID, l.WarehouseID, l.OnHand, l.Reserved, l.InitialQty, l.UnitCost, l.ProductionDate, l.ExpiryDate, l.ReceivedAt, l.Damaged, l.SourceLotID)
	return err
}

func (r *txRepo) GetLotForUpdate(ctx context.Context, id uuid.UUID) (Lot, error) {
	l, err := scanLot(r.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return l, err
}

func (r *txRepo) LockLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots WHERE product_id=$1 AND warehouse_id=$2 AND on_hand > 0 ORDER BY id FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepo) UpdateLot(ctx context.Context, l Lot) error {
	_, err := r.tx.Exec(ctx, `UPDATE lots SET on_hand=$2, reserved=$3, updated_at=NOW() WHERE id=$1`, l.ID, l.OnHand, l.Reserved)
	return err
}

func (r *txRepo) InsertMovements(ctx context.Context, movements []StockMovement) error {
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO stock_movements (`+movementColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.LotID, m.Delta, string(m.Type), m.JournalEntryID, m.ReservationID, m.Reason, m.CreatedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) InsertReservation(ctx context.Context, res Reservation) error {
	if _, err := r.tx.Exec(ctx, `INSERT INTO reservations (handle, product_id, warehouse_id, qty, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		res.Handle, res.ProductID, res.WarehouseID, res.Qty, string(res.Status), res.CreatedAt); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, line := range res.Lines {
		batch.Queue(`INSERT INTO reservation_lines (handle, line_no, lot_id, qty, unit_cost) VALUES ($1, $2, $3, $4, $5)`,
			res.Handle, i+1, line.LotID, line.Qty, line.UnitCost)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) GetReservationForUpdate(ctx context.Context, handle uuid.UUID) (Reservation, error) {
	return getReservation(ctx, r.tx, handle, true)
}

func (r *txRepo) CloseReservation(ctx context.Context, handle uuid.UUID, status ReservationStatus, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE reservations SET status=$2, closed_at=$3 WHERE handle=$1`, handle, string(status), at)
	return err
}
