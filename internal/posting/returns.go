package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReturnExceedsError names the lot whose returned quantity would pass what
// the sale consumed from it.
type ReturnExceedsError struct {
	LotID     uuid.UUID
	Sold      int64
	Returned  int64
	Requested int64
}

func (e *ReturnExceedsError) Error() string {
	return fmt.Sprintf("posting: lot %s sold %d, already returned %d, requested %d", e.LotID, e.Sold, e.Returned, e.Requested)
}

// Is matches ErrReturnExceedsSale.
func (e *ReturnExceedsError) Is(target error) bool { return target == ErrReturnExceedsSale }

// Details exposes the quantities in HTTP problem bodies.
func (e *ReturnExceedsError) Details() map[string]any {
	return map[string]any{"lotId": e.LotID, "sold": e.Sold, "returned": e.Returned, "requested": e.Requested}
}

func (in ReturnInput) validate() error {
	if in.SalesTransactionID == uuid.Nil {
		return fmt.Errorf("%w: sales transaction required", ErrInvalidInput)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrInvalidInput)
	}
	for i, line := range in.Lines {
		if line.LotID == uuid.Nil {
			return fmt.Errorf("%w: line %d lot required", ErrInvalidInput, i)
		}
		if line.Qty <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d negative price", ErrInvalidInput, i)
		}
		switch line.Condition {
		case "", ConditionResalable, ConditionDamaged:
		default:
			return fmt.Errorf("%w: line %d unknown condition %q", ErrInvalidInput, i, line.Condition)
		}
	}
	return nil
}

type soldLot struct {
	line     Line
	qty      int64
	returned int64
}

// PostReturn books a sales return against the original invoice. Resalable
// goods go back to their lot; damaged goods open a separate damaged lot.
// Returns of the same sale are serialized.
func (c *Coordinator) PostReturn(ctx context.Context, in ReturnInput) (Composite, error) {
	if err := in.validate(); err != nil {
		return Composite{}, err
	}
	return c.run(ctx, KindSalesReturn, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		var out Composite
		err := c.locker.WithLock(ctx, shared.ReturnLockKey(in.SalesTransactionID.String()), func(ctx context.Context) error {
			var err error
			out, err = c.postReturn(ctx, in)
			return err
		})
		return out, err
	})
}

func (c *Coordinator) postReturn(ctx context.Context, in ReturnInput) (Composite, error) {
	sale, err := c.store.Get(ctx, in.SalesTransactionID)
	if err != nil {
		return Composite{}, err
	}
	if sale.Kind != KindSalesInvoice || sale.Status != StatusCommitted {
		return Composite{}, fmt.Errorf("%w: %s is not a committed sales invoice", ErrInvalidInput, sale.ID)
	}
	sold := make(map[uuid.UUID]*soldLot)
	for _, line := range sale.Lines {
		s, ok := sold[line.LotID]
		if !ok {
			s = &soldLot{line: line}
			sold[line.LotID] = s
		}
		s.qty += line.Qty
	}
	previous, err := c.store.ListByOrigin(ctx, sale.ID)
	if err != nil {
		return Composite{}, err
	}
	for _, ret := range previous {
		for _, line := range ret.Lines {
			if s, ok := sold[line.LotID]; ok {
				s.returned += line.Qty
			}
		}
	}

	requested := make(map[uuid.UUID]int64)
	for _, line := range in.Lines {
		s, ok := sold[line.LotID]
		if !ok {
			return Composite{}, &ReturnExceedsError{LotID: line.LotID, Requested: line.Qty}
		}
		requested[line.LotID] += line.Qty
		if s.returned+requested[line.LotID] > s.qty {
			return Composite{}, &ReturnExceedsError{LotID: line.LotID, Sold: s.qty, Returned: s.returned, Requested: requested[line.LotID]}
		}
	}

	settlement := sale.Lines[0].Settlement
	if settlement == "" {
		settlement = SettlementCredit
	}
	counter := settlement.counterRole(accounting.RoleAR)
	accounts, err := c.resolve(accounting.RoleSalesReturns, counter, accounting.RoleInventory, accounting.RoleCOGS)
	if err != nil {
		return Composite{}, err
	}

	composite := c.newComposite(KindSalesReturn, in.Reference, in.IdempotencyKey)
	origin := sale.ID
	composite.OriginID = &origin
	var refund, cost accounting.Amount
	restock := make([]inventory.RestockLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		s := sold[line.LotID]
		price := line.UnitPrice
		if price == 0 {
			price = s.line.UnitPrice
		}
		condition := line.Condition
		if condition == "" {
			condition = ConditionResalable
		}
		amount, err := accounting.MulAmount(line.Qty, price)
		if err != nil {
			return Composite{}, err
		}
		if refund, err = accounting.AddAmounts(refund, amount); err != nil {
			return Composite{}, err
		}
		lineCost, err := accounting.MulAmount(line.Qty, accounting.Amount(s.line.UnitCost))
		if err != nil {
			return Composite{}, err
		}
		if cost, err = accounting.AddAmounts(cost, lineCost); err != nil {
			return Composite{}, err
		}
		composite.Lines = append(composite.Lines, Line{
			ProductID:   s.line.ProductID,
			WarehouseID: s.line.WarehouseID,
			LotID:       line.LotID,
			Qty:         line.Qty,
			UnitPrice:   price,
			UnitCost:    s.line.UnitCost,
			Condition:   condition,
			Settlement:  settlement,
		})
		restock = append(restock, inventory.RestockLine{LotID: line.LotID, Qty: line.Qty, Damaged: condition == ConditionDamaged})
	}

	var lines []accounting.PostingLineInput
	if refund > 0 {
		lines = append(lines,
			accounting.PostingLineInput{AccountID: accounts[accounting.RoleSalesReturns], Debit: refund, Memo: "sales return"},
			accounting.PostingLineInput{AccountID: accounts[counter], Credit: refund, Memo: "sales return"},
		)
	}
	if cost > 0 {
		lines = append(lines,
			accounting.PostingLineInput{AccountID: accounts[accounting.RoleInventory], Debit: cost, Memo: "returned goods"},
			accounting.PostingLineInput{AccountID: accounts[accounting.RoleCOGS], Credit: cost, Memo: "returned goods"},
		)
	}
	var entry *accounting.JournalEntry
	if len(lines) > 0 {
		posted, err := c.post(ctx, KindSalesReturn, accounting.PostingInput{
			Reference: in.Reference,
			Memo:      fmt.Sprintf("Return of %s", sale.Reference),
			ActorID:   in.ActorID,
			Lines:     lines,
		})
		if err != nil {
			return Composite{}, err
		}
		entry = &posted
		composite.JournalEntryID = entryID(entry)
	}

	var movements []inventory.StockMovement
	err = c.retry(ctx, KindSalesReturn, func() error {
		var err error
		movements, _, err = c.stock.Restock(ctx, inventory.RestockInput{
			Lines:          restock,
			JournalEntryID: composite.JournalEntryID,
			Reason:         in.Reference,
			ActorID:        in.ActorID,
		})
		return err
	})
	if err != nil {
		return Composite{}, c.compensate(ctx, composite, undo{entry: entry, actorID: in.ActorID}, err)
	}
	composite.MovementIDs = movementIDs(movements)
	return c.persist(ctx, composite, undo{entry: entry, movements: movements, actorID: in.ActorID})
}
