package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func (s Settlement) normalize() (Settlement, error) {
	switch s {
	case "":
		return SettlementCredit, nil
	case SettlementCredit, SettlementCash:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown settlement %q", ErrInvalidInput, s)
	}
}

// counterRole picks the receivable or payable account for an invoice.
func (s Settlement) counterRole(credit accounting.Role) accounting.Role {
	if s == SettlementCash {
		return accounting.RoleCash
	}
	return credit
}

func (in SalesInvoiceInput) validate() error {
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrInvalidInput)
	}
	for i, line := range in.Lines {
		if line.ProductID == 0 || line.WarehouseID == 0 {
			return fmt.Errorf("%w: line %d product and warehouse required", ErrInvalidInput, i)
		}
		if line.Qty <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d negative price", ErrInvalidInput, i)
		}
	}
	return nil
}

// PostSalesInvoice reserves stock in FEFO order, posts revenue and cost of
// goods sold, then consumes the reservations.
func (c *Coordinator) PostSalesInvoice(ctx context.Context, in SalesInvoiceInput) (Composite, error) {
	if err := in.validate(); err != nil {
		return Composite{}, err
	}
	settlement, err := in.Settlement.normalize()
	if err != nil {
		return Composite{}, err
	}
	return c.run(ctx, KindSalesInvoice, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		accounts, err := c.resolve(settlement.counterRole(accounting.RoleAR), accounting.RoleSalesRevenue, accounting.RoleCOGS, accounting.RoleInventory)
		if err != nil {
			return Composite{}, err
		}
		var revenue accounting.Amount
		for _, line := range in.Lines {
			amount, err := accounting.MulAmount(line.Qty, line.UnitPrice)
			if err != nil {
				return Composite{}, err
			}
			if revenue, err = accounting.AddAmounts(revenue, amount); err != nil {
				return Composite{}, err
			}
		}

		composite := c.newComposite(KindSalesInvoice, in.Reference, in.IdempotencyKey)
		handles := make([]uuid.UUID, 0, len(in.Lines))
		var cost accounting.Amount
		for _, line := range in.Lines {
			alloc, err := c.stock.Allocate(ctx, inventory.AllocateInput{ProductID: line.ProductID, WarehouseID: line.WarehouseID, Qty: line.Qty})
			if err != nil {
				_ = c.releaseAll(context.WithoutCancel(ctx), handles)
				return Composite{}, err
			}
			handles = append(handles, alloc.Handle)
			if cost, err = accounting.AddAmounts(cost, accounting.Amount(alloc.TotalCost)); err != nil {
				_ = c.releaseAll(context.WithoutCancel(ctx), handles)
				return Composite{}, err
			}
			for _, picked := range alloc.Lines {
				composite.Lines = append(composite.Lines, Line{
					ProductID:   line.ProductID,
					WarehouseID: line.WarehouseID,
					LotID:       picked.LotID,
					Qty:         picked.Qty,
					UnitPrice:   line.UnitPrice,
					UnitCost:    picked.UnitCost,
					Settlement:  settlement,
				})
			}
		}

		var lines []accounting.PostingLineInput
		if revenue > 0 {
			lines = append(lines,
				accounting.PostingLineInput{AccountID: accounts[settlement.counterRole(accounting.RoleAR)], Debit: revenue, Memo: "sales"},
				accounting.PostingLineInput{AccountID: accounts[accounting.RoleSalesRevenue], Credit: revenue, Memo: "sales"},
			)
		}
		if cost > 0 {
			lines = append(lines,
				accounting.PostingLineInput{AccountID: accounts[accounting.RoleCOGS], Debit: cost, Memo: "cost of goods sold"},
				accounting.PostingLineInput{AccountID: accounts[accounting.RoleInventory], Credit: cost, Memo: "cost of goods sold"},
			)
		}
		if len(lines) == 0 {
			_ = c.releaseAll(context.WithoutCancel(ctx), handles)
			return Composite{}, fmt.Errorf("%w: invoice has no value", ErrInvalidInput)
		}
		entry, err := c.post(ctx, KindSalesInvoice, accounting.PostingInput{
			Reference: in.Reference,
			Memo:      fmt.Sprintf("Sales invoice %s customer %d", in.Reference, in.CustomerID),
			ActorID:   in.ActorID,
			Lines:     lines,
		})
		if err != nil {
			_ = c.releaseAll(context.WithoutCancel(ctx), handles)
			return Composite{}, err
		}
		composite.JournalEntryID = entryID(&entry)

		var movements []inventory.StockMovement
		err = c.retry(ctx, KindSalesInvoice, func() error {
			var err error
			movements, err = c.stock.CommitMany(ctx, handles, inventory.CommitOptions{JournalEntryID: composite.JournalEntryID, Reason: in.Reference})
			return err
		})
		if err != nil {
			return Composite{}, c.compensate(ctx, composite, undo{entry: &entry, handles: handles, actorID: in.ActorID}, err)
		}
		composite.MovementIDs = movementIDs(movements)
		return c.persist(ctx, composite, undo{entry: &entry, movements: movements, actorID: in.ActorID})
	})
}
