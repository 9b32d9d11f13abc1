package posting

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// WriteOff scraps stock, expired and damaged lots included, and expenses its
// cost (Dr Inventory Write-off / Cr Inventory).
func (c *Coordinator) WriteOff(ctx context.Context, in WriteOffInput) (Composite, error) {
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return Composite{}, fmt.Errorf("%w: product and warehouse required", ErrInvalidInput)
	}
	if in.Qty <= 0 {
		return Composite{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Composite{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	}
	return c.run(ctx, KindWriteOff, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		accounts, err := c.resolve(accounting.RoleInventoryWriteOff, accounting.RoleInventory)
		if err != nil {
			return Composite{}, err
		}
		alloc, err := c.stock.AllocateForScrap(ctx, inventory.AllocateInput{ProductID: in.ProductID, WarehouseID: in.WarehouseID, Qty: in.Qty})
		if err != nil {
			return Composite{}, err
		}
		handles := []uuid.UUID{alloc.Handle}
		composite := c.newComposite(KindWriteOff, in.Reason, in.IdempotencyKey)
		for _, picked := range alloc.Lines {
			composite.Lines = append(composite.Lines, Line{
				ProductID:   in.ProductID,
				WarehouseID: in.WarehouseID,
				LotID:       picked.LotID,
				Qty:         picked.Qty,
				UnitCost:    picked.UnitCost,
			})
		}

		var entry *accounting.JournalEntry
		if alloc.TotalCost > 0 {
			cost := accounting.Amount(alloc.TotalCost)
			posted, err := c.post(ctx, KindWriteOff, accounting.PostingInput{
				Reference: in.Reason,
				Memo:      fmt.Sprintf("Write-off product %d warehouse %d: %s", in.ProductID, in.WarehouseID, in.Reason),
				ActorID:   in.ActorID,
				Lines: []accounting.PostingLineInput{
					{AccountID: accounts[accounting.RoleInventoryWriteOff], Debit: cost},
					{AccountID: accounts[accounting.RoleInventory], Credit: cost},
				},
			})
			if err != nil {
				_ = c.releaseAll(context.WithoutCancel(ctx), handles)
				return Composite{}, err
			}
			entry = &posted
			composite.JournalEntryID = entryID(entry)
		}

		var movements []inventory.StockMovement
		err = c.retry(ctx, KindWriteOff, func() error {
			var err error
			movements, err = c.stock.CommitMany(ctx, handles, inventory.CommitOptions{
				JournalEntryID: composite.JournalEntryID,
				Type:           inventory.MovementAdjustment,
				Reason:         in.Reason,
			})
			return err
		})
		if err != nil {
			return Composite{}, c.compensate(ctx, composite, undo{entry: entry, handles: handles, actorID: in.ActorID}, err)
		}
		composite.MovementIDs = movementIDs(movements)
		return c.persist(ctx, composite, undo{entry: entry, movements: movements, actorID: in.ActorID})
	})
}
