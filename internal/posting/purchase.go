package posting

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func (in PurchaseInvoiceInput) validate() error {
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
		if line.UnitCost < 0 {
			return fmt.Errorf("%w: line %d negative cost", ErrInvalidInput, i)
		}
		if line.ProductionDate != nil && line.ExpiryDate != nil && line.ExpiryDate.Before(*line.ProductionDate) {
			return fmt.Errorf("%w: line %d expiry before production date", ErrInvalidInput, i)
		}
	}
	return nil
}

// PostPurchaseInvoice posts the inventory liability and receives one lot per
// line linked to the journal entry.
func (c *Coordinator) PostPurchaseInvoice(ctx context.Context, in PurchaseInvoiceInput) (Composite, error) {
	if err := in.validate(); err != nil {
		return Composite{}, err
	}
	settlement, err := in.Settlement.normalize()
	if err != nil {
		return Composite{}, err
	}
	return c.run(ctx, KindPurchaseInvoice, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		counter := settlement.counterRole(accounting.RoleAP)
		accounts, err := c.resolve(accounting.RoleInventory, counter)
		if err != nil {
			return Composite{}, err
		}
		var total accounting.Amount
		for _, line := range in.Lines {
			amount, err := accounting.MulAmount(line.Qty, accounting.Amount(line.UnitCost))
			if err != nil {
				return Composite{}, err
			}
			if total, err = accounting.AddAmounts(total, amount); err != nil {
				return Composite{}, err
			}
		}

		composite := c.newComposite(KindPurchaseInvoice, in.Reference, in.IdempotencyKey)
		var entry *accounting.JournalEntry
		if total > 0 {
			posted, err := c.post(ctx, KindPurchaseInvoice, accounting.PostingInput{
				Reference: in.Reference,
				Memo:      fmt.Sprintf("Purchase invoice %s supplier %d", in.Reference, in.SupplierID),
				ActorID:   in.ActorID,
				Lines: []accounting.PostingLineInput{
					{AccountID: accounts[accounting.RoleInventory], Debit: total, Memo: "inventory received"},
					{AccountID: accounts[counter], Credit: total, Memo: "inventory received"},
				},
			})
			if err != nil {
				return Composite{}, err
			}
			entry = &posted
			composite.JournalEntryID = entryID(entry)
		}

		inputs := make([]inventory.ReceiveInput, len(in.Lines))
		for i, line := range in.Lines {
			inputs[i] = inventory.ReceiveInput{
				ProductID:      line.ProductID,
				WarehouseID:    line.WarehouseID,
				Qty:            line.Qty,
				UnitCost:       line.UnitCost,
				ProductionDate: line.ProductionDate,
				ExpiryDate:     line.ExpiryDate,
				JournalEntryID: composite.JournalEntryID,
				Reference:      in.Reference,
				ActorID:        in.ActorID,
			}
		}
		var lots []inventory.Lot
		var movements []inventory.StockMovement
		err = c.retry(ctx, KindPurchaseInvoice, func() error {
			var err error
			lots, movements, err = c.stock.ReceiveBatch(ctx, inputs)
			return err
		})
		if err != nil {
			return Composite{}, c.compensate(ctx, composite, undo{entry: entry, actorID: in.ActorID}, err)
		}
		for _, lot := range lots {
			composite.Lines = append(composite.Lines, Line{
				ProductID:   lot.ProductID,
				WarehouseID: lot.WarehouseID,
				LotID:       lot.ID,
				Qty:         lot.InitialQty,
				UnitCost:    lot.UnitCost,
				Settlement:  settlement,
			})
		}
		composite.MovementIDs = movementIDs(movements)
		return c.persist(ctx, composite, undo{entry: entry, movements: movements, actorID: in.ActorID})
	})
}
