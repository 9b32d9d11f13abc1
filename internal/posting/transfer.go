package posting

import (
	"context"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// TransferStock moves stock between warehouses. Source lots are consumed in
// FEFO order in the same transaction that creates the destination lots, so
// the transfer has no journal impact and no separate commit phase.
func (c *Coordinator) TransferStock(ctx context.Context, in TransferInput) (Composite, error) {
	return c.run(ctx, KindStockTransfer, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		res, err := c.stock.Transfer(ctx, inventory.TransferInput{
			ProductID:     in.ProductID,
			FromWarehouse: in.FromWarehouse,
			ToWarehouse:   in.ToWarehouse,
			Qty:           in.Qty,
			Reference:     in.Reference,
			ActorID:       in.ActorID,
		})
		if err != nil {
			return Composite{}, err
		}
		composite := c.newComposite(KindStockTransfer, in.Reference, in.IdempotencyKey)
		for i, picked := range res.Allocation.Lines {
			composite.Lines = append(composite.Lines, Line{
				ProductID:   in.ProductID,
				WarehouseID: in.FromWarehouse,
				LotID:       picked.LotID,
				Qty:         -picked.Qty,
				UnitCost:    picked.UnitCost,
			})
			dst := res.Lots[i]
			composite.Lines = append(composite.Lines, Line{
				ProductID:   in.ProductID,
				WarehouseID: in.ToWarehouse,
				LotID:       dst.ID,
				Qty:         dst.InitialQty,
				UnitCost:    dst.UnitCost,
			})
		}
		composite.MovementIDs = movementIDs(res.Movements)
		return c.persist(ctx, composite, undo{movements: res.Movements, actorID: in.ActorID})
	})
}
