package posting

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/accounting"
)

// PostPayment settles a receivable (Dr Cash / Cr AR) or a payable
// (Dr AP / Cr Cash). It touches only the ledger.
func (c *Coordinator) PostPayment(ctx context.Context, in PaymentInput) (Composite, error) {
	if in.Amount <= 0 {
		return Composite{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	var debit, credit accounting.Role
	switch in.Direction {
	case DirectionReceived:
		debit, credit = accounting.RoleCash, accounting.RoleAR
	case DirectionMade:
		debit, credit = accounting.RoleAP, accounting.RoleCash
	default:
		return Composite{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, in.Direction)
	}
	return c.run(ctx, KindPayment, in.IdempotencyKey, func(ctx context.Context) (Composite, error) {
		accounts, err := c.resolve(debit, credit)
		if err != nil {
			return Composite{}, err
		}
		entry, err := c.post(ctx, KindPayment, accounting.PostingInput{
			Reference: in.Reference,
			Memo:      fmt.Sprintf("Payment %s party %d", in.Direction, in.PartyID),
			ActorID:   in.ActorID,
			Lines: []accounting.PostingLineInput{
				{AccountID: accounts[debit], Debit: in.Amount},
				{AccountID: accounts[credit], Credit: in.Amount},
			},
		})
		if err != nil {
			return Composite{}, err
		}
		composite := c.newComposite(KindPayment, in.Reference, in.IdempotencyKey)
		composite.JournalEntryID = entryID(&entry)
		return c.persist(ctx, composite, undo{entry: &entry, actorID: in.ActorID})
	})
}
