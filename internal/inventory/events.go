package inventory

import (
	"time"

	"github.com/google/uuid"
)

// StockChangedEvent is emitted after a committed change to on-hand quantities.
type StockChangedEvent struct {
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	Delta       int64
	LotIDs      []uuid.UUID
	At          time.Time
}
