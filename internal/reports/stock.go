package reports

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// ValuationFilter narrows StockValuation. Zero fields match everything.
type ValuationFilter struct {
	ProductID   int64
	WarehouseID int64
}

// ValuationRow is the on-hand value of one product in one warehouse.
type ValuationRow struct {
	ProductID   int64 `json:"productId"`
	WarehouseID int64 `json:"warehouseId"`
	OnHand      int64 `json:"onHand"`
	Reserved    int64 `json:"reserved"`
	Value       int64 `json:"value"`
	Lots        int   `json:"lots"`
}

// StockValuation sums on-hand times unit cost.
type StockValuation struct {
	Rows  []ValuationRow `json:"rows"`
	Total int64          `json:"total"`
}

type stockKey struct{ product, warehouse int64 }

func compareKeys(a, b stockKey) int {
	if c := cmp.Compare(a.product, b.product); c != 0 {
		return c
	}
	return cmp.Compare(a.warehouse, b.warehouse)
}

// BuildValuation aggregates lots per product and warehouse.
func BuildValuation(lots []inventory.Lot) StockValuation {
	rows := make(map[stockKey]*ValuationRow)
	var out StockValuation
	for _, l := range lots {
		if l.OnHand == 0 {
			continue
		}
		k := stockKey{l.ProductID, l.WarehouseID}
		row, ok := rows[k]
		if !ok {
			row = &ValuationRow{ProductID: l.ProductID, WarehouseID: l.WarehouseID}
			rows[k] = row
		}
		value := l.OnHand * l.UnitCost
		row.OnHand += l.OnHand
		row.Reserved += l.Reserved
		row.Value += value
		row.Lots++
		out.Total += value
	}
	keys := make([]stockKey, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	out.Rows = make([]ValuationRow, 0, len(keys))
	for _, k := range keys {
		out.Rows = append(out.Rows, *rows[k])
	}
	return out
}

// ExpiringLot is a lot approaching or past its expiry date.
type ExpiringLot struct {
	LotID       uuid.UUID           `json:"lotId"`
	ProductID   int64               `json:"productId"`
	WarehouseID int64               `json:"warehouseId"`
	OnHand      int64               `json:"onHand"`
	Value       int64               `json:"value"`
	ExpiryDate  string              `json:"expiryDate"`
	DaysLeft    int                 `json:"daysLeft"`
	Status      inventory.LotStatus `json:"status"`
	Damaged     bool                `json:"damaged"`
}

// BuildExpiring lists lots with stock expiring on or before now plus
// withinDays, soonest first.
func BuildExpiring(lots []inventory.Lot, now time.Time, withinDays int) []ExpiringLot {
	today := truncateDay(now)
	limit := today.AddDate(0, 0, withinDays)
	out := make([]ExpiringLot, 0)
	for _, l := range lots {
		if l.OnHand == 0 || l.ExpiryDate == nil {
			continue
		}
		expiry := truncateDay(*l.ExpiryDate)
		if expiry.After(limit) {
			continue
		}
		out = append(out, ExpiringLot{
			LotID:       l.ID,
			ProductID:   l.ProductID,
			WarehouseID: l.WarehouseID,
			OnHand:      l.OnHand,
			Value:       l.OnHand * l.UnitCost,
			ExpiryDate:  expiry.Format(time.DateOnly),
			DaysLeft:    int(expiry.Sub(today).Hours() / 24),
			Status:      l.Status(now),
			Damaged:     l.Damaged,
		})
	}
	slices.SortStableFunc(out, func(a, b ExpiringLot) int {
		if c := cmp.Compare(a.ExpiryDate, b.ExpiryDate); c != 0 {
			return c
		}
		return compareKeys(stockKey{a.ProductID, a.WarehouseID}, stockKey{b.ProductID, b.WarehouseID})
	})
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LowStockRow is a product and warehouse whose sellable stock is below its
// reorder level.
type LowStockRow struct {
	ProductID    int64 `json:"productId"`
	WarehouseID  int64 `json:"warehouseId"`
	Available    int64 `json:"available"`
	ReorderLevel int64 `json:"reorderLevel"`
	Shortfall    int64 `json:"shortfall"`
}

// BuildLowStock compares sellable availability against reorder levels.
// Products without a configured level use defaultLevel. Products never
// received do not appear.
func BuildLowStock(lots []inventory.Lot, now time.Time, levels map[int64]int64, defaultLevel int64) []LowStockRow {
	available := make(map[stockKey]int64)
	for _, l := range lots {
		k := stockKey{l.ProductID, l.WarehouseID}
		if _, ok := available[k]; !ok {
			available[k] = 0
		}
		if l.Damaged || l.Expired(now) {
			continue
		}
		available[k] += l.Available()
	}
	out := make([]LowStockRow, 0)
	for k, qty := range available {
		level, ok := levels[k.product]
		if !ok {
			level = defaultLevel
		}
		if qty >= level {
			continue
		}
		out = append(out, LowStockRow{
			ProductID:    k.product,
			WarehouseID:  k.warehouse,
			Available:    qty,
			ReorderLevel: level,
			Shortfall:    level - qty,
		})
	}
	slices.SortFunc(out, func(a, b LowStockRow) int {
		return compareKeys(stockKey{a.ProductID, a.WarehouseID}, stockKey{b.ProductID, b.WarehouseID})
	})
	return out
}
