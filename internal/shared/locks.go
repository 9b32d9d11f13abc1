package shared

import "fmt"

// StockLockKey builds the lock key guarding lots of one product in one warehouse.
func StockLockKey(productID, warehouseID int64) string {
	return fmt.Sprintf("inventory:stock:%d:%d:lock", productID, warehouseID)
}

// ReturnLockKey serializes returns against the same originating sale.
func ReturnLockKey(compositeID string) string {
	return fmt.Sprintf("posting:return:%s:lock", compositeID)
}
