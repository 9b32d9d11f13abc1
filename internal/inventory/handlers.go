package inventory

import "context"

// IntegrationHandler receives inventory events, for example to invalidate
// cached reports.
type IntegrationHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}
