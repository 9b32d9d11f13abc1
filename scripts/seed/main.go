package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/posting"
)

// Loads demo activity into the configured books: purchases with staggered
// expiry dates, FEFO sales, a transfer, a return, a payment and a write-off.
// Every command carries an idempotency key so the script can be rerun.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	c, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer c.Close()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	day := func(n int) *time.Time {
		d := today.AddDate(0, 0, n)
		return &d
	}

	fmt.Println("→ Seeding purchases...")
	for i, line := range []posting.PurchaseLine{
		{ProductID: 1, WarehouseID: 1, Qty: 120, UnitCost: 4500, ExpiryDate: day(20)},
		{ProductID: 1, WarehouseID: 1, Qty: 200, UnitCost: 4800, ExpiryDate: day(90)},
		{ProductID: 2, WarehouseID: 1, Qty: 60, UnitCost: 12000, ExpiryDate: day(-3)},
		{ProductID: 2, WarehouseID: 1, Qty: 80, UnitCost: 12500, ExpiryDate: day(180)},
		{ProductID: 3, WarehouseID: 2, Qty: 40, UnitCost: 30000},
	} {
		must(c.Coordinator.PostPurchaseInvoice(ctx, posting.PurchaseInvoiceInput{
			SupplierID:     int64(10 + i%2),
			Reference:      fmt.Sprintf("PI-DEMO-%03d", i+1),
			Lines:          []posting.PurchaseLine{line},
			IdempotencyKey: fmt.Sprintf("seed-purchase-%d", i+1),
		}))
	}

	fmt.Println("→ Seeding sales...")
	sale := must(c.Coordinator.PostSalesInvoice(ctx, posting.SalesInvoiceInput{
		CustomerID: 100,
		Reference:  "SI-DEMO-001",
		Lines: []posting.SalesLine{
			{ProductID: 1, WarehouseID: 1, Qty: 150, UnitPrice: 7000},
			{ProductID: 2, WarehouseID: 1, Qty: 20, UnitPrice: 18000},
		},
		IdempotencyKey: "seed-sale-1",
	}))
	must(c.Coordinator.PostSalesInvoice(ctx, posting.SalesInvoiceInput{
		CustomerID:     101,
		Reference:      "SI-DEMO-002",
		Settlement:     posting.SettlementCash,
		Lines:          []posting.SalesLine{{ProductID: 3, WarehouseID: 2, Qty: 5, UnitPrice: 45000}},
		IdempotencyKey: "seed-sale-2",
	}))

	fmt.Println("→ Seeding transfer...")
	must(c.Coordinator.TransferStock(ctx, posting.TransferInput{
		ProductID: 1, FromWarehouse: 1, ToWarehouse: 2, Qty: 30,
		Reference: "TR-DEMO-001", IdempotencyKey: "seed-transfer-1",
	}))

	fmt.Println("→ Seeding return...")
	if len(sale.Lines) > 0 {
		must(c.Coordinator.PostReturn(ctx, posting.ReturnInput{
			SalesTransactionID: sale.ID,
			Reference:          "RMA-DEMO-001",
			Lines:              []posting.ReturnLine{{LotID: sale.Lines[0].LotID, Qty: 5, Condition: posting.ConditionDamaged}},
			IdempotencyKey:     "seed-return-1",
		}))
	}

	fmt.Println("→ Seeding payment...")
	must(c.Coordinator.PostPayment(ctx, posting.PaymentInput{
		Direction: posting.DirectionReceived, PartyID: 100, Amount: 500000,
		Reference: "RCPT-DEMO-001", IdempotencyKey: "seed-payment-1",
	}))

	fmt.Println("→ Seeding write-off...")
	must(c.Coordinator.WriteOff(ctx, posting.WriteOffInput{
		ProductID: 2, WarehouseID: 1, Qty: 10, Reason: "expired",
		IdempotencyKey: "seed-writeoff-1",
	}))

	report, err := c.Jobs.Integrity.Run(ctx, false)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	fmt.Printf("✓ Seed complete (books consistent: %t)\n", report.Clean())
}

// must aborts on failure. Replayed keys return the stored composite.
func must(composite posting.Composite, err error) posting.Composite {
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	return composite
}
