package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/app"
	_ "github.com/odyssey-erp/stockledger/internal/testing/guard"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/jobs"
)

func memoryConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.StorageDriver = app.StorageMemory
	cfg.RedisEnabled = false
	cfg.LockDriver = app.LockLocal
	cfg.SeedFile = ""
	return cfg, nil
}

// buildWithStock seeds one purchase so verify has books to replay.
func buildWithStock(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Container, error) {
	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	expiry := time.Now().AddDate(0, 6, 0)
	_, err = c.Coordinator.PostPurchaseInvoice(ctx, posting.PurchaseInvoiceInput{
		SupplierID: 1,
		Reference:  "PI-1",
		Lines:      []posting.PurchaseLine{{ProductID: 7, WarehouseID: 1, Qty: 10, UnitCost: 100, ExpiryDate: &expiry}},
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(Deps{LoadConfig: memoryConfig, Build: buildWithStock})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVerifyCleanBooks(t *testing.T) {
	out, err := run(t, "verify")
	require.NoError(t, err)
	require.Equal(t, "ok\n", out)

	out, err = run(t, "verify", "--json")
	require.NoError(t, err)
	var body struct {
		Clean bool `json:"clean"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.True(t, body.Clean)
}

func TestRebuildNothingToFix(t *testing.T) {
	out, err := run(t, "rebuild")
	require.NoError(t, err)
	require.Equal(t, "rebuilt 0 accounts, 0 lots\n", out)
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  - {code: "1000", name: "Assets", type: ASSET}
  - {code: "1400", name: "Prepaid", type: ASSET, parent: "1000"}
`), 0o600))

	out, err := run(t, "seed", "--file", path, "--json")
	require.NoError(t, err)
	var body map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, 1, body["created"])

	_, err = run(t, "seed", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestJobsTypes(t *testing.T) {
	out, err := run(t, "jobs", "types")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskTypes(), strings.Fields(out))
}

func TestJobsTriggerRejectsUnknownType(t *testing.T) {
	_, err := run(t, "jobs", "trigger", "nope")
	var unknown *jobs.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
}
