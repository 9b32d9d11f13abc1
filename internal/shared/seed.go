package shared

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap document for a fresh ledger: chart of accounts,
// account role mappings and per-product reorder levels.
type Seed struct {
	Accounts      []SeedAccount     `yaml:"accounts"`
	Mappings      map[string]string `yaml:"mappings"`
	ReorderLevels map[int64]int64   `yaml:"reorder_levels"`
}

// SeedAccount describes one account. Parent must appear earlier in the list.
type SeedAccount struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Parent string `yaml:"parent"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a seed document.
func ParseSeed(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("seed: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(seed.Accounts))
	for i, acc := range seed.Accounts {
		if acc.Code == "" || acc.Name == "" || acc.Type == "" {
			return Seed{}, fmt.Errorf("seed: account %d: code, name and type required", i)
		}
		if _, dup := seen[acc.Code]; dup {
			return Seed{}, fmt.Errorf("seed: duplicate account code %s", acc.Code)
		}
		if acc.Parent != "" {
			if _, ok := seen[acc.Parent]; !ok {
				return Seed{}, fmt.Errorf("seed: account %s: parent %s must be declared first", acc.Code, acc.Parent)
			}
		}
		seen[acc.Code] = struct{}{}
	}
	for role, code := range seed.Mappings {
		if _, ok := seen[code]; !ok && len(seed.Accounts) > 0 {
			return Seed{}, fmt.Errorf("seed: mapping %s references unknown account %s", role, code)
		}
	}
	for product, level := range seed.ReorderLevels {
		if level < 0 {
			return Seed{}, fmt.Errorf("seed: reorder level for product %d must be >= 0", product)
		}
	}
	return seed, nil
}

// DefaultSeed is used when no seed file is configured.
const DefaultSeed = `
accounts:
  - {code: "1000", name: "Assets", type: ASSET}
  - {code: "1100", name: "Cash", type: ASSET, parent: "1000"}
  - {code: "1200", name: "Accounts Receivable", type: ASSET, parent: "1000"}
  - {code: "1300", name: "Inventory", type: ASSET, parent: "1000"}
  - {code: "2000", name: "Liabilities", type: LIABILITY}
  - {code: "2100", name: "Accounts Payable", type: LIABILITY, parent: "2000"}
  - {code: "3000", name: "Equity", type: EQUITY}
  - {code: "3100", name: "Owner Capital", type: EQUITY, parent: "3000"}
  - {code: "4000", name: "Revenue", type: REVENUE}
  - {code: "4100", name: "Sales Revenue", type: REVENUE, parent: "4000"}
  - {code: "4200", name: "Sales Returns", type: REVENUE, parent: "4000"}
  - {code: "5000", name: "Expenses", type: EXPENSE}
  - {code: "5100", name: "Cost of Goods Sold", type: EXPENSE, parent: "5000"}
  - {code: "5200", name: "Inventory Write-off", type: EXPENSE, parent: "5000"}
mappings:
  cash: "1100"
  ar: "1200"
  inventory: "1300"
  ap: "2100"
  sales_revenue: "4100"
  sales_returns: "4200"
  cogs: "5100"
  inventory_writeoff: "5200"
`
