package accounting

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Role names a posting purpose resolved to a concrete leaf account.
type Role string

const (
	RoleAR                Role = "ar"
	RoleCash              Role = "cash"
	RoleAP                Role = "ap"
	RoleSalesRevenue      Role = "sales_revenue"
	RoleSalesReturns      Role = "sales_returns"
	RoleCOGS              Role = "cogs"
	RoleInventory         Role = "inventory"
	RoleInventoryWriteOff Role = "inventory_writeoff"
)

// Roles lists every role the posting coordinator needs.
var Roles = []Role{RoleAR, RoleCash, RoleAP, RoleSalesRevenue, RoleSalesReturns, RoleCOGS, RoleInventory, RoleInventoryWriteOff}

// SetMappings binds roles to account codes. Each code must name an active leaf.
func (s *Service) SetMappings(codes map[string]string) error {
	resolved := make(map[Role]int64, len(codes))
	for role, code := range codes {
		acc, ok := s.tree.ByCode(code)
		if !ok {
			return fmt.Errorf("%w: role %s -> %s", ErrUnknownAccount, role, code)
		}
		if !acc.IsLeaf || acc.Archived {
			return fmt.Errorf("%w: role %s -> %s", ErrNonLeafAccount, role, code)
		}
		resolved[Role(strings.ToLower(role))] = acc.ID
	}
	s.mapMu.Lock()
	s.mappings = resolved
	s.mapMu.Unlock()
	return nil
}

// Resolve returns the account bound to role.
func (s *Service) Resolve(role Role) (Account, error) {
	s.mapMu.RLock()
	id, ok := s.mappings[role]
	s.mapMu.RUnlock()
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrMappingNotFound, role)
	}
	return s.GetAccount(id)
}

// ApplySeed creates missing accounts from seed and installs its mappings.
// Existing codes are left untouched so the seed can be applied on every start.
func (s *Service) ApplySeed(ctx context.Context, seed shared.Seed) (int, error) {
	created := 0
	for _, acc := range seed.Accounts {
		if _, exists := s.tree.ByCode(acc.Code); exists {
			continue
		}
		_, err := s.CreateAccount(ctx, CreateAccountInput{
			Code:       acc.Code,
			Name:       acc.Name,
			Type:       AccountType(strings.ToUpper(acc.Type)),
			ParentCode: acc.Parent,
		})
		if err != nil {
			return created, fmt.Errorf("accounting: seed %s: %w", acc.Code, err)
		}
		created++
	}
	if len(seed.Mappings) > 0 {
		if err := s.SetMappings(seed.Mappings); err != nil {
			return created, err
		}
	}
	return created, nil
}
