package accounting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ChangeNotifier is told after every committed change to balances.
type ChangeNotifier interface {
	Bump(ctx context.Context) error
}

// Service owns the chart of accounts and the journal engine.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier ChangeNotifier
	now      func() time.Time

	// structure is held shared by postings and exclusively by changes to
	// the tree, so a leaf cannot gain children while a posting is in flight.
	structure sync.RWMutex
	tree      *Tree

	mapMu    sync.RWMutex
	mappings map[Role]int64
}

// NewService constructs the ledger service. Call Load before use.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	tree, _ := NewTree(nil)
	return &Service{repo: repo, audit: audit, now: time.Now, tree: tree, mappings: make(map[Role]int64)}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithNotifier registers the change notifier.
func (s *Service) WithNotifier(n ChangeNotifier) {
	s.notifier = n
}

// Load rebuilds the in-memory tree from the repository.
func (s *Service) Load(ctx context.Context) error {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("accounting: load accounts: %w", err)
	}
	tree, err := NewTree(accounts)
	if err != nil {
		return err
	}
	s.structure.Lock()
	s.tree = tree
	s.structure.Unlock()
	return nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	_ = s.audit.Record(ctx, log)
}

func (s *Service) notify(ctx context.Context) {
	if s.notifier != nil {
		_ = s.notifier.Bump(ctx)
	}
}

// CreateAccount adds a node to the chart of accounts.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return Account{}, fmt.Errorf("%w: code and name required", ErrInvalidAccount)
	}
	if !input.Type.Valid() {
		return Account{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, input.Type)
	}

	s.structure.Lock()
	defer s.structure.Unlock()

	if _, exists := s.tree.ByCode(code); exists {
		return Account{}, ErrDuplicateCode
	}
	acc := Account{Code: code, Name: name, Type: input.Type, CreatedAt: s.now()}
	var parent Account
	if input.ParentCode != "" {
		var ok bool
		parent, ok = s.tree.ByCode(input.ParentCode)
		if !ok {
			return Account{}, fmt.Errorf("%w: unknown parent %s", ErrInvalidParent, input.ParentCode)
		}
		if err := checkParent(parent, input.Type); err != nil {
			return Account{}, err
		}
		id := parent.ID
		acc.ParentID = &id
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if acc.ParentID != nil {
			posted, err := tx.AccountHasPostings(ctx, parent.ID)
			if err != nil {
				return err
			}
			if posted {
				return fmt.Errorf("%w: parent %s has postings", ErrInvalidParent, parent.Code)
			}
		}
		inserted, err := tx.InsertAccount(ctx, acc)
		if err != nil {
			return err
		}
		acc = inserted
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if err := s.tree.Add(acc); err != nil {
		return Account{}, err
	}
	acc.IsLeaf = true
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "account.create",
		Entity:   "account",
		EntityID: strconv.FormatInt(acc.ID, 10),
		Meta:     map[string]any{"code": acc.Code, "parent": input.ParentCode},
	})
	return acc, nil
}

func checkParent(parent Account, childType AccountType) error {
	if parent.Archived {
		return fmt.Errorf("%w: parent %s archived", ErrInvalidParent, parent.Code)
	}
	if parent.Type != childType {
		return fmt.Errorf("%w: parent %s is %s", ErrInvalidParent, parent.Code, parent.Type)
	}
	return nil
}

// MoveAccount reparents an account and migrates its cached balance from the
// old ancestor chain to the new one.
func (s *Service) MoveAccount(ctx context.Context, code, parentCode string, actorID int64) (Account, error) {
	s.structure.Lock()
	defer s.structure.Unlock()

	acc, ok := s.tree.ByCode(code)
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	parent, ok := s.tree.ByCode(parentCode)
	if !ok {
		return Account{}, fmt.Errorf("%w: unknown parent %s", ErrInvalidParent, parentCode)
	}
	if err := checkParent(parent, acc.Type); err != nil {
		return Account{}, err
	}
	if s.tree.IsAncestor(acc.ID, parent.ID) {
		return Account{}, fmt.Errorf("%w: %s would become its own ancestor", ErrInvalidParent, acc.Code)
	}
	if acc.ParentID != nil && *acc.ParentID == parent.ID {
		return acc, nil
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := tx.AccountHasPostings(ctx, parent.ID)
		if err != nil {
			return err
		}
		if posted {
			return fmt.Errorf("%w: parent %s has postings", ErrInvalidParent, parent.Code)
		}
		cached, err := tx.LockBalances(ctx, []int64{acc.ID})
		if err != nil {
			return err
		}
		net := cached[acc.ID]
		deltas := make(map[int64]Amount)
		for _, id := range s.tree.Ancestors(acc.ID) {
			deltas[id] -= net
		}
		for _, id := range append([]int64{parent.ID}, s.tree.Ancestors(parent.ID)...) {
			deltas[id] += net
		}
		for id, d := range deltas {
			if d == 0 {
				delete(deltas, id)
			}
		}
		if err := tx.SetAccountParent(ctx, acc.ID, parent.ID); err != nil {
			return err
		}
		if len(deltas) == 0 {
			return nil
		}
		return tx.ApplyBalanceDeltas(ctx, deltas)
	})
	if err != nil {
		return Account{}, err
	}
	s.tree.Move(acc.ID, parent.ID)
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "account.move",
		Entity:   "account",
		EntityID: strconv.FormatInt(acc.ID, 10),
		Meta:     map[string]any{"parent": parent.Code},
	})
	moved, _ := s.tree.Get(acc.ID)
	return moved, nil
}

// Archive hides an account from listings and postings.
func (s *Service) Archive(ctx context.Context, id int64, actorID int64) error {
	s.structure.Lock()
	defer s.structure.Unlock()

	acc, ok := s.tree.Get(id)
	if !ok {
		return ErrUnknownAccount
	}
	if acc.Archived {
		return nil
	}
	if s.tree.ActiveChildren(id) {
		return ErrHasActiveChildren
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := tx.AccountHasPostings(ctx, id)
		if err != nil {
			return err
		}
		if posted {
			return ErrHasPostings
		}
		return tx.SetAccountArchived(ctx, id)
	})
	if err != nil {
		return err
	}
	s.tree.SetArchived(id, true)
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "account.archive",
		Entity:   "account",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"code": acc.Code},
	})
	return nil
}

// GetAccount returns the account with id.
func (s *Service) GetAccount(id int64) (Account, error) {
	acc, ok := s.tree.Get(id)
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return acc, nil
}

// GetAccountByCode returns the account with code.
func (s *Service) GetAccountByCode(code string) (Account, error) {
	acc, ok := s.tree.ByCode(code)
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return acc, nil
}

// ListAccounts returns the chart of accounts ordered by code.
func (s *Service) ListAccounts(includeArchived bool) []Account {
	return s.tree.List(includeArchived)
}

// GetBalance returns the signed balance of an account. A nil asOf reads the
// cache; otherwise posted lines up to asOf are summed.
func (s *Service) GetBalance(ctx context.Context, id int64, asOf *time.Time) (Amount, error) {
	acc, ok := s.tree.Get(id)
	if !ok {
		return 0, ErrUnknownAccount
	}
	sign := Amount(acc.NormalSign())
	if asOf == nil {
		cached, err := s.repo.Balances(ctx, []int64{id})
		if err != nil {
			return 0, err
		}
		return sign * cached[id], nil
	}
	totals, err := s.repo.SumLines(ctx, s.tree.LeafDescendants(id), asOf)
	if err != nil {
		return 0, err
	}
	var net Amount
	for _, t := range totals {
		if net, err = AddAmounts(net, t.Net()); err != nil {
			return 0, err
		}
	}
	return sign * net, nil
}

// LeafBalances returns one row per leaf account, the raw material of a
// trial balance. Archived leaves without activity are omitted.
func (s *Service) LeafBalances(ctx context.Context, asOf *time.Time) ([]LeafBalance, error) {
	totals, err := s.repo.SumLines(ctx, nil, asOf)
	if err != nil {
		return nil, err
	}
	var rows []LeafBalance
	for _, acc := range s.tree.List(true) {
		if !acc.IsLeaf {
			continue
		}
		t := totals[acc.ID]
		if acc.Archived && t.Debit == 0 && t.Credit == 0 {
			continue
		}
		rows = append(rows, LeafBalance{
			Account: acc,
			Debit:   t.Debit,
			Credit:  t.Credit,
			Balance: Amount(acc.NormalSign()) * t.Net(),
		})
	}
	return rows, nil
}

func (s *Service) replay(ctx context.Context) (map[int64]Amount, error) {
	totals, err := s.repo.SumLines(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	leafNets := make(map[int64]Amount, len(totals))
	for id, t := range totals {
		leafNets[id] = t.Net()
	}
	return s.tree.RollUp(leafNets)
}

// Verify replays the line log and reports cached balances that disagree.
func (s *Service) Verify(ctx context.Context) ([]BalanceDrift, error) {
	s.structure.RLock()
	defer s.structure.RUnlock()
	drift, _, err := s.verify(ctx)
	return drift, err
}

func (s *Service) verify(ctx context.Context) ([]BalanceDrift, map[int64]Amount, error) {
	replayed, err := s.replay(ctx)
	if err != nil {
		return nil, nil, err
	}
	cached, err := s.repo.Balances(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	var drift []BalanceDrift
	for _, acc := range s.tree.List(true) {
		if cached[acc.ID] != replayed[acc.ID] {
			drift = append(drift, BalanceDrift{AccountID: acc.ID, Code: acc.Code, Cached: cached[acc.ID], Replayed: replayed[acc.ID]})
		}
	}
	return drift, replayed, nil
}

// Rebuild overwrites the balance cache from the line log and returns the
// number of accounts that changed.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	s.structure.Lock()
	defer s.structure.Unlock()
	drift, replayed, err := s.verify(ctx)
	if err != nil {
		return 0, err
	}
	if len(drift) == 0 {
		return 0, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ReplaceBalances(ctx, replayed)
	})
	if err != nil {
		return 0, err
	}
	s.notify(ctx)
	return len(drift), nil
}
