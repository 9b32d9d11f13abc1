package accounting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	bumps int
}

func (n *countingNotifier) Bump(context.Context) error {
	n.mu.Lock()
	n.bumps++
	n.mu.Unlock()
	return nil
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	audit *recordingAudit
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: NewMemoryRepository(), audit: &recordingAudit{}, clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = NewService(f.repo, f.audit)
	f.svc.WithNow(func() time.Time { return f.clock })
	require.NoError(t, f.svc.Load(context.Background()))
	seed, err := shared.ParseSeed([]byte(shared.DefaultSeed))
	require.NoError(t, err)
	_, err = f.svc.ApplySeed(context.Background(), seed)
	require.NoError(t, err)
	return f
}

func (f *fixture) id(t *testing.T, code string) int64 {
	t.Helper()
	acc, err := f.svc.GetAccountByCode(code)
	require.NoError(t, err)
	return acc.ID
}

func (f *fixture) post(t *testing.T, debitCode, creditCode string, amount Amount) JournalEntry {
	t.Helper()
	entry, err := f.svc.Post(context.Background(), PostingInput{
		Reference: "test",
		Lines: []PostingLineInput{
			{AccountID: f.id(t, debitCode), Debit: amount},
			{AccountID: f.id(t, creditCode), Credit: amount},
		},
	})
	require.NoError(t, err)
	return entry
}

func (f *fixture) balance(t *testing.T, code string) Amount {
	t.Helper()
	bal, err := f.svc.GetBalance(context.Background(), f.id(t, code), nil)
	require.NoError(t, err)
	return bal
}

func trialTotal(t *testing.T, svc *Service, asOf *time.Time) (Amount, Amount, Amount) {
	t.Helper()
	rows, err := svc.LeafBalances(context.Background(), asOf)
	require.NoError(t, err)
	var debit, credit, signed Amount
	for _, row := range rows {
		debit += row.Debit
		credit += row.Credit
		signed += Amount(row.Account.NormalSign()) * row.Balance
	}
	return debit, credit, signed
}

func TestCreateAccountRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1100", Name: "Dup", Type: AccountTypeAsset})
	require.ErrorIs(t, err, ErrDuplicateCode)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1110", Name: "Petty", Type: AccountTypeAsset, ParentCode: "9999"})
	require.ErrorIs(t, err, ErrInvalidParent)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1110", Name: "Wrong type", Type: AccountTypeExpense, ParentCode: "1100"})
	require.ErrorIs(t, err, ErrInvalidParent)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1110", Name: "Bad", Type: "ASSETS"})
	require.ErrorIs(t, err, ErrInvalidAccount)

	child, err := f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1110", Name: "Petty Cash", Type: AccountTypeAsset, ParentCode: "1100"})
	require.NoError(t, err)
	require.True(t, child.IsLeaf)
	cash, _ := f.svc.GetAccountByCode("1100")
	require.False(t, cash.IsLeaf)

	f.post(t, "1200", "4100", 100)
	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1210", Name: "AR sub", Type: AccountTypeAsset, ParentCode: "1200"})
	require.ErrorIs(t, err, ErrInvalidParent)
}

func TestSeedSurvivesReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, err := shared.ParseSeed([]byte(shared.DefaultSeed))
	require.NoError(t, err)

	restarted := NewService(f.repo, f.audit)
	require.NoError(t, restarted.Load(ctx))
	created, err := restarted.ApplySeed(ctx, seed)
	require.NoError(t, err)
	require.Zero(t, created)

	cash, err := restarted.GetAccountByCode("1100")
	require.NoError(t, err)
	require.Equal(t, f.id(t, "1100"), cash.ID)
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash, revenue := f.id(t, "1100"), f.id(t, "4100")

	cases := []struct {
		name  string
		lines []PostingLineInput
		want  error
	}{
		{"unbalanced", []PostingLineInput{{AccountID: cash, Debit: 100}, {AccountID: revenue, Credit: 90}}, ErrUnbalanced},
		{"single line", []PostingLineInput{{AccountID: cash, Debit: 100}}, ErrTooFewLines},
		{"negative", []PostingLineInput{{AccountID: cash, Debit: -100}, {AccountID: revenue, Credit: -100}}, ErrInvalidLine},
		{"both sides", []PostingLineInput{{AccountID: cash, Debit: 100, Credit: 100}, {AccountID: revenue, Credit: 0, Debit: 0}}, ErrInvalidLine},
		{"zero", []PostingLineInput{{AccountID: cash}, {AccountID: revenue}}, ErrInvalidLine},
		{"unknown", []PostingLineInput{{AccountID: 999, Debit: 100}, {AccountID: revenue, Credit: 100}}, ErrUnknownAccount},
		{"non-leaf", []PostingLineInput{{AccountID: f.id(t, "1000"), Debit: 100}, {AccountID: revenue, Credit: 100}}, ErrNonLeafAccount},
		{"overflow", []PostingLineInput{{AccountID: cash, Debit: 1 << 62}, {AccountID: cash, Debit: 1 << 62}, {AccountID: revenue, Credit: 1 << 62}}, ErrAmountOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Post(ctx, PostingInput{Lines: tc.lines})
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Equal(t, Amount(0), f.balance(t, "1100"))
}

func TestBalancesRollUp(t *testing.T) {
	f := newFixture(t)
	f.post(t, "1100", "3100", 10_000)
	f.post(t, "1300", "1100", 4_000)
	f.post(t, "1200", "4100", 2_500)
	f.post(t, "5100", "1300", 1_000)

	require.Equal(t, Amount(6_000), f.balance(t, "1100"))
	require.Equal(t, Amount(3_000), f.balance(t, "1300"))
	require.Equal(t, Amount(2_500), f.balance(t, "1200"))
	require.Equal(t, Amount(11_500), f.balance(t, "1000"))
	require.Equal(t, Amount(10_000), f.balance(t, "3000"))
	require.Equal(t, Amount(2_500), f.balance(t, "4000"))
	require.Equal(t, Amount(1_000), f.balance(t, "5000"))

	debit, credit, signed := trialTotal(t, f.svc, nil)
	require.Equal(t, debit, credit)
	require.Equal(t, Amount(0), signed)
}

func TestBalanceAsOf(t *testing.T) {
	f := newFixture(t)
	f.post(t, "1100", "3100", 500)
	before := f.clock
	f.clock = f.clock.Add(time.Hour)
	f.post(t, "1100", "3100", 700)

	bal, err := f.svc.GetBalance(context.Background(), f.id(t, "1100"), &before)
	require.NoError(t, err)
	require.Equal(t, Amount(500), bal)

	bal, err = f.svc.GetBalance(context.Background(), f.id(t, "1000"), &before)
	require.NoError(t, err)
	require.Equal(t, Amount(500), bal)

	require.Equal(t, Amount(1_200), f.balance(t, "1100"))
}

func TestReverseTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.post(t, "1200", "4100", 900)

	reversal, err := f.svc.Reverse(ctx, ReverseInput{EntryID: entry.ID})
	require.NoError(t, err)
	require.Equal(t, JournalStatusPosted, reversal.Status)
	require.Equal(t, entry.ID, *reversal.ReversalOf)

	_, err = f.svc.Reverse(ctx, ReverseInput{EntryID: entry.ID})
	require.ErrorIs(t, err, ErrNotPosted)

	original, err := f.svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, JournalStatusReversed, original.Status)
	require.Equal(t, reversal.ID, *original.ReversedBy)

	require.Equal(t, Amount(0), f.balance(t, "1200"))
	require.Equal(t, Amount(0), f.balance(t, "4100"))
	_, _, signed := trialTotal(t, f.svc, nil)
	require.Equal(t, Amount(0), signed)

	_, err = f.svc.Reverse(ctx, ReverseInput{EntryID: uuid.New()})
	require.ErrorIs(t, err, ErrJournalNotFound)
}

func TestPostWithCallerIDDetectsReplay(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	input := PostingInput{ID: id, Lines: []PostingLineInput{
		{AccountID: f.id(t, "1100"), Debit: 50},
		{AccountID: f.id(t, "3100"), Credit: 50},
	}}
	_, err := f.svc.Post(context.Background(), input)
	require.NoError(t, err)
	_, err = f.svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrEntryExists)
	require.Equal(t, Amount(50), f.balance(t, "1100"))
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash, capital := f.id(t, "1100"), f.id(t, "3100")

	draft, err := f.svc.CreateDraft(ctx, DraftInput{Memo: "opening", Lines: []PostingLineInput{{AccountID: cash, Debit: 100}}})
	require.NoError(t, err)
	require.Equal(t, JournalStatusDraft, draft.Status)

	_, err = f.svc.PostDraft(ctx, draft.ID, 0)
	require.ErrorIs(t, err, ErrTooFewLines)

	_, err = f.svc.UpdateDraft(ctx, draft.ID, DraftInput{Memo: "opening", Lines: []PostingLineInput{
		{AccountID: cash, Debit: 100},
		{AccountID: capital, Credit: 100},
	}})
	require.NoError(t, err)
	require.Equal(t, Amount(0), f.balance(t, "1100"))

	posted, err := f.svc.PostDraft(ctx, draft.ID, 0)
	require.NoError(t, err)
	require.Equal(t, JournalStatusPosted, posted.Status)
	require.Equal(t, Amount(100), f.balance(t, "1100"))

	_, err = f.svc.UpdateDraft(ctx, draft.ID, DraftInput{})
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestDiscardStaleDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.svc.CreateDraft(ctx, DraftInput{Memo: "old"})
	require.NoError(t, err)
	f.clock = f.clock.Add(80 * time.Hour)
	fresh, err := f.svc.CreateDraft(ctx, DraftInput{Memo: "fresh"})
	require.NoError(t, err)

	n, err := f.svc.DiscardStaleDrafts(ctx, 72*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.GetEntry(ctx, old.ID)
	require.ErrorIs(t, err, ErrJournalNotFound)
	_, err = f.svc.GetEntry(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestArchiveRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.Archive(ctx, f.id(t, "1000"), 0), ErrHasActiveChildren)

	f.post(t, "1100", "3100", 10)
	require.ErrorIs(t, f.svc.Archive(ctx, f.id(t, "1100"), 0), ErrHasPostings)

	writeoff := f.id(t, "5200")
	require.NoError(t, f.svc.Archive(ctx, writeoff, 0))
	_, err := f.svc.Post(ctx, PostingInput{Lines: []PostingLineInput{
		{AccountID: writeoff, Debit: 10},
		{AccountID: f.id(t, "1300"), Credit: 10},
	}})
	require.ErrorIs(t, err, ErrAccountArchived)

	for _, acc := range f.svc.ListAccounts(false) {
		require.NotEqual(t, "5200", acc.Code)
	}
	require.Len(t, f.svc.ListAccounts(true), 14)
}

func TestMoveAccountMigratesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Code: "1400", Name: "Current Assets", Type: AccountTypeAsset, ParentCode: "1000"})
	require.NoError(t, err)
	f.post(t, "1100", "3100", 300)

	_, err = f.svc.MoveAccount(ctx, "1000", "1400", 0)
	require.ErrorIs(t, err, ErrInvalidParent)

	moved, err := f.svc.MoveAccount(ctx, "1100", "1400", 0)
	require.NoError(t, err)
	require.Equal(t, f.id(t, "1400"), *moved.ParentID)
	require.Equal(t, Amount(300), f.balance(t, "1400"))
	require.Equal(t, Amount(300), f.balance(t, "1000"))

	drift, err := f.svc.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)

	_, err = f.svc.MoveAccount(ctx, "1200", "1100", 0)
	require.ErrorIs(t, err, ErrInvalidParent, "parent carries postings")
	_, err = f.svc.MoveAccount(ctx, "1300", "3000", 0)
	require.ErrorIs(t, err, ErrInvalidParent)
}

func TestVerifyAndRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.post(t, "1100", "3100", 1_000)
	f.post(t, "1300", "1100", 250)

	require.NoError(t, f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ApplyBalanceDeltas(ctx, map[int64]Amount{f.id(t, "1100"): 7})
	}))

	drift, err := f.svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.Equal(t, "1100", drift[0].Code)
	require.Equal(t, Amount(757), drift[0].Cached)
	require.Equal(t, Amount(750), drift[0].Replayed)

	n, err := f.svc.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, Amount(750), f.balance(t, "1100"))

	drift, err = f.svc.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestMemoryTxRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")
	cash := f.id(t, "1100")

	err := f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.InsertEntry(ctx, JournalEntry{ID: uuid.New(), Status: JournalStatusPosted, PostedAt: &f.clock, Lines: []JournalLine{{AccountID: cash, Debit: 5}}})
		require.NoError(t, err)
		require.NoError(t, tx.ApplyBalanceDeltas(ctx, map[int64]Amount{cash: 5}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, Amount(0), f.balance(t, "1100"))
	_, total, err := f.repo.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestConcurrentPostingsStayBalanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash, revenue, ar := f.id(t, "1100"), f.id(t, "4100"), f.id(t, "1200")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			debit := cash
			if i%2 == 0 {
				debit = ar
			}
			_, err := f.svc.Post(ctx, PostingInput{Lines: []PostingLineInput{
				{AccountID: debit, Debit: 10},
				{AccountID: revenue, Credit: 10},
			}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, Amount(500), f.balance(t, "1000"))
	require.Equal(t, Amount(500), f.balance(t, "4100"))
	drift, err := f.svc.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestMappings(t *testing.T) {
	f := newFixture(t)
	acc, err := f.svc.Resolve(RoleInventory)
	require.NoError(t, err)
	require.Equal(t, "1300", acc.Code)

	require.ErrorIs(t, f.svc.SetMappings(map[string]string{"cash": "1000"}), ErrNonLeafAccount)
	_, err = f.svc.Resolve(Role("missing"))
	require.ErrorIs(t, err, ErrMappingNotFound)
}

func TestAuditAndNotify(t *testing.T) {
	f := newFixture(t)
	n := &countingNotifier{}
	f.svc.WithNotifier(n)
	entry := f.post(t, "1100", "3100", 10)
	_, err := f.svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID, ActorID: 7})
	require.NoError(t, err)

	require.Equal(t, 2, n.bumps)
	last := f.audit.logs[len(f.audit.logs)-1]
	require.Equal(t, "journal.reverse", last.Action)
	require.Equal(t, int64(7), last.ActorID)
	require.Equal(t, entry.ID.String(), last.EntityID)
}
