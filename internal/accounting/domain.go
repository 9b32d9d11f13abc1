package accounting

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Amount is a monetary value in minor units of the base currency.
type Amount int64

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSign is +1 for debit-normal types and -1 for credit-normal types.
func (t AccountType) NormalSign() int64 {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return 1
	default:
		return -1
	}
}

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "DRAFT"
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	IsLeaf    bool
	Archived  bool
	CreatedAt time.Time
}

// NormalSign returns the sign applied to raw debit-minus-credit nets.
func (a Account) NormalSign() int64 { return a.Type.NormalSign() }

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID         uuid.UUID
	Number     int64
	Reference  string
	Memo       string
	Status     JournalStatus
	ReversalOf *uuid.UUID
	ReversedBy *uuid.UUID
	PostedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Lines      []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	AccountID int64
	Debit     Amount
	Credit    Amount
	Memo      string
}

// Net returns debit minus credit.
func (l JournalLine) Net() Amount { return l.Debit - l.Credit }

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     Amount
	Credit    Amount
	Memo      string
}

// PostingInput groups fields required to create a journal entry. ID is
// optional; callers that retry supply a stable ID so a replayed post is
// detected instead of duplicated.
type PostingInput struct {
	ID        uuid.UUID
	Reference string
	Memo      string
	ActorID   int64
	Lines     []PostingLineInput
}

// DraftInput creates or replaces a draft.
type DraftInput struct {
	Reference string
	Memo      string
	ActorID   int64
	Lines     []PostingLineInput
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID uuid.UUID
	ActorID int64
	Memo    string
}

// CreateAccountInput describes a new chart of accounts node.
type CreateAccountInput struct {
	Code       string
	Name       string
	Type       AccountType
	ParentCode string
	ActorID    int64
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	Status  JournalStatus
	Page    int
	PerPage int
}

// LineTotals aggregates posted lines of one account.
type LineTotals struct {
	Debit  Amount
	Credit Amount
}

// Net returns debit minus credit.
func (t LineTotals) Net() Amount { return t.Debit - t.Credit }

// LeafBalance is one trial balance row.
type LeafBalance struct {
	Account Account
	Debit   Amount
	Credit  Amount
	Balance Amount
}

// BalanceDrift reports a cached balance that disagrees with the line log.
type BalanceDrift struct {
	AccountID int64
	Code      string
	Cached    Amount
	Replayed  Amount
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a negative, two-sided or zero line.
	ErrInvalidLine = errors.New("accounting: invalid journal line")
	// ErrAmountOverflow indicates totals exceed int64.
	ErrAmountOverflow = errors.New("accounting: amount overflow")
	// ErrUnknownAccount indicates a line references a missing account.
	ErrUnknownAccount = errors.New("accounting: unknown account")
	// ErrNonLeafAccount indicates a posting to an account with children.
	ErrNonLeafAccount = errors.New("accounting: account is not a leaf")
	// ErrAccountArchived indicates a posting to an archived account.
	ErrAccountArchived = errors.New("accounting: account archived")
	// ErrDuplicateCode indicates an account code already exists.
	ErrDuplicateCode = errors.New("accounting: duplicate account code")
	// ErrInvalidParent indicates the requested parent cannot accept the child.
	ErrInvalidParent = errors.New("accounting: invalid parent account")
	// ErrInvalidAccount indicates malformed account input.
	ErrInvalidAccount = errors.New("accounting: invalid account")
	// ErrHasPostings indicates an account referenced by posted lines.
	ErrHasPostings = errors.New("accounting: account has postings")
	// ErrHasActiveChildren indicates archive of a parent with active children.
	ErrHasActiveChildren = errors.New("accounting: account has active children")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrNotPosted indicates reversal of an entry that is not POSTED.
	ErrNotPosted = errors.New("accounting: journal entry not posted")
	// ErrNotDraft indicates a draft-only operation on a non-draft entry.
	ErrNotDraft = errors.New("accounting: journal entry is not a draft")
	// ErrEntryExists indicates an entry with the supplied ID already exists.
	ErrEntryExists = errors.New("accounting: journal entry already exists")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
)

// Validate checks line shape and balance using overflow-checked sums.
func (in PostingInput) Validate() error {
	return validateLines(in.Lines)
}

func validateLines(lines []PostingLineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit Amount
	var err error
	for idx, line := range lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("%w: line %d cannot be both debit and credit", ErrInvalidLine, idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("%w: line %d has no amount", ErrInvalidLine, idx)
		}
		if debit, err = AddAmounts(debit, line.Debit); err != nil {
			return err
		}
		if credit, err = AddAmounts(credit, line.Credit); err != nil {
			return err
		}
	}
	if debit != credit {
		return ErrUnbalanced
	}
	return nil
}

// AddAmounts returns a+b or ErrAmountOverflow.
func AddAmounts(a, b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// MulAmount returns qty*unit or ErrAmountOverflow.
func MulAmount(qty int64, unit Amount) (Amount, error) {
	if qty == 0 || unit == 0 {
		return 0, nil
	}
	product := Amount(qty) * unit
	if product/Amount(qty) != unit || (qty == -1 && unit == math.MinInt64) {
		return 0, ErrAmountOverflow
	}
	return product, nil
}
