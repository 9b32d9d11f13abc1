package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func toJournalLines(in []PostingLineInput) []JournalLine {
	out := make([]JournalLine, len(in))
	for i, l := range in {
		out[i] = JournalLine{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
	}
	return out
}

// postable returns the account for a line, enforcing leaf and active rules.
func (s *Service) postable(id int64) (Account, error) {
	acc, ok := s.tree.Get(id)
	if !ok {
		return Account{}, fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	if acc.Archived {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountArchived, acc.Code)
	}
	if !acc.IsLeaf {
		return Account{}, fmt.Errorf("%w: %s", ErrNonLeafAccount, acc.Code)
	}
	return acc, nil
}

// balanceDeltas folds lines into raw net deltas for each leaf and all of its
// ancestors.
func (s *Service) balanceDeltas(lines []JournalLine, check bool) (map[int64]Amount, error) {
	deltas := make(map[int64]Amount)
	for _, line := range lines {
		if check {
			if _, err := s.postable(line.AccountID); err != nil {
				return nil, err
			}
		}
		for _, id := range append([]int64{line.AccountID}, s.tree.Ancestors(line.AccountID)...) {
			sum, err := AddAmounts(deltas[id], line.Net())
			if err != nil {
				return nil, err
			}
			deltas[id] = sum
		}
	}
	return deltas, nil
}

// Post validates and persists a balanced journal entry and updates the
// cached balances of every touched account and its ancestors.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	s.structure.RLock()
	defer s.structure.RUnlock()

	lines := toJournalLines(input.Lines)
	deltas, err := s.balanceDeltas(lines, true)
	if err != nil {
		return JournalEntry{}, err
	}
	id := input.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := s.now()
	entry := JournalEntry{
		ID:        id,
		Reference: input.Reference,
		Memo:      input.Memo,
		Status:    JournalStatusPosted,
		PostedAt:  &now,
		CreatedAt: now,
		Lines:     lines,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		if err := tx.ApplyBalanceDeltas(ctx, deltas); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
		Meta:     map[string]any{"number": entry.Number, "reference": entry.Reference},
	})
	s.notify(ctx)
	return entry, nil
}

// Reverse posts the mirror of a POSTED entry and marks the original
// REVERSED in one transaction.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == uuid.Nil {
		return JournalEntry{}, errors.New("accounting: entry id required")
	}
	s.structure.RLock()
	defer s.structure.RUnlock()

	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return ErrNotPosted
		}
		mirror := make([]JournalLine, len(original.Lines))
		for i, l := range original.Lines {
			mirror[i] = JournalLine{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit, Memo: l.Memo}
		}
		deltas, err := s.balanceDeltas(mirror, false)
		if err != nil {
			return err
		}
		memo := input.Memo
		if memo == "" {
			memo = fmt.Sprintf("Reversal of #%d", original.Number)
		}
		now := s.now()
		originalID := original.ID
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			ID:         uuid.New(),
			Reference:  original.Reference,
			Memo:       memo,
			Status:     JournalStatusPosted,
			ReversalOf: &originalID,
			PostedAt:   &now,
			CreatedAt:  now,
			Lines:      mirror,
		})
		if err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, original.ID, inserted.ID); err != nil {
			return err
		}
		if err := tx.ApplyBalanceDeltas(ctx, deltas); err != nil {
			return err
		}
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "journal.reverse",
		Entity:   "journal_entry",
		EntityID: input.EntryID.String(),
		Meta:     map[string]any{"reversal_id": reversal.ID.String(), "reversal_number": reversal.Number},
	})
	s.notify(ctx)
	return reversal, nil
}

func (s *Service) checkDraftLines(lines []PostingLineInput) error {
	for idx, line := range lines {
		if line.Debit < 0 || line.Credit < 0 || (line.Debit > 0 && line.Credit > 0) {
			return fmt.Errorf("%w: line %d", ErrInvalidLine, idx)
		}
		if _, ok := s.tree.Get(line.AccountID); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, line.AccountID)
		}
	}
	return nil
}

// CreateDraft stores a mutable entry that does not affect balances. Drafts
// may be incomplete or unbalanced until they are posted.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (JournalEntry, error) {
	if err := s.checkDraftLines(input.Lines); err != nil {
		return JournalEntry{}, err
	}
	now := s.now()
	entry := JournalEntry{
		ID:        uuid.New(),
		Reference: input.Reference,
		Memo:      input.Memo,
		Status:    JournalStatusDraft,
		CreatedAt: now,
		Lines:     toJournalLines(input.Lines),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "journal.draft",
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
	})
	return entry, nil
}

// UpdateDraft replaces the contents of a draft.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, input DraftInput) (JournalEntry, error) {
	if err := s.checkDraftLines(input.Lines); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusDraft {
			return ErrNotDraft
		}
		current.Reference = input.Reference
		current.Memo = input.Memo
		current.Lines = toJournalLines(input.Lines)
		current.UpdatedAt = s.now()
		if err := tx.ReplaceDraft(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// PostDraft validates a draft like Post and moves it to POSTED.
func (s *Service) PostDraft(ctx context.Context, id uuid.UUID, actorID int64) (JournalEntry, error) {
	s.structure.RLock()
	defer s.structure.RUnlock()

	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusDraft {
			return ErrNotDraft
		}
		inputs := make([]PostingLineInput, len(current.Lines))
		for i, l := range current.Lines {
			inputs[i] = PostingLineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
		}
		if err := validateLines(inputs); err != nil {
			return err
		}
		deltas, err := s.balanceDeltas(current.Lines, true)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkPosted(ctx, id, now); err != nil {
			return err
		}
		if err := tx.ApplyBalanceDeltas(ctx, deltas); err != nil {
			return err
		}
		current.Status = JournalStatusPosted
		current.PostedAt = &now
		current.UpdatedAt = now
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
		Meta:     map[string]any{"number": entry.Number, "from_draft": true},
	})
	s.notify(ctx)
	return entry, nil
}

// DiscardStaleDrafts deletes drafts untouched for longer than olderThan.
func (s *Service) DiscardStaleDrafts(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	var discarded int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids, err := tx.ListStaleDrafts(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.DeleteDraft(ctx, id); err != nil {
				return err
			}
		}
		discarded = len(ids)
		return nil
	})
	return discarded, err
}

// GetEntry loads an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// ListEntries returns a page of entries with pagination metadata.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, shared.Pagination, error) {
	entries, total, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
