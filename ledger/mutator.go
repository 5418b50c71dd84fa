/*
mutator.go - Balance-affecting operations

PURPOSE:
  Creates, updates and deletes charges and payments and moves the owning
  liability's balance in the same unit of work.

BALANCE RULES:
  record charge      balance += amount
  record payment     balance = max(0, balance - amount); lastPaymentDate = date
  update charge      balance += (new - old)             (floored at zero)
  update payment     balance = max(0, balance - (new - old))
  delete charge      balance = max(0, balance - amount)
  delete payment     balance += amount
  batch pay          one payment per item, one balance write per liability

ATOMICITY:
  Every operation runs inside TxStore.WithTx. Validation that needs no
  reads (amounts, dates) happens before the transaction begins. Ownership
  checks happen inside it, before the first write. A failure at any step
  rolls back every write of the operation and surfaces the original error.
*/
package ledger

import (
	"context"
	"time"

	"github.com/warp/debt-planner/id"
)

// EntryInput records a new charge or payment.
type EntryInput struct {
	AmountCents int64
	Date        time.Time
	Notes       string
}

func (in EntryInput) validate() error {
	if in.AmountCents <= 0 {
		return invalid("amountCents", "must be > 0, got %d", in.AmountCents)
	}
	if in.Date.IsZero() {
		return invalid("date", "is required")
	}
	return nil
}

// EntryUpdate changes an existing entry. Nil fields are left as they are.
type EntryUpdate struct {
	AmountCents *int64
	Date        *time.Time
	Notes       *string
}

func (u EntryUpdate) validate() error {
	if u.AmountCents != nil && *u.AmountCents <= 0 {
		return invalid("amountCents", "must be > 0, got %d", *u.AmountCents)
	}
	if u.Date != nil && u.Date.IsZero() {
		return invalid("date", "must not be empty")
	}
	return nil
}

// =============================================================================
// RECORD
// =============================================================================

// RecordCharge adds a charge and raises the liability balance.
func (l *Ledger) RecordCharge(ctx context.Context, userID UserID, liabilityID id.ID, in EntryInput) (*Entry, error) {
	return l.record(ctx, userID, liabilityID, EntryCharge, in)
}

// RecordPayment adds a payment and lowers the liability balance, never
// below zero.
func (l *Ledger) RecordPayment(ctx context.Context, userID UserID, liabilityID id.ID, in EntryInput) (*Entry, error) {
	return l.record(ctx, userID, liabilityID, EntryPayment, in)
}

func (l *Ledger) record(ctx context.Context, userID UserID, liabilityID id.ID, typ EntryType, in EntryInput) (*Entry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		created *Entry
		balance int64
	)
	err := l.store.WithTx(ctx, func(tx Store) error {
		liab, err := tx.GetLiability(ctx, userID, liabilityID)
		if err != nil {
			return err
		}

		now := l.timestamp()
		e := &Entry{
			ID:          newEntryID(typ),
			UserID:      userID,
			LiabilityID: liab.ID,
			Type:        typ,
			AmountCents: in.AmountCents,
			Date:        DateOf(in.Date),
			Notes:       in.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateEntry(ctx, e); err != nil {
			return err
		}

		liab.BalanceCents = applyEntry(liab.BalanceCents, typ, in.AmountCents)
		if typ == EntryPayment {
			d := e.Date
			liab.LastPaymentDate = &d
		}
		liab.UpdatedAt = now
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return err
		}

		created, balance = e, liab.BalanceCents
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("entry recorded",
		"type", typ,
		"user_id", userID,
		"liability_id", liabilityID.String(),
		"entry_id", created.ID.String(),
		"amount_cents", created.AmountCents,
		"balance_cents", balance,
	)
	return created, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateCharge edits a charge; an amount change moves the balance by the
// difference.
func (l *Ledger) UpdateCharge(ctx context.Context, userID UserID, chargeID id.ID, u EntryUpdate) (*Entry, error) {
	return l.update(ctx, userID, chargeID, EntryCharge, u)
}

// UpdatePayment edits a payment; an amount change moves the balance by the
// opposite of the difference, floored at zero.
//
// After an amount change the balance is replayed from the liability's
// history, so a payment that was floored at zero only gives back what it
// actually took off.
func (l *Ledger) UpdatePayment(ctx context.Context, userID UserID, paymentID id.ID, u EntryUpdate) (*Entry, error) {
	return l.update(ctx, userID, paymentID, EntryPayment, u)
}

func (l *Ledger) update(ctx context.Context, userID UserID, entryID id.ID, typ EntryType, u EntryUpdate) (*Entry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := u.validate(); err != nil {
		return nil, err
	}

	var (
		updated *Entry
		diff    int64
	)
	err := l.store.WithTx(ctx, func(tx Store) error {
		e, err := getEntryOfType(ctx, tx, userID, entryID, typ)
		if err != nil {
			return err
		}
		liab, err := tx.GetLiability(ctx, userID, e.LiabilityID)
		if err != nil {
			return err
		}

		now := l.timestamp()
		if u.AmountCents != nil {
			diff = *u.AmountCents - e.AmountCents
			e.AmountCents = *u.AmountCents
		}
		if u.Date != nil {
			e.Date = DateOf(*u.Date)
		}
		if u.Notes != nil {
			e.Notes = *u.Notes
		}
		e.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return err
		}

		if diff != 0 {
			if err := l.rebalance(ctx, tx, liab); err != nil {
				return err
			}
		}

		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("entry updated",
		"type", typ,
		"user_id", userID,
		"entry_id", entryID.String(),
		"diff_cents", diff,
	)
	return updated, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteCharge removes a charge and reverses its effect. Deleting a charge
// that does not exist succeeds without doing anything.
func (l *Ledger) DeleteCharge(ctx context.Context, userID UserID, chargeID id.ID) error {
	return l.delete(ctx, userID, chargeID, EntryCharge)
}

// DeletePayment removes a payment and restores what it took off the balance.
// Deleting a payment that does not exist succeeds without doing anything.
func (l *Ledger) DeletePayment(ctx context.Context, userID UserID, paymentID id.ID) error {
	return l.delete(ctx, userID, paymentID, EntryPayment)
}

func (l *Ledger) delete(ctx context.Context, userID UserID, entryID id.ID, typ EntryType) error {
	if err := requireUser(userID); err != nil {
		return err
	}

	var removed *Entry
	err := l.store.WithTx(ctx, func(tx Store) error {
		e, err := getEntryOfType(ctx, tx, userID, entryID, typ)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.DeleteEntry(ctx, userID, entryID); err != nil {
			return err
		}
		removed = e

		liab, err := tx.GetLiability(ctx, userID, e.LiabilityID)
		switch {
		case IsNotFound(err):
			// orphaned entry: nothing to reverse
			return nil
		case err != nil:
			return err
		}
		return l.rebalance(ctx, tx, liab)
	})
	if err != nil {
		return err
	}

	if removed != nil {
		l.logger.Debug("entry deleted",
			"type", typ,
			"user_id", userID,
			"entry_id", entryID.String(),
			"amount_cents", removed.AmountCents,
		)
	}
	return nil
}

// rebalance replays the liability's remaining history within tx and stores
// the result.
func (l *Ledger) rebalance(ctx context.Context, tx Store, liab *Liability) error {
	entries, err := tx.ListEntries(ctx, liab.UserID, liab.ID)
	if err != nil {
		return err
	}
	liab.BalanceCents = Replay(liab.OpeningBalanceCents, entries)
	liab.UpdatedAt = l.timestamp()
	return tx.UpdateLiability(ctx, liab)
}

// =============================================================================
// BATCH PAY
// =============================================================================

// BatchItem is one payment of a batch.
type BatchItem struct {
	LiabilityID id.ID
	AmountCents int64
}

// BatchPayment pays several liabilities on one date.
type BatchPayment struct {
	Date  time.Time
	Notes string
	Items []BatchItem
}

// Validate checks the batch without touching the store.
func (b BatchPayment) Validate() error {
	if b.Date.IsZero() {
		return invalid("date", "is required")
	}
	if len(b.Items) == 0 {
		return invalid("items", "at least one item is required")
	}
	for i, item := range b.Items {
		if item.LiabilityID.IsNil() {
			return invalid("items", "item %d: liabilityId is required", i)
		}
		if item.AmountCents <= 0 {
			return invalid("items", "item %d: amountCents must be > 0, got %d", i, item.AmountCents)
		}
	}
	return nil
}

// BatchPay records one payment per item in a single unit of work.
// Every liability is checked for ownership before anything is written; one
// bad item aborts the whole batch.
func (l *Ledger) BatchPay(ctx context.Context, userID UserID, b BatchPayment) ([]*Entry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var created []*Entry
	err := l.store.WithTx(ctx, func(tx Store) error {
		entries, err := l.BatchPayIn(ctx, tx, userID, b)
		if err != nil {
			return err
		}
		created = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("batch payment recorded",
		"user_id", userID,
		"payments", len(created),
	)
	return created, nil
}

// BatchPayIn is BatchPay against a caller-owned unit of work. The caller is
// responsible for validation and for committing tx.
func (l *Ledger) BatchPayIn(ctx context.Context, tx Store, userID UserID, b BatchPayment) ([]*Entry, error) {
	// Ownership first: no writes until every liability is known.
	liabs := make(map[string]*Liability)
	var order []string
	for _, item := range b.Items {
		key := item.LiabilityID.String()
		if _, seen := liabs[key]; seen {
			continue
		}
		liab, err := tx.GetLiability(ctx, userID, item.LiabilityID)
		if err != nil {
			return nil, err
		}
		liabs[key] = liab
		order = append(order, key)
	}

	now := l.timestamp()
	date := DateOf(b.Date)
	totals := make(map[string]int64, len(liabs))
	created := make([]*Entry, 0, len(b.Items))
	for _, item := range b.Items {
		e := &Entry{
			ID:          id.NewPaymentID(),
			UserID:      userID,
			LiabilityID: item.LiabilityID,
			Type:        EntryPayment,
			AmountCents: item.AmountCents,
			Date:        date,
			Notes:       b.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateEntry(ctx, e); err != nil {
			return nil, err
		}
		totals[item.LiabilityID.String()] += item.AmountCents
		created = append(created, e)
	}

	// One balance write per liability.
	for _, key := range order {
		liab := liabs[key]
		liab.BalanceCents = applyEntry(liab.BalanceCents, EntryPayment, totals[key])
		d := date
		liab.LastPaymentDate = &d
		liab.UpdatedAt = now
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func newEntryID(typ EntryType) id.ID {
	if typ == EntryPayment {
		return id.NewPaymentID()
	}
	return id.NewChargeID()
}

// getEntryOfType treats an entry of the other type as missing, so a payment
// id can never be edited through the charge operations.
func getEntryOfType(ctx context.Context, s Store, userID UserID, entryID id.ID, typ EntryType) (*Entry, error) {
	e, err := s.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if e.Type != typ {
		return nil, NewNotFound(typ.resource(), entryID.String())
	}
	return e, nil
}
