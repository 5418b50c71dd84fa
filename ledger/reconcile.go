package ledger

import (
	"context"
	"sort"

	"github.com/warp/debt-planner/id"
)

// Replay recomputes a balance from the opening balance and entries, applied
// in creation order with payments floored at zero.
func Replay(opening int64, entries []*Entry) int64 {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	balance := max(0, opening)
	for _, e := range sorted {
		balance = applyEntry(balance, e.Type, e.AmountCents)
	}
	return balance
}

// Reconciliation compares a stored balance with its replayed value.
type Reconciliation struct {
	LiabilityID          id.ID
	OpeningBalanceCents  int64
	StoredBalanceCents   int64
	ReplayedBalanceCents int64
	DriftCents           int64 // stored - replayed
	Charges              int
	Payments             int
	Repaired             bool
}

func (r *Reconciliation) InBalance() bool { return r.DriftCents == 0 }

// Reconcile replays a liability's history and reports drift against the
// stored balance. With repair set, a drifting balance is overwritten with
// the replayed value in the same unit of work that read it.
func (l *Ledger) Reconcile(ctx context.Context, userID UserID, liabilityID id.ID, repair bool) (*Reconciliation, error) {
	var rec *Reconciliation
	err := l.store.WithTx(ctx, func(tx Store) error {
		liab, err := tx.GetLiability(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, userID, liabilityID)
		if err != nil {
			return err
		}

		rec = &Reconciliation{
			LiabilityID:          liab.ID,
			OpeningBalanceCents:  liab.OpeningBalanceCents,
			StoredBalanceCents:   liab.BalanceCents,
			ReplayedBalanceCents: Replay(liab.OpeningBalanceCents, entries),
		}
		for _, e := range entries {
			if e.Type == EntryPayment {
				rec.Payments++
			} else {
				rec.Charges++
			}
		}
		rec.DriftCents = rec.StoredBalanceCents - rec.ReplayedBalanceCents

		if !repair || rec.InBalance() {
			return nil
		}
		liab.BalanceCents = rec.ReplayedBalanceCents
		liab.UpdatedAt = l.timestamp()
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return err
		}
		rec.Repaired = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.InBalance() {
		l.logger.Warn("liability balance drift",
			"user_id", userID,
			"liability_id", liabilityID.String(),
			"stored_cents", rec.StoredBalanceCents,
			"replayed_cents", rec.ReplayedBalanceCents,
			"repaired", rec.Repaired,
		)
	}
	return rec, nil
}

// CorrectBalance is the corrective update path: it sets the balance and
// moves the opening balance so that replaying the history still lands on
// the new value. A balance below what the history alone produces from a
// zero opening balance cannot be reached that way and is rejected.
func (l *Ledger) CorrectBalance(ctx context.Context, userID UserID, liabilityID id.ID, balanceCents int64) (*Liability, error) {
	if balanceCents < 0 {
		return nil, invalid("balanceCents", "must be >= 0")
	}

	var corrected *Liability
	err := l.store.WithTx(ctx, func(tx Store) error {
		liab, err := tx.GetLiability(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, userID, liabilityID)
		if err != nil {
			return err
		}
		if least := Replay(0, entries); balanceCents < least {
			return invalid("balanceCents", "must be >= %d, the balance the recorded history produces on its own", least)
		}

		// Replay(o) is max(o+net, the largest floored suffix), so with
		// balanceCents >= Replay(0) the opening balanceCents-net is >= 0 and
		// replays to exactly balanceCents.
		var net int64
		for _, e := range entries {
			if e.Type == EntryPayment {
				net -= e.AmountCents
			} else {
				net += e.AmountCents
			}
		}
		liab.OpeningBalanceCents = balanceCents - net
		liab.BalanceCents = balanceCents
		liab.UpdatedAt = l.timestamp()
		if err := tx.UpdateLiability(ctx, liab); err != nil {
			return err
		}
		corrected = liab
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("liability balance corrected",
		"user_id", userID,
		"liability_id", liabilityID.String(),
		"balance_cents", balanceCents,
	)
	return corrected, nil
}
