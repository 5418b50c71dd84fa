/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built data sets that give the calling user realistic liabilities to
  plan against. Each scenario opens cards and loans and records a short
  charge/payment history through the ledger, so balances are reached the
  same way real ones are.

AVAILABLE SCENARIOS:
  single-card:      One card at 20% utilization with a minimum due soon
  card-and-loan:    Two cards and a car loan; loans always get their minimum
  avalanche-vs-snowball:
                    Four cards where the two strategies disagree on order

HOW SCENARIOS WORK:
  1. Delete the caller's liabilities (history cascades)
  2. Open the scenario's liabilities
  3. Record the scenario's charges and payments

USAGE VIA API:
  POST /api/scenarios/load
  {"scenarioId": "card-and-loan"}

NOTE:
  Loading replaces every liability of the calling user. Plans are kept.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioEntry struct {
	typ         ledger.EntryType
	amountCents int64
	daysAgo     int
	notes       string
}

type scenarioLiability struct {
	input   ledger.LiabilityInput
	history []scenarioEntry
}

type scenario struct {
	ScenarioDTO
	liabilities func(today time.Time) []scenarioLiability
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-card",
			Name:        "Single Card",
			Description: "One card at 20% utilization, already under the default 30% goal",
		},
		liabilities: func(today time.Time) []scenarioLiability {
			return []scenarioLiability{{
				input: card("Visa", "First Bank", 100000, 500000, "24.99", 3000, dueIn(today, 5)),
				history: []scenarioEntry{
					{ledger.EntryCharge, 12000, 20, "Groceries"},
					{ledger.EntryPayment, 12000, 10, "Autopay"},
				},
			}}
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "card-and-loan",
			Name:        "Cards and Car Loan",
			Description: "Two cards and a car loan; the loan minimum is always urgent",
		},
		liabilities: func(today time.Time) []scenarioLiability {
			car := ledger.LiabilityInput{
				Kind:         ledger.KindLoan,
				BalanceCents: 1250000,
				LiabilityDetails: ledger.LiabilityDetails{
					Name:            "Car Loan",
					Institution:     "Credit Union",
					InterestRateAPR: pct("6.5"),
					MinPaymentCents: cents(35000),
				},
			}
			return []scenarioLiability{
				{input: card("Visa", "First Bank", 100000, 500000, "24.99", 3000, dueIn(today, 5)),
					history: []scenarioEntry{{ledger.EntryCharge, 150000, 25, "Flights"}}},
				{input: card("Mastercard", "Second Bank", 60000, 300000, "19.5", 2500, dueIn(today, 25)),
					history: []scenarioEntry{{ledger.EntryCharge, 80000, 15, "Laptop"}}},
				{input: car},
			}
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "avalanche-vs-snowball",
			Name:        "Avalanche vs Snowball",
			Description: "Four cards where highest-rate-first and smallest-balance-first disagree",
		},
		liabilities: func(today time.Time) []scenarioLiability {
			return []scenarioLiability{
				{input: card("Store Card", "Retailer", 30000, 100000, "29.99", 2500, dueIn(today, 3)),
					history: []scenarioEntry{{ledger.EntryCharge, 40000, 30, "Furniture"}}},
				{input: card("Travel Card", "First Bank", 200000, 1000000, "21.0", 4000, dueIn(today, 12)),
					history: []scenarioEntry{{ledger.EntryCharge, 450000, 40, "Vacation"}}},
				{input: card("Cashback", "Second Bank", 90000, 400000, "17.24", 2500, dueIn(today, 18)),
					history: []scenarioEntry{{ledger.EntryCharge, 220000, 35, "Medical"}}},
				{input: card("Old Card", "Third Bank", 10000, 200000, "12.0", 1500, dueIn(today, 27)),
					history: []scenarioEntry{{ledger.EntryCharge, 15000, 5, "Subscriptions"}}},
			}
		},
	},
}

func card(name, institution string, balance, limit int64, apr string, minPay int64, dueDay int) ledger.LiabilityInput {
	return ledger.LiabilityInput{
		Kind:         ledger.KindCreditCard,
		BalanceCents: balance,
		LiabilityDetails: ledger.LiabilityDetails{
			Name:             name,
			Institution:      institution,
			CreditLimitCents: cents(limit),
			DueDay:           &dueDay,
			InterestRateAPR:  pct(apr),
			MinPaymentCents:  cents(minPay),
		},
	}
}

// dueIn returns the day of month n days after today, kept within 1-28.
func dueIn(today time.Time, n int) int {
	return min(today.AddDate(0, 0, n).Day(), 28)
}

func cents(v int64) *int64 { return &v }

func pct(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario replaces the caller's liabilities with a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "Scenario not found", fmt.Errorf("unknown scenario %q", req.ScenarioID))
		return
	}

	liabilities, err := h.loadScenario(r.Context(), userFrom(r), *found, ledger.DateOf(time.Now()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.logger.Info("scenario loaded", "user_id", userFrom(r), "scenario", found.ID, "liabilities", len(liabilities))
	writeJSON(w, http.StatusOK, toLiabilityDTOs(liabilities))
}

// loadScenario swaps the user's liabilities in one unit of work, so a
// failure part way through leaves the previous set in place.
func (h *Handler) loadScenario(ctx context.Context, userID ledger.UserID, s scenario, today time.Time) ([]*ledger.Liability, error) {
	var out []*ledger.Liability
	err := h.Ledger.Store().WithTx(ctx, func(tx ledger.Store) error {
		var err error
		out, err = replaceWithScenario(ctx, h.Ledger.Within(tx), userID, s, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func replaceWithScenario(ctx context.Context, l *ledger.Ledger, userID ledger.UserID, s scenario, today time.Time) ([]*ledger.Liability, error) {
	existing, err := l.ListLiabilities(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	for _, liab := range existing {
		if err := l.DeleteLiability(ctx, userID, liab.ID); err != nil {
			return nil, err
		}
	}

	var out []*ledger.Liability
	for _, sl := range s.liabilities(today) {
		liab, err := l.OpenLiability(ctx, userID, sl.input)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: open %s: %w", s.ID, sl.input.Name, err)
		}
		for _, e := range sl.history {
			in := ledger.EntryInput{
				AmountCents: e.amountCents,
				Date:        today.AddDate(0, 0, -e.daysAgo),
				Notes:       e.notes,
			}
			if e.typ == ledger.EntryPayment {
				_, err = l.RecordPayment(ctx, userID, liab.ID, in)
			} else {
				_, err = l.RecordCharge(ctx, userID, liab.ID, in)
			}
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %s history: %w", s.ID, sl.input.Name, err)
			}
		}
		if liab, err = l.GetLiability(ctx, userID, liab.ID); err != nil {
			return nil, err
		}
		out = append(out, liab)
	}
	return out, nil
}
