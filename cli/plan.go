package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/planner"
)

type planFlags struct {
	user              string
	paycheck          string
	payDate           string
	reserve           string
	strategy          string
	targetUtilization string
	apply             bool
}

func newPlanCommand(flags *rootFlags) *cobra.Command {
	pf := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Split a paycheck across open liabilities",
		Long: "Generate a draft plan: urgent minimums first, then extra paydown in\n" +
			"strategy order. With --apply the plan is recorded as payments.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUserFlag(pf.user)
			if err != nil {
				return err
			}
			in, err := pf.input(time.Now())
			if err != nil {
				return err
			}

			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			gen, err := e.recorder.Generate(ctx, userID, in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderPlan(out, gen)

			if !pf.apply {
				fmt.Fprintln(out, RenderMuted("  draft "+gen.Plan.ID.String()+", rerun with --apply to record payments"))
				return nil
			}
			applied, err := e.recorder.Apply(ctx, userID, gen.Plan.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, RenderStatus(fmt.Sprintf("  applied %s: %d payments recorded", applied.Plan.ID, len(applied.PaymentIDs)), true))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&pf.user, "user", "u", "", "User id")
	f.StringVarP(&pf.paycheck, "paycheck", "p", "", "Paycheck amount in dollars, e.g. 2500 or 2500.50")
	f.StringVar(&pf.payDate, "pay-date", "", "Pay date YYYY-MM-DD (default today)")
	f.StringVar(&pf.reserve, "reserve", "0", "Amount in dollars to hold back")
	f.StringVarP(&pf.strategy, "strategy", "s", "", "avalanche or snowball (default from config)")
	f.StringVar(&pf.targetUtilization, "target-utilization", "", "Card utilization goal in percent")
	f.BoolVar(&pf.apply, "apply", false, "Record the plan as payments")
	_ = cmd.MarkFlagRequired("paycheck")
	return cmd
}

func (pf *planFlags) input(now time.Time) (planner.Input, error) {
	paycheck, err := ParseCents(pf.paycheck)
	if err != nil {
		return planner.Input{}, fmt.Errorf("--paycheck: %w", err)
	}
	reserve, err := ParseCents(pf.reserve)
	if err != nil {
		return planner.Input{}, fmt.Errorf("--reserve: %w", err)
	}
	target, err := ParsePercent(pf.targetUtilization)
	if err != nil {
		return planner.Input{}, fmt.Errorf("--target-utilization: %w", err)
	}
	payDate := ledger.DateOf(now)
	if pf.payDate != "" {
		if payDate, err = ledger.ParseDate(pf.payDate); err != nil {
			return planner.Input{}, fmt.Errorf("--pay-date: %w", err)
		}
	}
	return planner.Input{
		PaycheckAmountCents:      paycheck,
		PayDate:                  payDate,
		ReserveCents:             reserve,
		Strategy:                 ledger.Strategy(pf.strategy),
		TargetUtilizationPercent: target,
	}, nil
}

func renderPlan(w io.Writer, gen *planner.Generated) {
	p := gen.Plan
	fmt.Fprintln(w, RenderTitle(fmt.Sprintf("Paycheck Plan: %s (%s)", p.PayDate.Format(ledger.DateLayout), p.Strategy)))

	if len(gen.Allocations) == 0 {
		fmt.Fprintln(w, RenderMuted("  nothing to pay"))
	} else {
		t := Table{Headers: []string{"Liability", "Pass", "Amount", "Due"}}
		for _, a := range gen.Allocations {
			t.Rows = append(t.Rows, []string{a.LiabilityName, string(a.Kind), FormatCents(a.AmountCents), FormatDate(a.DueDate)})
		}
		fmt.Fprint(w, RenderTable(t))
	}

	fmt.Fprint(w, RenderTable(Table{
		Rows: [][]string{
			{"Paycheck", FormatCents(p.PaycheckAmountCents)},
			{"Reserve", FormatCents(p.ReserveCents)},
			{"Allocated", FormatCents(p.TotalAllocatedCents)},
			{"Remaining", FormatCents(p.RemainingCents)},
		},
	}))
}
