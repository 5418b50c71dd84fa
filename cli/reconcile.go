package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/debt-planner/ledger"
)

func newReconcileCommand(flags *rootFlags) *cobra.Command {
	var (
		user   string
		repair bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay each liability's history against its stored balance",
		Long: "Replays opening balance + charges - payments for every liability of a\n" +
			"user. With --repair, drifted balances are overwritten by the replay.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUserFlag(user)
			if err != nil {
				return err
			}

			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			liabs, err := e.ledger.ListLiabilities(ctx, userID, "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderTitle("Reconciliation: "+string(userID)))
			if len(liabs) == 0 {
				fmt.Fprintln(out, RenderMuted("  no liabilities"))
				return nil
			}

			t := Table{Headers: []string{"Liability", "Stored", "Replayed", "Drift", "Entries", "Result"}}
			var drifted int
			for _, l := range liabs {
				rec, err := e.ledger.Reconcile(ctx, userID, l.ID, repair)
				if err != nil {
					return err
				}
				if !rec.InBalance() {
					drifted++
				}
				t.Rows = append(t.Rows, []string{
					l.Name,
					FormatCents(rec.StoredBalanceCents),
					FormatCents(rec.ReplayedBalanceCents),
					FormatCents(rec.DriftCents),
					fmt.Sprintf("%d", rec.Charges+rec.Payments),
					reconcileResult(rec),
				})
			}
			fmt.Fprint(out, RenderTable(t))

			switch {
			case drifted == 0:
				fmt.Fprintln(out, RenderStatus("  all balances match their history", true))
			case repair:
				fmt.Fprintln(out, RenderStatus(fmt.Sprintf("  repaired %d liabilities", drifted), true))
			default:
				fmt.Fprintln(out, RenderStatus(fmt.Sprintf("  %d liabilities drifted, rerun with --repair to fix", drifted), false))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.Flags().BoolVar(&repair, "repair", false, "Overwrite drifted balances with the replayed value")
	return cmd
}

func reconcileResult(rec *ledger.Reconciliation) string {
	switch {
	case rec.InBalance():
		return "ok"
	case rec.Repaired:
		return "repaired"
	default:
		return "drift"
	}
}
