package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/debt-planner/ledger"
)

func newLiabilitiesCommand(flags *rootFlags) *cobra.Command {
	var (
		user   string
		status string
	)

	cmd := &cobra.Command{
		Use:   "liabilities",
		Short: "List a user's cards and loans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUserFlag(user)
			if err != nil {
				return err
			}
			st := ledger.Status(strings.ToLower(status))
			if st == "all" {
				st = ""
			} else if !st.Valid() {
				return fmt.Errorf("--status must be open, closed or all")
			}

			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			liabs, err := e.ledger.ListLiabilities(cmd.Context(), userID, st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderTitle("Liabilities: "+string(userID)))
			if len(liabs) == 0 {
				fmt.Fprintln(out, RenderMuted("  no liabilities"))
				return nil
			}
			fmt.Fprint(out, RenderTable(liabilitiesTable(liabs)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.Flags().StringVar(&status, "status", "open", "open, closed or all")
	return cmd
}

func liabilitiesTable(liabs []*ledger.Liability) Table {
	t := Table{
		Headers: []string{"Name", "Kind", "Balance", "Limit", "Util", "APR", "Min", "Next Due", "Status"},
	}
	var total int64
	for _, l := range liabs {
		total += l.BalanceCents
		limit, util := "-", "-"
		if l.CreditLimitCents != nil {
			limit = FormatCents(*l.CreditLimitCents)
			util = FormatPercent(utilization(l))
		}
		t.Rows = append(t.Rows, []string{
			l.Name,
			string(l.Kind),
			FormatCents(l.BalanceCents),
			limit,
			util,
			FormatPercent(l.InterestRateAPR),
			FormatCents(l.MinPayment()),
			FormatDate(l.NextDueDate),
			string(l.Status),
		})
	}
	t.Rows = append(t.Rows,
		[]string{SeparatorRow},
		[]string{"Total", "", FormatCents(total)},
	)
	return t
}

func utilization(l *ledger.Liability) decimal.NullDecimal {
	if l.CreditLimitCents == nil || *l.CreditLimitCents <= 0 {
		return decimal.NullDecimal{}
	}
	u := decimal.NewFromInt(l.BalanceCents).
		Div(decimal.NewFromInt(*l.CreditLimitCents)).
		Mul(decimal.NewFromInt(100))
	return decimal.NewNullDecimal(u.Round(2))
}
