package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent trading outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := a.journal.ListOutcomes(ctxOf(cmd), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trading history.")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "TIME", "OP", "ACCOUNT", "TRADE", "ORDER", "RESULT")
			for _, r := range recs {
				result := "ok"
				if r.Status != "" {
					result = r.Status
				}
				if r.Error != "" {
					result = "error: " + r.Error
				}
				t.row(FormatTime(r.At), r.Op, r.AccountID, r.TradeID, r.BrokerageOrderID, result)
			}
			t.flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show")
	return cmd
}
