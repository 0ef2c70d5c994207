package cmd

import (
	"fmt"
	"text/tabwriter"

	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/model"

	"github.com/spf13/cobra"
)

func newEntriesCmd(opts *rootOptions) *cobra.Command {
	var (
		acct  accountFlags
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Print an account's ledger in sequence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := acct.key()
			if err != nil {
				return err
			}
			st, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			a, err := st.GetAccount(cmd.Context(), key)
			if err != nil {
				return err
			}
			var page []model.LedgerEntry
			for e, err := range ledger.NewService(st).EntriesAfter(cmd.Context(), a.ID, after) {
				if err != nil {
					return err
				}
				if limit > 0 && len(page) == limit {
					break
				}
				page = append(page, e)
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return writeJSON(out, page)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tAMOUNT\tKIND\tRESERVATION\tIDEMPOTENCY_KEY\tREFERENCE\tTICKET\tCREATED_AT")
			for _, e := range page {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Amount, e.Kind, e.Reservation, e.IdempotencyKey, e.Reference, e.TicketID, e.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"))
			}
			return tw.Flush()
		},
	}
	acct.register(cmd)
	cmd.Flags().Int64Var(&after, "after", 0, "only entries with a higher sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 for all)")
	return cmd
}
