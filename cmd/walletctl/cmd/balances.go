package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"lv-walletledger/internal/walleterr"

	"github.com/spf13/cobra"
)

func newBalancesCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List a user's accounts with balance and in-order amounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			user = strings.TrimSpace(user)
			if user == "" {
				return walleterr.Invalid("--user is required")
			}
			st, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			accts, err := st.ListAccounts(cmd.Context(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return writeJSON(out, accts)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CURRENCY\tTYPE\tBALANCE\tIN_ORDER\tSTATUS\tSEQ")
			for _, a := range accts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", a.Currency, a.WalletType, a.Balance, a.InOrder, a.Status, a.LedgerSeq)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	return cmd
}
