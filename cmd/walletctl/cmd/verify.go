package cmd

import (
	"errors"
	"fmt"

	"lv-walletledger/internal/ledger"

	"github.com/spf13/cobra"
)

var errLedgerMismatch = errors.New("ledger does not match account")

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var acct accountFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute an account from its ledger and check the hash chain",
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

			rep, err := ledger.NewService(st).Verify(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := writeJSON(out, rep); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "account   %s\nentries   %d\nbalance   %s\nin_order  %s\nhead      %s\n",
					rep.AccountID, rep.Entries, rep.Balance, rep.InOrder, rep.HeadHash)
				for _, p := range rep.Problems {
					fmt.Fprintf(out, "problem   %s\n", p)
				}
			}
			if !rep.OK() {
				return fmt.Errorf("%w: %d problem(s)", errLedgerMismatch, len(rep.Problems))
			}
			return nil
		},
	}
	acct.register(cmd)
	return cmd
}
