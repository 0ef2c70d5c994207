// Package cmd holds the walletctl commands: operator tooling that works on
// the store directly, without going through the HTTP service.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/bootstrap"
	"lv-walletledger/internal/config"
	"lv-walletledger/internal/logging"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	jsonOut    bool
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(os.Stderr, cfg.LogLevel, "walletctl", cfg.Env), nil
}

func (o *rootOptions) openStore(ctx context.Context) (store.Store, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenStore(ctx, cfg.Store, logger)
}

// NewRoot builds the command tree. Tests call it directly.
func NewRoot() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Inspect and maintain the wallet ledger store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("WALLET_CONFIG"), "config file (YAML); WALLET_* env vars override it")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newMigrateCmd(opts),
		newBalancesCmd(opts),
		newEntriesCmd(opts),
		newVerifyCmd(opts),
	)
	return root
}

func Execute() error {
	return NewRoot().Execute()
}

type accountFlags struct {
	user       string
	currency   string
	walletType string
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "user id")
	cmd.Flags().StringVar(&f.currency, "currency", "", "currency code")
	cmd.Flags().StringVar(&f.walletType, "type", "", "wallet type (FIAT, SPOT, ECO, FUTURES)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("currency")
	_ = cmd.MarkFlagRequired("type")
}

func (f *accountFlags) key() (model.AccountKey, error) {
	return accounts.ParseKey(f.user, f.currency, f.walletType)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
