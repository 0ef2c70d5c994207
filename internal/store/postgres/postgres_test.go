package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"lv-walletledger/internal/store"
	"lv-walletledger/internal/store/storetest"

	"github.com/stretchr/testify/require"
)

func testDSN() string {
	if dsn := os.Getenv("WALLET_TEST_DSN"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("POSTGRES_USER", "wallet"),
		getEnv("POSTGRES_PASSWORD", "wallet"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "wallet_test"),
	)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, testDSN())
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = Migrate(ctx, pool)
	require.NoError(t, err)
	again, err := Migrate(ctx, pool)
	require.NoError(t, err)
	require.Empty(t, again)

	storetest.Run(t, func(t *testing.T) store.Store { return New(pool) })
}
