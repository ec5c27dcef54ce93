package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"spin-rewards/internal/config"
	"spin-rewards/internal/store"
	"spin-rewards/internal/store/rest"
	"spin-rewards/internal/store/sqlstore"
)

// Debug helper: prints one account as the configured store sees it.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: check-account <user-id>")
		os.Exit(1)
	}
	userID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad user id:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	account, err := st.GetAccount(ctx, userID)
	fmt.Println("err=", err)
	fmt.Printf("account=%+v\n", account)

	referrals, err := st.CountReferrals(ctx, userID)
	fmt.Println("referrals=", referrals, "err=", err)

	withdrawals, err := st.ListWithdrawals(ctx, userID)
	fmt.Println("withdrawals len=", len(withdrawals), "err=", err)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendREST:
		return rest.New(cfg.StoreURL, cfg.StoreKey, cfg.StoreTimeout), nil
	case config.BackendSQLite:
		dsn := cfg.DatabaseURL
		if !strings.HasPrefix(dsn, "sqlite:") {
			dsn = "sqlite:" + dsn
		}
		return sqlstore.New(ctx, dsn)
	default:
		return sqlstore.New(ctx, cfg.DatabaseURL)
	}
}
