// Command carryforward closes the books of one period into the next: it
// computes every owner's closing balance and, unless -dry-run is set,
// writes them as opening rows of the target period.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	balanceapp "community-billing/internal/balance/application"
	"community-billing/internal/store/postgres"
)

type config struct {
	dbURL   string
	from    string
	to      string
	actor   string
	out     string
	dryRun  bool
	migrate bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, err := postgres.Open(ctx, cfg.dbURL, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer st.Close()
	if cfg.migrate {
		if err := st.Migrate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(2)
		}
	}

	svc, err := balanceapp.NewBalanceService(st, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	balances, err := svc.CarryForward(ctx, cfg.from, cfg.to)
	if err != nil {
		fmt.Fprintln(os.Stderr, "carry forward:", err)
		os.Exit(1)
	}
	if !cfg.dryRun {
		entries, err := svc.Rollover(ctx, cfg.from, cfg.to, cfg.actor)
		if err != nil {
			fmt.Fprintln(os.Stderr, "rollover:", err)
			os.Exit(1)
		}
		logger.Info("rollover written",
			zap.String("from", cfg.from),
			zap.String("to", cfg.to),
			zap.Int("entries", len(entries)),
		)
	}

	w := io.Writer(os.Stdout)
	if cfg.out != "" {
		file, err := os.Create(cfg.out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create report:", err)
			os.Exit(1)
		}
		defer file.Close()
		w = file
	}
	if err := writeReport(w, balances); err != nil {
		fmt.Fprintln(os.Stderr, "write report:", err)
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.from, "from", "", "source period id")
	flag.StringVar(&cfg.to, "to", "", "target period id")
	flag.StringVar(&cfg.actor, "actor", getenvDefault("USER", "carryforward"), "actor id recorded in the audit log")
	flag.StringVar(&cfg.out, "out", "", "CSV report path (default stdout)")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "compute balances without writing opening rows")
	flag.BoolVar(&cfg.migrate, "migrate", false, "apply schema before running")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("db is required (flag -db or DATABASE_URL)")
	}
	if cfg.from == "" || cfg.to == "" {
		return cfg, errors.New("from and to are required")
	}
	if cfg.from == cfg.to {
		return cfg, errors.New("from and to must differ")
	}
	return cfg, nil
}

// writeReport lists non-zero balances, owner id ascending. Negative amounts
// are debts.
func writeReport(w io.Writer, balances map[string]decimal.Decimal) error {
	ids := make([]string, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"owner_id", "balance", "kind"}); err != nil {
		return err
	}
	for _, id := range ids {
		amount := balances[id]
		kind := "credit"
		if amount.IsNegative() {
			kind = "debt"
		}
		if err := writer.Write([]string{id, amount.StringFixed(2), kind}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
