/**
 * @description
 * accountsctl is an operator CLI for the openbanking-service. It runs the same
 * gateway, normalizer and store code as the server against one-off inputs:
 * previewing or syncing customers, listing offers and running a payment.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command tree and flags.
 */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/transfa/openbanking-service/internal/app"
	"github.com/transfa/openbanking-service/internal/config"
	"github.com/transfa/openbanking-service/internal/store"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

var (
	Version = "dev"

	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Open-Banking account aggregation and payments CLI",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config-dir", ".", "directory holding the .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(offersCmd)
	rootCmd.AddCommand(payCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// services holds what a command needs, built from the environment.
type services struct {
	accounts *app.AccountService
	payments *app.PaymentService
	repo     store.AccountRepository
	close    func()
}

// loadServices builds the gateway client and a store. With persist false, or
// dryRun true, the in-memory store is used and DATABASE_URL is not required.
func loadServices(ctx context.Context, persist, dryRun bool) (*services, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	if !persist || dryRun {
		cfg.StoreDriver = config.StoreDriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	templates, err := gatewayclient.LoadTemplates(cfg.PaymentTemplatesFile)
	if err != nil {
		return nil, err
	}
	gateway := gatewayclient.NewClient(cfg.Gateway(templates), nil, logger)

	svc := &services{close: func() {}}
	var txRepo store.TransactionRepository
	if cfg.StoreDriver == config.StoreDriverMemory {
		svc.repo = store.NewMemoryAccountRepository()
		txRepo = store.NewMemoryTransactionRepository()
	} else {
		dbpool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		if err := store.EnsureSchema(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, err
		}
		svc.repo = store.NewPostgresAccountRepository(dbpool, logger)
		txRepo = store.NewPostgresTransactionRepository(dbpool)
		svc.close = dbpool.Close
	}

	svc.accounts = app.NewAccountService(gateway, nil, svc.repo, txRepo, nil, "", nil, logger)
	svc.payments = app.NewPaymentService(gateway, nil, 0, logger)
	return svc, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
