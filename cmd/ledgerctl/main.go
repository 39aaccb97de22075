/**
 * @description
 * ledgerctl is the operator CLI for the crypto-ledger-service. It shares configuration
 * and wiring with the service and offers one-shot reconciliation, stuck-transaction
 * repair, pending listings, balance lookups and schema migration.
 *
 * @dependencies
 * - github.com/spf13/cobra: command tree and flags.
 * - github.com/pterm/pterm: console output.
 * - github.com/joho/godotenv: optional env file loading.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/bootstrap"
	"github.com/transfa/crypto-ledger-service/internal/config"
	rmrabbit "github.com/transfa/crypto-ledger-service/pkg/rabbitmq"
)

// cliContext lazily builds the dependencies a command needs and releases them on exit.
type cliContext struct {
	envFile string
	verbose bool

	cfg     config.Config
	logger  *zap.Logger
	loaded  bool
	closers []func()
}

func (c *cliContext) load() error {
	if c.loaded {
		return nil
	}
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", c.envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.logger = zap.NewNop()
	if c.verbose {
		logger, err := bootstrap.NewLogger(cfg)
		if err != nil {
			return err
		}
		c.logger = logger
		c.closers = append(c.closers, func() { _ = logger.Sync() })
	}
	for _, warning := range cfg.Warnings {
		pterm.Warning.Println(warning)
	}
	c.loaded = true
	return nil
}

func (c *cliContext) services(ctx context.Context) (*bootstrap.Services, error) {
	pool, err := c.pool(ctx)
	if err != nil {
		return nil, err
	}

	events := c.eventBus()
	state, closeState := bootstrap.ConnectStateStore(ctx, c.cfg, c.logger)
	c.closers = append(c.closers, closeState)

	return bootstrap.NewServices(c.cfg, pool, events, state, nil, c.logger)
}

func (c *cliContext) eventBus() rmrabbit.Publisher {
	events := bootstrap.ConnectEventBus(c.cfg, c.logger)
	if _, ok := events.(*rmrabbit.EventProducerFallback); ok {
		pterm.Warning.Println("RabbitMQ unavailable: transition events from this run will not be published")
	}
	c.closers = append(c.closers, events.Close)
	return events
}

func (c *cliContext) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	pool, err := bootstrap.OpenDatabase(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, pool.Close)
	return pool, nil
}

func (c *cliContext) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func newRootCmd(cli *cliContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the crypto ledger service",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&cli.envFile, "env-file", "", "load environment variables from this file first")
	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "emit structured service logs")

	rootCmd.AddCommand(newReconcileCmd(cli))
	rootCmd.AddCommand(newRepairCmd(cli))
	rootCmd.AddCommand(newPendingCmd(cli))
	rootCmd.AddCommand(newBalanceCmd(cli))
	rootCmd.AddCommand(newMigrateCmd(cli))

	return rootCmd
}

func main() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli := &cliContext{}
	err := newRootCmd(cli).ExecuteContext(ctx)
	cli.close()
	stop()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
