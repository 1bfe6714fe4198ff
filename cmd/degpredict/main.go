package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"degpredict/internal"
	"degpredict/internal/config"
	"degpredict/internal/container"
	"degpredict/internal/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	configPath string
	verbose    bool
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if code := errors.GetCode(err); code != "" {
			fmt.Fprintf(os.Stderr, "   code: %s\n", code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "degpredict",
		Short: "Predict astrocyte gene changes after PKC knockout from a proxy dataset",
		Long: `degpredict runs a five-stage pipeline:

  1 acquire       download, normalize and persist the proxy expression matrix
  2 differential  per-gene t-tests, Benjamini-Hochberg FDR, up/down calls
  3 integrate     join the curated gene panel with proxy and baseline data
  4 predict       apply the rule table to every panel gene
  5 report        summary tables, workbook and HTML report

Every stage reads its inputs from persisted artifacts, so any stage can be
re-run on its own once its upstream stages have completed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file layered over the defaults")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(opts),
		newGroupsCmd(opts),
		newRulesCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger
func setup(opts *options) (*config.Config, *zap.Logger, error) {
	logger, err := internal.NewLogger(opts.verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withContainer runs fn against a wired container and releases it afterwards
func withContainer(ctx context.Context, opts *options, fn func(*container.Container) error) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := container.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()
	return fn(c)
}
