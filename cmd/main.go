package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bmayton/chainpost/internal/app"
	"github.com/bmayton/chainpost/internal/config"
	"github.com/bmayton/chainpost/internal/logging"
	"github.com/bmayton/chainpost/pkg/chainpost"
)

const appName = "chainpost"

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("shutting down")
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cli struct {
	site   string
	debug  bool
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:               appName,
		Short:             "Post sensor readings to a Chain API site",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		RunE:              c.runBridge,
	}
	root.PersistentFlags().StringVar(&c.site, "site", "", "site URL (overrides CHAIN_SITE_URL)")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "colorized debug logging (overrides CHAIN_DEBUG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "bridge",
			Short: "Post MQTT station telemetry until interrupted (default)",
			Args:  cobra.NoArgs,
			RunE:  c.runBridge,
		},
		c.postCmd(),
		c.postBatchCmd(),
		unitCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.site != "" {
		cfg.SiteURL = c.site
	}
	if c.debug {
		cfg.Debug = true
	}
	c.cfg = cfg

	c.logger = logging.New(cfg, version, appName)
	slog.SetDefault(c.logger)

	slog.Debug("starting",
		"command", cmd.Name(),
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)
	return nil
}

func (c *cli) runBridge(cmd *cobra.Command, _ []string) error {
	return app.Run(cmd.Context(), c.cfg, version)
}

// newPoster returns a disconnected poster; the first post connects and reports
// the connection error itself.
func (c *cli) newPoster() (*chainpost.Poster, func(), error) {
	client, err := app.NewClient(c.cfg, version, c.logger)
	if err != nil {
		return nil, nil, err
	}
	p := chainpost.New(c.cfg.SiteURL, client,
		chainpost.WithAuth(c.cfg.Credentials()),
		chainpost.WithLogger(c.logger),
	)
	return p, client.Close, nil
}

func unitCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "unit METRIC",
		Short:             "Print the unit new sensors for METRIC are created with",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), chainpost.LookupUnitByMetric(args[0]))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version number",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
