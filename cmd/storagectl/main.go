package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/redbco/redb-storage/pkg/config"
	"github.com/redbco/redb-storage/pkg/datastore"
	"github.com/redbco/redb-storage/pkg/logger"
)

var (
	Version   = "dev"     // Default version for development
	GitCommit = "unknown" // Git commit hash
	BuildTime = "unknown" // Build timestamp
)

// cli carries the state shared by all commands.
type cli struct {
	configFile  string
	metricsAddr string
	logLevel    string

	store   *datastore.Store
	metrics *http.Server
}

func printVersionInfo(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "storagectl %s\n", Version)
	fmt.Fprintf(out, "Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "storagectl",
		Short: "Operate a reDB storage deployment",
		Long: "Run reads, writes and subscriptions against the storage backends described by a configuration file. " +
			"Results are printed as JSON.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				printVersionInfo(cmd)
				return nil
			}
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config file (REDB_STORAGE_* variables override it)")
	root.PersistentFlags().StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override the configured log level")
	root.Flags().Bool("version", false, "Show version information and exit")

	setupCommands(root, c)
	return root
}

// open loads the configuration and connects the store.
func (c *cli) open(cmd *cobra.Command) (*datastore.Store, error) {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	log := logger.NewWithOptions("storagectl", Version, logger.Options{
		Level:  cfg.Logging.Level,
		Output: cmd.ErrOrStderr(),
	})

	if c.metricsAddr != "" {
		c.serveMetrics(log)
	}

	c.store, err = datastore.New(cmd.Context(), cfg, datastore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return c.store, nil
}

func (c *cli) serveMetrics(log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	c.metrics = &http.Server{
		Addr:              c.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := c.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
	log.Infof("Serving metrics on %s/metrics", c.metricsAddr)
}

func (c *cli) close(ctx context.Context) error {
	var errs []error
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		errs = append(errs, c.metrics.Shutdown(ctx))
		c.metrics = nil
	}
	return errors.Join(errs...)
}

// run executes one command line and releases whatever it opened.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(argv)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close(ctx))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
