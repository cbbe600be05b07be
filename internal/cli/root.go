// Package cli implements the persistctl command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kilupskalvis/persistence/internal/config"
	"github.com/kilupskalvis/persistence/internal/metrics"
	"github.com/kilupskalvis/persistence/internal/notify"
	"github.com/kilupskalvis/persistence/internal/persistence"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// cmdContext holds the resources of one command: a single unit of work over
// the configured store.
type cmdContext struct {
	Config   *config.Config
	Schemas  *schema.Registry
	Store    store.RecordStore
	Unit     *persistence.UnitOfWork
	Notifier *notify.WebhookNotifier
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Close waits for pending notifications, dumps metrics when asked and
// releases the store.
func (c *cmdContext) Close() {
	c.Notifier.Wait()
	if showStats && c.Registry != nil {
		if err := dumpStats(os.Stderr, c.Registry); err != nil {
			c.Logger.Warn("failed to gather metrics", "error", err)
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// initConfig loads the config, sets up logging and loads the class schemas.
func initConfig() (*config.Config, *schema.Registry, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		exitError("%v", err)
	}
	slog.SetDefault(logger)

	schemas, err := schema.LoadFile(cfg.SchemaPath())
	if err != nil {
		exitError("%v", err)
	}
	return cfg, schemas, logger
}

// initContext opens the store and starts a unit of work.
func initContext() *cmdContext {
	cfg, schemas, logger := initConfig()

	st, err := store.Open(cfg.Backend, cfg.DatabasePath())
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	reg := prometheus.NewRegistry()
	uow, err := persistence.NewUnitOfWork(st, schemas, nil, logger, metrics.New(reg))
	if err != nil {
		st.Close()
		exitError("%v", err)
	}

	notifier := notify.NewWebhookNotifier(&notify.Config{URLs: cfg.WebhookURLs}, cfg.DatabasePath(), logger)
	notifier.Subscribe(uow)

	return &cmdContext{
		Config:   cfg,
		Schemas:  schemas,
		Store:    st,
		Unit:     uow,
		Notifier: notifier,
		Registry: reg,
		Logger:   logger,
	}
}

// newLogger builds the slog handler named by the config.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

var rootCmd = &cobra.Command{
	Use:   "persistctl",
	Short: "Inspect and edit a persistence store",
	Long: `persistctl works on the object store of the .persist directory.
Each command runs in its own unit of work: objects are loaded through
the identity map and written back in a single atomic commit.`,
}

var showStats bool

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print engine metrics to stderr when done")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
