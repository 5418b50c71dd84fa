/*
root.go - Command tree, configuration and backend selection

PURPOSE:
  Builds the cobra command tree shared by every subcommand. The persistent
  --config flag selects the TOML file; config.Load applies environment
  overrides on top of it.

COMMANDS:
  serve         Run the HTTP API
  migrate       Create the schema for the configured backend
  liabilities   List a user's liabilities
  plan          Generate (and optionally apply) a paycheck plan
  reconcile     Replay a user's histories against stored balances

BACKENDS:
  storage.driver picks memory, sqlite, postgres or mongo. The memory
  backend lives for a single process, so it only makes sense for serve.

SEE ALSO:
  - config/config.go: File format and environment variables
  - cmd/planner/main.go: Entry point
*/
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/debt-planner/config"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/store"
	"github.com/warp/debt-planner/planner"
	mongostore "github.com/warp/debt-planner/store/mongo"
	"github.com/warp/debt-planner/store/postgres"
	"github.com/warp/debt-planner/store/sqlite"
)

// Execute is the main entry point called from main.go.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, RenderError(err))
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

// NewRootCommand returns a fresh command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "planner",
		Short:         "Debt payment planner",
		Long:          "Track card and loan balances and split each paycheck across them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath(), "Config file (TOML)")

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newLiabilitiesCommand(flags),
		newPlanCommand(flags),
		newReconcileCommand(flags),
	)
	return root
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// Backend is a ledger store the CLI can migrate and close.
type Backend interface {
	ledger.TxStore
	Migrate(ctx context.Context) error
	Close() error
}

// OpenBackend connects to the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		b = store.NewMemory()
	case config.DriverSQLite:
		b, err = nonNil(sqlite.New(cfg.SQLitePath))
	case config.DriverPostgres:
		b, err = nonNil(postgres.New(ctx, cfg.PostgresDSN))
	case config.DriverMongo:
		b, err = nonNil(mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase))
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// nonNil keeps a typed nil store out of the Backend interface.
func nonNil[T Backend](s T, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// env is what every subcommand needs once configuration is loaded.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	backend  Backend
	ledger   *ledger.Ledger
	recorder *planner.Recorder
}

func (e *env) Close() error { return e.backend.Close() }

// setup loads the config, opens the backend and wires the ledger and
// planner. The caller must Close the returned env.
func setup(cmd *cobra.Command, flags *rootFlags) (*env, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	l := ledger.New(backend, ledger.WithLogger(logger))
	rec := planner.NewRecorder(l,
		planner.WithOptions(planner.Options{
			UrgentWindowDays:         cfg.Planner.UrgentWindowDays,
			DefaultTargetUtilization: cfg.Planner.DefaultTargetUtilization,
		}),
		planner.WithDefaultStrategy(ledger.Strategy(cfg.Planner.DefaultStrategy)),
		planner.WithLogger(logger),
	)

	return &env{cfg: cfg, logger: logger, backend: backend, ledger: l, recorder: rec}, nil
}

func requireUserFlag(user string) (ledger.UserID, error) {
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("--user is required")
	}
	return ledger.UserID(user), nil
}
