package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	redisstore "github.com/Mr-Dark-debug/treesnap/internal/adapters/redis"
	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/config"
	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/fixture"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

var rootCmd = &cobra.Command{
	Use:   "treesnap",
	Short: "Snapshot the native component tree of a running UI as markup",
	Long: `treesnap resolves the props of a mirrored UI component tree through the
runtime bridge and prints the native subtree under a node as indented
markup with a require header.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "treesnap.yaml", "Path to the YAML settings file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("fixture", "", "Read the tree and bridge answers from a fixture file")
}

// settings loads the config file and applies the persistent flags.
func settings(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if f, _ := cmd.Flags().GetString("fixture"); f != "" {
		cfg.Store.Driver = config.DriverFixture
		cfg.Store.Fixture = f
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(level), nil
}

// session is an opened tree source plus the bridge that answers for it.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	store   tree.Store
	bridge  bridge.Bridge
	archive *database.DBService
	root    tree.ID
	closers []func() error
}

// sessionOptions selects what openSession sets up.
type sessionOptions struct {
	// bridge dials the runtime.
	bridge bool
	// quiet discards log output.
	quiet bool
}

// openSession opens the configured store.
func openSession(ctx context.Context, cmd *cobra.Command, opts sessionOptions) (*session, error) {
	cfg, logger, err := settings(cmd)
	if err != nil {
		return nil, err
	}
	if opts.quiet {
		logger = logging.NewNop()
	}
	s := &session{cfg: cfg, logger: logger}

	switch cfg.Store.Driver {
	case config.DriverFixture:
		f, err := fixture.Load(cfg.Store.Fixture)
		if err != nil {
			return nil, err
		}
		s.store, s.bridge, s.root = f.Store, f.Bridge, f.Root
		return s, nil

	case config.DriverRedis:
		rs := redisstore.New(cfg.Store.RedisAddr, redisstore.WithPrefix(cfg.Store.RedisPrefix))
		s.store = rs
		s.closers = append(s.closers, rs.Close)

	default:
		db, err := database.NewDBService(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.store, s.archive = db, db
		s.closers = append(s.closers, db.Close)
	}

	if opts.bridge {
		b, err := bridge.Dial(ctx, cfg.Bridge.URL, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to %s: %w", cfg.Bridge.URL, err)
		}
		s.bridge = b
		s.closers = append(s.closers, b.Close)
	}
	return s, nil
}

// rootArg picks the subtree root from the arguments, falling back to the
// fixture's root.
func (s *session) rootArg(args []string) (tree.ID, error) {
	if len(args) > 0 && args[0] != "" {
		return tree.ID(args[0]), nil
	}
	if s.root != "" {
		return s.root, nil
	}
	return "", errors.New("a node id is required")
}

// exporter builds an exporter that archives into the database when there
// is one.
func (s *session) exporter(opts ...export.Option) *export.Exporter {
	opts = append([]export.Option{
		export.WithConfig(s.cfg.ExportLimits()),
		export.WithLogger(s.logger),
	}, opts...)
	if s.archive != nil {
		opts = append(opts, export.WithRecorder(s.archive))
	}
	return export.New(s.bridge, s.store, opts...)
}

// Close releases everything the session opened, most recent first.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
