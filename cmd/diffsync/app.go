package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/systemshift/diffsync/internal/config"
	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/diffsync"
	"github.com/systemshift/diffsync/internal/kubo"
	"github.com/systemshift/diffsync/internal/peers"
)

// globalFlags are bound to the root command.
type globalFlags struct {
	configPath string
	dataDir    string
	backend    string
	kuboAPI    string
	verbose    bool
}

// app is everything a command needs, opened from the merged configuration.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	identity *dag.Identity
	roster   *peers.Roster
	notifier *peers.Notifier
	node     *diffsync.Node
	closer   func() error
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file, if any, and applies flags that were set
// explicitly on the command line.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.DataDir = g.dataDir
	}
	if flags.Changed("backend") {
		cfg.Backend = g.backend
	}
	if flags.Changed("kubo-api") {
		cfg.KuboAPI = g.kuboAPI
	}
	return cfg, cfg.Validate()
}

// openRetriever opens the storage named by cfg.Backend.
func openRetriever(cfg config.Config, logger *slog.Logger) (diffsync.Retriever, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory:
		return diffsync.NewMemoryRetriever(dag.NewMemoryStore()), noop, nil
	case config.BackendFile:
		repo, err := dag.OpenRepository(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return diffsync.NewRepositoryRetriever(repo), repo.Close, nil
	case config.BackendBadger:
		repo, err := dag.OpenBadgerRepository(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return diffsync.NewRepositoryRetriever(repo), repo.Close, nil
	case config.BackendKubo:
		client := kubo.NewClient(cfg.KuboAPI)
		if !client.IsAvailable() {
			return nil, nil, fmt.Errorf("kubo not available at %s", cfg.KuboAPI)
		}
		// Entries, links and the latest revision live in Kubo; the current
		// revision stays on local disk.
		local, err := dag.NewRefStore(filepath.Join(cfg.DataDir, dag.DataDirName, "refs"))
		if err != nil {
			return nil, nil, err
		}
		store := kubo.NewStore(client, kubo.DefaultRoot)
		return diffsync.NewStoreRetriever(store, store, store, local), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	logger := newLogger(cmd.ErrOrStderr(), g.verbose)
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}

	identity, err := dag.LoadIdentity(cfg.IdentityPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	stateDir := filepath.Join(cfg.DataDir, dag.DataDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", stateDir, err)
	}
	roster, err := peers.OpenRoster(filepath.Join(stateDir, "peers.json"))
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Peers {
		if _, err := roster.Add(p.DID, p.Alias, p.URL); err != nil && !errors.Is(err, peers.ErrPeerExists) {
			return nil, fmt.Errorf("configured peer %s: %w", p.DID, err)
		}
	}

	r, closer, err := openRetriever(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, identity: identity, roster: roster, closer: closer}
	opts := cfg.NodeOptions()
	opts.Logger = logger
	if cfg.EnableSignals {
		a.notifier = peers.NewNotifier(roster, identity, cfg.ActiveAgentDuration, logger)
		opts.Broadcaster = a.notifier
	}
	a.node = diffsync.NewNode(r, opts)
	logger.Debug("replica opened",
		slog.String("backend", cfg.Backend),
		slog.String("data_dir", cfg.DataDir),
		slog.String("did", identity.DID))
	return a, nil
}

func (a *app) Close() error {
	return a.closer()
}

// withApp wraps a command body with opening and closing the replica.
func withApp(g *globalFlags, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, g)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
