// Package cli implements the brokerlink command-line client: it keeps the
// caller's session in SQLite and talks to brokerlink-server through the
// pkg/brokerlink SDK.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"brokerlink/internal/config"
	"brokerlink/internal/engine"
	"brokerlink/internal/session"
	"brokerlink/internal/store"
	"brokerlink/internal/util"
	"brokerlink/pkg/brokerlink"
)

// Version is the CLI version.
const Version = "0.1.0"

// App holds the dependencies shared by every command. They are opened
// before a command runs and closed after it.
type App struct {
	ConfigPath string
	ServerURL  string
	SessionDB  string
	Profile    string

	cfg     *config.Config
	log     *slog.Logger
	db      *store.SQLiteStore
	journal *store.OutcomeStore
	session *session.Session
	client  *brokerlink.Client
	view    *engine.View
	coord   *engine.Coordinator
}

func defaultConfigPath() string {
	if p := os.Getenv("BROKERLINK_CONFIG"); p != "" {
		return p
	}
	return "config/brokerlink.yaml"
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRoot(&App{})
}

func newRoot(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "brokerlink",
		Short:         "Link brokerages, inspect accounts and place orders through brokerlink-server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.ConfigPath, "config", defaultConfigPath(), "path to the YAML config file")
	f.StringVar(&a.ServerURL, "server", "", "brokerlink-server API root (overrides client.server_url)")
	f.StringVar(&a.SessionDB, "session-db", "", "SQLite session database (overrides client.session_db)")
	f.StringVar(&a.Profile, "profile", store.DefaultProfile, "session profile name")

	root.AddCommand(
		newLoginCmd(a),
		newConnectionsCmd(a),
		newCheckCmd(a),
		newLogoutCmd(a),
		newAccountsCmd(a),
		newHoldingsCmd(a),
		newTransactionsCmd(a),
		newSearchCmd(a),
		newTradeCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI until it finishes or is interrupted and prints any
// error to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &App{}
	root := newRoot(a)
	err := root.ExecuteContext(ctx)
	_ = a.close()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

func (a *App) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.ServerURL != "" {
		cfg.Client.ServerURL = a.ServerURL
	}
	if a.SessionDB != "" {
		cfg.Client.SessionDB = a.SessionDB
	}
	a.cfg = cfg

	a.log, err = util.NewLogger(util.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     "text",
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Writer:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	a.db, err = store.NewSQLiteStore(cfg.Client.SessionDB)
	if err != nil {
		return fmt.Errorf("opening session db: %w", err)
	}
	a.session, err = session.Open(ctxOf(cmd), a.db.Sessions(a.Profile))
	if err != nil {
		return err
	}
	a.journal = a.db.Outcomes(a.Profile)

	a.client = brokerlink.NewClient(cfg.Client.ServerURL, cfg.SnapTrade.Timeout)
	a.view = engine.NewView(a.client, a.session)
	a.coord = engine.NewCoordinator(a.client, a.session, a.journal, a.log)
	return nil
}

func (a *App) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the CLI version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brokerlink %s\n", Version)
		},
	}
}

// userError reduces err to the message a user sees.
func userError(err error) error {
	return errors.New(engine.ErrorMessage(err))
}
