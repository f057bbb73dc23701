package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/notifeed/internal/api"
	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/debuglog"
	"github.com/pders01/notifeed/internal/feed"
	"github.com/pders01/notifeed/internal/session"
	"github.com/pders01/notifeed/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

type rootOptions struct {
	configPath string
	quiet      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "notifeed",
		Short:         "Forum notifications in your terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Skip startup banner")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newListCmd(opts),
		newUnreadCmd(opts),
		newReadCmd(opts),
		newReadAllCmd(opts),
		newDeleteCmd(opts),
		newWatchCmd(opts),
		newDevServerCmd(opts),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "notifeed %s\n", Version)
			fmt.Fprintln(out, "Forum notification client")
			fmt.Fprintln(out, "github.com/pders01/notifeed")
		},
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var output string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := output
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("locating home directory: %w", err)
				}
				path = filepath.Join(home, ".config", "notifeed", "config.toml")
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
	generate.Flags().StringVarP(&output, "output", "o", "", "Write the config to this path")

	configCmd.AddCommand(generate)
	return configCmd
}

// loadConfig reads the config and sets up file logging. The returned
// cleanup closes the log file.
func loadConfig(opts *rootOptions) (*config.Config, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := debuglog.ParseLogLevel(cfg.Log.Level)
	if err := debuglog.Setup(level, cfg.Log.Path); err != nil {
		return nil, nil, fmt.Errorf("setting up log: %w", err)
	}
	return cfg, func() { _ = debuglog.Close() }, nil
}

// signedIn returns the active session, from the environment or the store.
func signedIn(cfg *config.Config) (session.Session, error) {
	var store *session.Store
	if _, err := os.Stat(cfg.Session.Path); err == nil {
		store, err = session.NewStore(cfg.Session.Path, cfg.Session.Timeout)
		if err != nil {
			return session.Session{}, err
		}
		defer store.Close()
	}

	sess, err := session.Resolve(store)
	if errors.Is(err, session.ErrNoSession) {
		return session.Session{}, fmt.Errorf("%w: run `notifeed login --token <token>`", err)
	}
	if err != nil {
		return session.Session{}, err
	}
	if err := sess.Validate(time.Now()); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// newController wires an API client for sess into a feed controller.
// Background failures go to onError.
func newController(cfg *config.Config, sess session.Session, onError func(error)) (*feed.Controller, error) {
	baseURL := cfg.API.BaseURL
	if sess.BaseURL != "" {
		baseURL = sess.BaseURL
	}
	client, err := api.NewClient(baseURL, sess.TokenSource(),
		api.WithUserAgent(cfg.API.UserAgent),
		api.WithTimeout(cfg.API.HTTPTimeout),
		api.WithPageSize(cfg.Feed.PageSize),
	)
	if err != nil {
		return nil, err
	}
	return feed.NewController(client, sess.ResolveUserID(), feed.Options{
		PageSize:       client.PageSize(),
		PollInterval:   cfg.Feed.PollInterval,
		ReconcileDelay: cfg.Feed.ReconcileDelay,
		OnError:        onError,
	}), nil
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	cfg, cleanup, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := signedIn(cfg)
	if err != nil {
		return err
	}

	errs := make(chan error, 16)
	ctrl, err := newController(cfg, sess, func(err error) {
		select {
		case errs <- err:
		default:
			debuglog.Warnf("dropping background error: %v", err)
		}
	})
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	if !opts.quiet {
		tui.ShowBanner(Version)
	}

	debuglog.Infof("starting TUI for user %s", ctrl.UserID())
	return tui.Run(cmd.Context(), ctrl, cfg, errs, tea.WithAltScreen())
}
