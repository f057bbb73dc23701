package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/notifeed/internal/session"
	"github.com/pders01/notifeed/internal/validation"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		token   string
		userID  string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the forum API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			sess := session.Session{
				Token:   strings.TrimSpace(token),
				UserID:  strings.TrimSpace(userID),
				SavedAt: time.Now(),
			}
			if baseURL != "" {
				normalized, err := validation.ForConfig(cfg.API.AllowLocal).ValidateAndNormalize(baseURL)
				if err != nil {
					return fmt.Errorf("invalid base URL: %w", err)
				}
				sess.BaseURL = normalized
			}
			if err := sess.Validate(time.Now()); err != nil {
				return err
			}

			store, err := session.NewStore(cfg.Session.Path, cfg.Session.Timeout)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as user %s\n", sess.ResolveUserID())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Bearer token issued by the forum")
	cmd.Flags().StringVar(&userID, "user-id", "", "User id (defaults to the token's claims)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (overrides config)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := session.NewStore(cfg.Session.Path, cfg.Session.Timeout)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := signedIn(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s\n", sess.ResolveUserID())
			base := cfg.API.BaseURL
			if sess.BaseURL != "" {
				base = sess.BaseURL
			}
			fmt.Fprintf(out, "api:     %s\n", base)
			if exp := sess.ExpiresAt(); !exp.IsZero() {
				fmt.Fprintf(out, "expires: %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}
