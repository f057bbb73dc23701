package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/notifeed/internal/api"
	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/feed"
	"github.com/pders01/notifeed/internal/notification"
)

// withController runs fn against a controller for the signed-in user and
// tears it down afterwards.
func withController(opts *rootOptions, fn func(cfg *config.Config, ctrl *feed.Controller) error) error {
	cfg, cleanup, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := signedIn(cfg)
	if err != nil {
		return err
	}
	ctrl, err := newController(cfg, sess, nil)
	if err != nil {
		return err
	}
	defer ctrl.Stop()
	return fn(cfg, ctrl)
}

func printNotifications(w io.Writer, items []notification.Notification, cfg *config.Config) {
	registry := notification.NewRegistry()
	for i := range items {
		n := &items[i]
		marker := " "
		if !n.IsRead {
			marker = "●"
		}
		fmt.Fprintf(w, "%s %-8s %s", marker, n.ID, registry.Describe(n))
		if preview := notification.Preview(n, cfg.UI.Notification.MaxPreviewLength); preview != "" {
			fmt.Fprintf(w, ": %s", preview)
		}
		if !n.CreatedAt.IsZero() {
			fmt.Fprintf(w, " (%s)", n.CreatedAt.Local().Format("Jan 2, 15:04"))
		}
		fmt.Fprintln(w)
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the notification feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if page < 1 {
				return fmt.Errorf("--page must be at least 1")
			}
			return withController(opts, func(cfg *config.Config, ctrl *feed.Controller) error {
				ctx := cmd.Context()
				if err := ctrl.Refresh(ctx); err != nil {
					return err
				}
				for st := ctrl.Snapshot(); st.Page < page && st.HasMore; st = ctrl.Snapshot() {
					if err := ctrl.LoadMore(ctx); err != nil {
						return err
					}
				}

				st := ctrl.Snapshot()
				out := cmd.OutOrStdout()
				if len(st.Items) == 0 {
					fmt.Fprintln(out, "No notifications")
					return nil
				}
				printNotifications(out, st.Items, cfg)
				fmt.Fprintf(out, "\n%d loaded, %d unread", len(st.Items), st.UnreadCount)
				if st.HasMore {
					fmt.Fprintf(out, ", more with --page %d", st.Page+1)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "Load pages 1 through this one")
	return cmd
}

func newUnreadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the unread notification count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(opts, func(_ *config.Config, ctrl *feed.Controller) error {
				if err := ctrl.PollUnreadCount(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ctrl.Snapshot().UnreadCount)
				return nil
			})
		},
	}
}

// withIDHint points at `list` when the backend does not know the id.
func withIDHint(err error) error {
	if api.IsNotFound(err) {
		return fmt.Errorf("%w (run `notifeed list` to see notification ids)", err)
	}
	return err
}

func newReadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(opts, func(_ *config.Config, ctrl *feed.Controller) error {
				if err := ctrl.MarkAsRead(cmd.Context(), notification.ID(args[0])); err != nil {
					return withIDHint(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read\n", args[0])
				return nil
			})
		},
	}
}

func newReadAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(opts, func(_ *config.Config, ctrl *feed.Controller) error {
				if err := ctrl.MarkAllAsRead(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All caught up")
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(opts, func(_ *config.Config, ctrl *feed.Controller) error {
				if err := ctrl.DeleteNotification(cmd.Context(), notification.ID(args[0])); err != nil {
					return withIDHint(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the unread count whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer cleanup()
			if interval > 0 {
				cfg.Feed.PollInterval = interval
			}

			sess, err := signedIn(cfg)
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			ended := make(chan error, 1)
			ctrl, err := newController(cfg, sess, func(err error) {
				fmt.Fprintf(errOut, "%s\n", err)
				if feed.SessionEnded(err) {
					select {
					case ended <- err:
					default:
					}
				}
			})
			if err != nil {
				return err
			}
			defer ctrl.Stop()

			return watch(cmd, ctrl, ended)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (overrides config)")
	return cmd
}

// watch prints the counter once and then on every change until the
// command's context ends or the session is rejected.
func watch(cmd *cobra.Command, ctrl *feed.Controller, ended <-chan error) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := ctrl.PollUnreadCount(ctx); err != nil {
		return err
	}
	last := ctrl.Snapshot().UnreadCount
	fmt.Fprintf(out, "%s unread: %d\n", time.Now().Format("15:04:05"), last)

	ctrl.StartPolling(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ended:
			return err
		case <-ctrl.Changes():
			if n := ctrl.Snapshot().UnreadCount; n != last {
				last = n
				fmt.Fprintf(out, "%s unread: %d\n", time.Now().Format("15:04:05"), n)
			}
		}
	}
}
