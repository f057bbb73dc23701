package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pders01/notifeed/internal/debuglog"
	"github.com/pders01/notifeed/internal/fakeapi"
)

type devServerOptions struct {
	addr     string
	prefix   string
	fixtures string
	token    string
	verbose  bool
}

func newDevServerCmd(opts *rootOptions) *cobra.Command {
	o := &devServerOptions{}

	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Serve an in-memory notification API for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cleanup, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer cleanup()
			if o.verbose {
				debuglog.SetupWriter(debuglog.LevelInfo, cmd.ErrOrStderr())
			}

			handler, token, err := devHandler(o)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", o.addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", o.addr, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving fake notification API at http://%s%s\n", ln.Addr(), o.prefix)
			if token != "" {
				fmt.Fprintf(out, "Sign in with: notifeed login --token %s --user-id 1 --base-url http://%s%s\n", token, ln.Addr(), o.prefix)
			}
			return serve(cmd.Context(), ln, handler)
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "127.0.0.1:5000", "Listen address")
	cmd.Flags().StringVar(&o.prefix, "prefix", "/api", "Path prefix for the API routes")
	cmd.Flags().StringVar(&o.fixtures, "fixtures", "", "TOML fixture file (defaults to built-in seed data)")
	cmd.Flags().StringVar(&o.token, "token", "", "Required bearer token (overrides fixtures)")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Log requests to stderr")
	return cmd
}

// devHandler builds the fake backend mounted under the configured prefix
// and returns the bearer token it expects.
func devHandler(o *devServerOptions) (http.Handler, string, error) {
	var (
		fx  *fakeapi.Fixtures
		err error
	)
	if o.fixtures != "" {
		fx, err = fakeapi.LoadFixtures(o.fixtures)
	} else {
		fx, err = fakeapi.DevFixtures()
	}
	if err != nil {
		return nil, "", err
	}

	token := fx.Token
	if o.token != "" {
		token = o.token
	}
	backend := fakeapi.New(fakeapi.WithToken(token))
	fx.Apply(backend)
	backend.OnRequest(func(route string, r *http.Request) {
		debuglog.WithFields(map[string]interface{}{
			"route":      route,
			"request_id": r.Header.Get("X-Request-ID"),
		}).Infof("%s %s", r.Method, r.URL.Path)
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	prefix := o.prefix
	if prefix == "" || prefix == "/" {
		r.Mount("/", backend.Handler())
	} else {
		r.Mount(prefix, backend.Handler())
	}
	return r, token, nil
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
