package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/evmon/internal/api"
	"github.com/gyaneshwarpardhi/evmon/internal/config"
	"github.com/gyaneshwarpardhi/evmon/internal/ingest"
	"github.com/gyaneshwarpardhi/evmon/internal/query"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

If the database cannot be opened the command exits non-zero before
listening. With --config, ingest and query limits are reloaded whenever
the file changes; storage settings apply at startup only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	_ = e.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (e *env) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	in := ingest.New(st, e.limits.Ingest)
	eng := query.New(st, e.limits.Query)

	if e.loader != nil {
		e.loader.OnChange(func(cfg *config.LimitsConfig) {
			in.SetLimits(cfg.Ingest)
			eng.SetLimits(cfg.Query)
			slog.Info("limits swapped", "version", cfg.Version)
		})
		stopWatch, err := e.loader.Watch()
		if err != nil {
			slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	srv := &http.Server{
		Addr:         e.settings.Addr,
		Handler:      api.New(st, in, eng, e.loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "db", e.settings.DB)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	slog.Info("goodbye")
	return err
}
