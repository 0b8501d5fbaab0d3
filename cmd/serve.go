package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/config"
	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/storeapi"
	"github.com/sells-group/store-locator/internal/storedb"
)

var (
	servePort    int
	serveMigrate bool
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retailer search endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if serveMigrate {
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "serve: migrate")
			}
		}

		srv := newServer(st, metrics.New(), cfg.Server, cfg.Store)
		return runServer(ctx, srv)
	},
}

// openStore opens the configured backend.
func openStore(ctx context.Context, sc config.StoreConfig) (storedb.Store, error) {
	pool := sc.Pool
	return storedb.Open(ctx, sc.DatabaseURL, &pool)
}

func newServer(st storedb.Store, m *metrics.Metrics, sc config.ServerConfig, stc config.StoreConfig) *http.Server {
	h := storeapi.NewHandler(st, m, storeapi.Options{
		AllowedOrigins: sc.AllowedOrigins,
		RequestTimeout: time.Duration(sc.RequestTimeoutSecs) * time.Second,
		MaxResults:     stc.MaxResults,
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the store schema before serving")
	rootCmd.AddCommand(serveCmd)
}
