// Package server assembles the HTTP stack and runs it until the context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dabbsLondon/pivot-experiment/internal/core/config"
	"github.com/dabbsLondon/pivot-experiment/internal/core/health"
	middleware "github.com/dabbsLondon/pivot-experiment/internal/core/middleware"
	"github.com/dabbsLondon/pivot-experiment/internal/core/router"
	"github.com/dabbsLondon/pivot-experiment/internal/metrics"
)

type Deps struct {
	Logger  *slog.Logger
	API     *router.Handler
	Health  health.Checker
	Metrics *metrics.Provider
	Timeout time.Duration
}

// NewRouter builds the chi router with the middleware chain and every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/health", health.Handler(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, d.Metrics.Path(), d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if d.Timeout > 0 {
			r.Use(chimw.Timeout(d.Timeout))
		}
		d.API.Routes(r)
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("http listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		d.Logger.Info("http shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
