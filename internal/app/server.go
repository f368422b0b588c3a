package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/internal/config"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalog"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogapi"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

// NewCatalogServer loads the cards directory and wires the API server.
func NewCatalogServer(ctx context.Context, cfg config.Server, logger *log.Logger) (*catalogapi.Server, catalog.LoadReport, error) {
	reg := catalog.NewRegistry()
	report, err := reg.LoadDir(ctx, cfg.CardsDir, catalog.LoadOptions{
		Workers:  cfg.Load.Workers,
		FailFast: cfg.Load.FailFast,
		Logger:   logger,
	})
	if err != nil {
		return nil, report, fmt.Errorf("load cards from %s: %w", cfg.CardsDir, err)
	}
	srv := catalogapi.New(reg, &loader.Loader{ManualDir: cfg.ManualDir, Logger: logger}, logger)
	srv.RequireBearerToken(cfg.Token)
	return srv, report, nil
}

// Serve runs the catalog API on ln until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func Serve(ctx context.Context, ln net.Listener, cfg config.Server, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	srv, report, err := NewCatalogServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Printf(
		"catalog server listening on %s (cards=%s loaded=%d failed=%d manual=%s auth=%t)",
		ln.Addr(),
		cfg.CardsDir,
		len(report.Loaded),
		len(report.Failed),
		cfg.ManualDir,
		cfg.Token != "",
	)

	hs := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Printf("catalog server shutting down")
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
