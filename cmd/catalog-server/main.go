package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/palantir/compute-module-dataset-catalog/internal/app"
	"github.com/palantir/compute-module-dataset-catalog/internal/config"
	"github.com/palantir/compute-module-dataset-catalog/internal/redact"
	"github.com/palantir/compute-module-dataset-catalog/internal/version"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		os.Exit(2)
	}

	fs := flag.NewFlagSet("catalog-server", flag.ExitOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (env: CATALOG_ADDR)")
	fs.StringVar(&cfg.CardsDir, "cards-dir", cfg.CardsDir, "Directory containing *.yaml cards (env: CATALOG_CARDS_DIR)")
	fs.StringVar(&cfg.ManualDir, "manual-dir", cfg.ManualDir, "Manual download directory (env: CATALOG_MANUAL_DIR)")
	fs.IntVar(&cfg.Load.Workers, "workers", cfg.Load.Workers, "Concurrent card loaders (env: CATALOG_WORKERS)")
	fs.BoolVar(&cfg.Load.FailFast, "fail-fast", cfg.Load.FailFast, "Refuse to start if any card is invalid (env: CATALOG_FAIL_FAST)")
	showVersion := fs.Bool("version", false, "Print the version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
		return
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "listen error: %v\n", err)
		os.Exit(1)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("catalog-server %s starting", version.Current)
	if err := app.Serve(ctx, ln, cfg, logger); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %s\n", redact.Secrets(err.Error()))
		os.Exit(1)
	}
}
