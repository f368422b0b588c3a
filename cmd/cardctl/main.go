package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/internal/app"
	"github.com/palantir/compute-module-dataset-catalog/internal/baseline"
	"github.com/palantir/compute-module-dataset-catalog/internal/baseline/gemini"
	"github.com/palantir/compute-module-dataset-catalog/internal/config"
	"github.com/palantir/compute-module-dataset-catalog/internal/redact"
	"github.com/palantir/compute-module-dataset-catalog/internal/version"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogclient"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
	case "validate":
		code = runValidate(os.Args[2:])
	case "render":
		code = runRender(os.Args[2:])
	case "schema":
		code = runSchema(os.Args[2:])
	case "load":
		code = runLoad(ctx, os.Args[2:])
	case "fetch":
		code = runFetch(ctx, os.Args[2:])
	case "publish":
		code = runPublish(ctx, os.Args[2:])
	case "baseline":
		code = runBaseline(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

func fail(what string, err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %s\n", what, redact.Secrets(err.Error()))
	return 1
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "validate requires at least one card file")
		return 2
	}
	if failed := app.ValidateFiles(fs.Args(), os.Stdout); failed > 0 {
		return 1
	}
	return 0
}

func runRender(args []string) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cardPath := fs.String("card", "", "Card YAML file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "render requires --card")
		return 2
	}
	if err := app.RenderCard(*cardPath, os.Stdout); err != nil {
		return fail("render failed", err)
	}
	return 0
}

func runSchema(args []string) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cardPath := fs.String("card", "", "Card YAML file")
	ver := fs.String("version", "", "Version tag (default: the card's default version)")
	format := fs.String("format", "block", "Output format: block|json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "schema requires --card")
		return 2
	}
	if err := app.WriteSchema(*cardPath, *ver, *format, os.Stdout); err != nil {
		return fail("schema failed", err)
	}
	return 0
}

func runLoad(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cardPath := fs.String("card", "", "Card YAML file")
	split := fs.String("split", "", "Split name (e.g. train)")
	ver := fs.String("version", "", "Version tag (default: the card's default version)")
	manualDir := fs.String("manual-dir", config.EnvString(config.EnvManualDir, "."), "Manual download directory (env: CATALOG_MANUAL_DIR)")
	shuffle := fs.Bool("shuffle", false, "Order examples by salted key hash")
	salt := fs.String("salt", "", "Shuffle salt (default: split name)")
	limit := fs.Int("limit", 0, "Stop after N examples, 0 reads all")
	verify := fs.Bool("verify-counts", false, "Fail when the example count differs from the card")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardPath == "" || *split == "" {
		_, _ = fmt.Fprintln(os.Stderr, "load requires --card and --split")
		return 2
	}

	ld := &loader.Loader{ManualDir: *manualDir, Logger: log.New(os.Stderr, "", log.LstdFlags)}
	_, err := app.LoadSplit(ctx, *cardPath, ld, *ver, *split, loader.Options{
		Shuffle:      *shuffle,
		ShuffleSalt:  *salt,
		VerifyCounts: *verify,
		Limit:        *limit,
	}, os.Stdout)
	if err != nil {
		var missing *loader.MissingFilesError
		if errors.As(err, &missing) {
			_, _ = fmt.Fprintln(os.Stderr, missing.Error())
			return 1
		}
		return fail("load failed", err)
	}
	return 0
}

func newClient(url string) (*catalogclient.Client, int) {
	cfg := config.Client{BaseURL: url, CAPath: config.EnvString(config.EnvCAPath, "")}
	if url == "" {
		loaded, err := config.LoadClient()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
			return nil, 2
		}
		cfg = loaded
	} else {
		token, err := config.ReadTokenFile(config.EnvTokenFile, os.Getenv(config.EnvTokenFile))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
			return nil, 2
		}
		cfg.Token = token
	}
	client, err := catalogclient.NewClient(cfg.BaseURL, cfg.Token, cfg.CAPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "client error: %s\n", redact.Secrets(err.Error()))
		return nil, 2
	}
	return client, 0
}

func runFetch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	url := fs.String("url", "", "Catalog base URL (env: CATALOG_URL)")
	dataset := fs.String("dataset", "", "Dataset identifier")
	ver := fs.String("version", "", "Version tag (default: the dataset's default version)")
	split := fs.String("split", "", "Split name (e.g. train)")
	shuffle := fs.Bool("shuffle", false, "Order examples by salted key hash")
	salt := fs.String("salt", "", "Shuffle salt (default: split name)")
	limit := fs.Int("limit", 0, "Stop after N examples, 0 reads all")
	verify := fs.Bool("verify-counts", false, "Fail when the example count differs from the card")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dataset == "" || *split == "" {
		_, _ = fmt.Fprintln(os.Stderr, "fetch requires --dataset and --split")
		return 2
	}
	client, code := newClient(*url)
	if client == nil {
		return code
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	_, err := app.FetchSplit(ctx, client, logger, *dataset, *ver, *split, catalogclient.RecordOptions{
		Shuffle:      *shuffle,
		Salt:         *salt,
		Limit:        *limit,
		VerifyCounts: *verify,
	}, os.Stdout)
	if err != nil {
		return fail("fetch failed", err)
	}
	return 0
}

func runPublish(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	url := fs.String("url", "", "Catalog base URL (env: CATALOG_URL)")
	cardPath := fs.String("card", "", "Card YAML file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "publish requires --card")
		return 2
	}
	client, code := newClient(*url)
	if client == nil {
		return code
	}
	if err := app.Publish(ctx, client, *cardPath, os.Stdout); err != nil {
		return fail("publish failed", err)
	}
	return 0
}

func runBaseline(ctx context.Context, args []string) int {
	batch, err := config.LoadBatch()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	gem, err := config.LoadGemini()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("baseline", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cardPath := fs.String("card", "", "Card YAML file")
	split := fs.String("split", "", "Split name (e.g. test)")
	ver := fs.String("version", "", "Version tag (default: the card's default version)")
	manualDir := fs.String("manual-dir", config.EnvString(config.EnvManualDir, "."), "Manual download directory (env: CATALOG_MANUAL_DIR)")
	shuffle := fs.Bool("shuffle", false, "Order examples by salted key hash before applying --limit")
	limit := fs.Int("limit", 20, "Summarize at most N examples, 0 summarizes the whole split")
	format := fs.String("format", "ndjson", "Output format: ndjson|csv")
	maxWords := fs.Int("max-words", 60, "Requested summary length in words")
	workers := fs.Int("workers", batch.Workers, "Number of concurrent model calls (env: CATALOG_WORKERS)")
	maxRetries := fs.Int("max-retries", batch.MaxRetries, "Max retries per example for transient failures (env: CATALOG_MAX_RETRIES)")
	requestTimeout := fs.Duration("request-timeout", batch.RequestTimeout, "Per-example request timeout (env: CATALOG_REQUEST_TIMEOUT)")
	rateLimitRPS := fs.Float64("rate-limit-rps", batch.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: CATALOG_RATE_LIMIT_RPS)")
	failFast := fs.Bool("fail-fast", batch.FailFast, "Abort on the first failed example (env: CATALOG_FAIL_FAST)")
	model := fs.String("gemini-model", gem.Model, "Gemini model name (env: GEMINI_MODEL)")
	baseURL := fs.String("gemini-base-url", gem.BaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardPath == "" || *split == "" {
		_, _ = fmt.Fprintln(os.Stderr, "baseline requires --card and --split")
		return 2
	}

	summarizer, err := gemini.New(ctx, gemini.Config{
		APIKey:   gem.APIKey,
		Model:    *model,
		BaseURL:  *baseURL,
		MaxWords: *maxWords,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	policy := worker.FailurePolicyPartialOutput
	if *failFast {
		policy = worker.FailurePolicyFailFast
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	ld := &loader.Loader{ManualDir: *manualDir, Logger: logger}
	stats, err := app.RunBaseline(ctx, ld, summarizer, app.BaselineRequest{
		CardPath: *cardPath,
		Version:  *ver,
		Split:    *split,
		Load:     loader.Options{Shuffle: *shuffle, Limit: *limit},
		Run: baseline.Options{
			Worker: worker.Options{
				Workers:           *workers,
				MaxRetries:        *maxRetries,
				TaskTimeout:       *requestTimeout,
				RateLimitRPS:      *rateLimitRPS,
				FailurePolicy:     policy,
				BackoffInitial:    500 * time.Millisecond,
				BackoffMax:        10 * time.Second,
				BackoffJitterFrac: 0.2,
			},
			Logger: logger,
		},
		Format: *format,
	}, os.Stdout)
	if err != nil {
		return fail("baseline failed", err)
	}
	if stats.Failed > 0 {
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `cardctl: dataset card tooling

Usage:
  cardctl <command> [flags]

Commands:
  validate <files...>  Check cards against every card invariant
  render   --card      Render a card as Markdown
  schema   --card      Print the schema of a card version (--format block|json)
  load     --card --split
                       Stream a split from the manual download directory as NDJSON
  fetch    --dataset --split
                       Stream a split from a catalog server as NDJSON
  publish  --card      Publish a card to a catalog server
  baseline --card --split
                       Summarize supervised inputs with Gemini and score them
  version              Print the cardctl version

Examples:
  cardctl validate cards/*.yaml
  cardctl load --card cards/media_sum.yaml --split train --manual-dir ~/manual --limit 10

Environment:
  CATALOG_URL         Catalog base URL for fetch/publish
  CATALOG_TOKEN_FILE  File path containing a bearer token
  CATALOG_CA_PATH     PEM bundle to trust for TLS
  CATALOG_MANUAL_DIR  Default --manual-dir for load and baseline
  CATALOG_WORKERS, CATALOG_MAX_RETRIES, CATALOG_REQUEST_TIMEOUT,
  CATALOG_RATE_LIMIT_RPS, CATALOG_FAIL_FAST
                      Worker pool defaults for baseline
  GEMINI_API_KEY      Gemini API key (required for baseline)
  GEMINI_MODEL        Gemini model name
  GEMINI_BASE_URL     Optional base URL override (proxies/testing)

Exit codes: 0 ok, 1 failure, 2 usage or configuration error.
`)
}
