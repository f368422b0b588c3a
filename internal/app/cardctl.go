package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogclient"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

// runLogger prefixes every line with a per-invocation run id.
func runLogger(logger *log.Logger) func(format string, args ...any) {
	runID := "run-" + uuid.NewString()
	return func(format string, args ...any) {
		if logger == nil {
			return
		}
		prefix := make([]any, 0, len(args)+1)
		prefix = append(prefix, runID)
		prefix = append(prefix, args...)
		logger.Printf("run=%s "+format, prefix...)
	}
}

// ValidateFiles checks every card file and writes one line per file to w. It
// returns the number of files that failed.
func ValidateFiles(paths []string, w io.Writer) int {
	failed := 0
	for _, p := range paths {
		c, err := card.LoadFile(p)
		if err == nil {
			err = c.Validate()
		}
		if err == nil {
			v, _ := c.DefaultVersion()
			_, _ = fmt.Fprintf(w, "ok   %s (%s@%s, %s examples)\n", p, c.Identifier, v.Tag, card.ShortCount(v.TotalExamples))
			continue
		}
		failed++
		vs := card.Violations(err)
		if len(vs) == 0 {
			_, _ = fmt.Fprintf(w, "FAIL %s: %v\n", p, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "FAIL %s\n", p)
		for _, v := range vs {
			_, _ = fmt.Fprintf(w, "  - %v\n", v)
		}
	}
	return failed
}

// RenderCard writes the Markdown rendering of the card at path.
func RenderCard(path string, w io.Writer) error {
	c, err := loadValid(path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, card.RenderMarkdown(c))
	return err
}

// WriteSchema writes the schema of one card version as JSON or as the
// indented block format.
func WriteSchema(path, version, format string, w io.Writer) error {
	c, err := loadValid(path)
	if err != nil {
		return err
	}
	s, err := card.SchemaOf(c, version)
	if err != nil {
		return err
	}
	switch format {
	case "", "block":
		_, err = io.WriteString(w, s.String())
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(s)
	default:
		err = fmt.Errorf("invalid schema format %q (expected block|json)", format)
	}
	return err
}

func loadValid(path string) (*card.Card, error) {
	c, err := card.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadSplit reads one split of a local card from the manual download
// directory and writes NDJSON examples to w.
func LoadSplit(ctx context.Context, cardPath string, ld *loader.Loader, version, split string, opts loader.Options, w io.Writer) (int64, error) {
	logf := runLogger(ld.Logger)
	start := time.Now()

	c, err := loadValid(cardPath)
	if err != nil {
		return 0, err
	}
	logf("load start: dataset=%s version=%s split=%s manualDir=%s shuffle=%t limit=%d", c.Identifier, version, split, ld.ManualDir, opts.Shuffle, opts.Limit)

	r, err := ld.Open(ctx, c, version, split, opts)
	if err != nil {
		return 0, err
	}
	var n int64
	enc := json.NewEncoder(w)
	err = r.Each(ctx, func(ex loader.Example) error {
		n++
		return enc.Encode(ex)
	})
	if err != nil {
		return n, err
	}
	logf("load complete: dataset=%s split=%s examples=%d elapsed=%s", c.Identifier, split, n, time.Since(start).Round(time.Millisecond))
	return n, nil
}

// FetchSplit streams one split from a catalog server and writes NDJSON
// examples to w.
func FetchSplit(ctx context.Context, client *catalogclient.Client, logger *log.Logger, identifier, version, split string, opts catalogclient.RecordOptions, w io.Writer) (int64, error) {
	logf := runLogger(logger)
	start := time.Now()
	logf("fetch start: url=%s dataset=%s version=%s split=%s", client.BaseURL(), identifier, version, split)

	var n int64
	enc := json.NewEncoder(w)
	err := client.StreamRecords(ctx, identifier, version, split, opts, func(ex loader.Example) error {
		n++
		return enc.Encode(ex)
	})
	if err != nil {
		return n, err
	}
	logf("fetch complete: dataset=%s split=%s examples=%d elapsed=%s", identifier, split, n, time.Since(start).Round(time.Millisecond))
	return n, nil
}

// Publish validates the card at path locally and uploads it.
func Publish(ctx context.Context, client *catalogclient.Client, path string, w io.Writer) error {
	c, err := loadValid(path)
	if err != nil {
		return err
	}
	entry, err := client.PublishCard(ctx, c)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "published %s (versions: %v, default: %s)\n", entry.Identifier, entry.Versions, entry.DefaultVersion)
	return nil
}
