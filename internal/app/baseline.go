package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/internal/baseline"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

// BaselineRequest selects the split to summarize and how to report it.
type BaselineRequest struct {
	CardPath string
	Version  string
	Split    string
	Load     loader.Options
	Run      baseline.Options
	// Format is ndjson (default) or csv.
	Format string
}

// RunBaseline reads a split from the manual download directory, summarizes
// each example's supervised input and writes scored predictions to w.
func RunBaseline(ctx context.Context, ld *loader.Loader, s baseline.Summarizer, req BaselineRequest, w io.Writer) (baseline.Stats, error) {
	logf := runLogger(ld.Logger)
	start := time.Now()

	switch req.Format {
	case "", "ndjson", "csv":
	default:
		return baseline.Stats{}, fmt.Errorf("invalid output format %q (expected ndjson|csv)", req.Format)
	}

	c, err := loadValid(req.CardPath)
	if err != nil {
		return baseline.Stats{}, err
	}
	r, err := ld.Open(ctx, c, req.Version, req.Split, req.Load)
	if err != nil {
		return baseline.Stats{}, err
	}
	examples, err := r.Collect(ctx)
	if err != nil {
		return baseline.Stats{}, err
	}
	logf("baseline start: dataset=%s split=%s model=%s examples=%d workers=%d", c.Identifier, req.Split, s.Name(), len(examples), req.Run.Worker.Workers)

	if req.Run.Logger == nil {
		req.Run.Logger = ld.Logger
	}
	if req.Run.Logger == nil {
		req.Run.Logger = log.New(io.Discard, "", 0)
	}
	preds, stats, err := baseline.Run(ctx, c, examples, s, req.Run)
	if err != nil {
		return stats, err
	}

	if req.Format == "csv" {
		err = baseline.WriteCSV(w, preds)
	} else {
		enc := json.NewEncoder(w)
		for _, p := range preds {
			if err = enc.Encode(p); err != nil {
				break
			}
		}
	}
	if err != nil {
		return stats, err
	}
	logf("baseline complete: dataset=%s split=%s predicted=%d failed=%d elapsed=%s", c.Identifier, req.Split, stats.Predicted, stats.Failed, time.Since(start).Round(time.Millisecond))
	return stats, nil
}
