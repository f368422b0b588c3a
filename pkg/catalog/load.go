package catalog

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

type LoadOptions struct {
	Workers  int
	FailFast bool
	Logger   *log.Logger
}

// FileError is a card file that could not be decoded, validated or registered.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

type LoadReport struct {
	Loaded []string
	Failed []*FileError
}

// CardFiles lists the *.yaml and *.yml files directly under dir, sorted.
func CardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadDir decodes and validates every card file under dir on the worker pool
// and registers the valid ones in file name order. With FailFast the first
// failure is returned; otherwise failures are collected in the report.
func (r *Registry) LoadDir(ctx context.Context, dir string, opts LoadOptions) (LoadReport, error) {
	start := time.Now()
	paths, err := CardFiles(dir)
	if err != nil {
		return LoadReport{}, fmt.Errorf("list cards: %w", err)
	}

	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	decode := core.TaskFunc[string, *card.Card](func(_ context.Context, path string) (*card.Card, error) {
		c, err := card.LoadFile(path)
		if err != nil {
			return nil, &FileError{Path: path, Err: err}
		}
		if err := c.Validate(); err != nil {
			return nil, &FileError{Path: path, Err: err}
		}
		return c, nil
	})
	results, err := worker.Run(ctx, paths, decode, worker.Options{Workers: opts.Workers, FailurePolicy: policy})
	if err != nil {
		return LoadReport{}, err
	}

	var report LoadReport
	for _, res := range results {
		if res.Err != nil {
			fe, ok := res.Err.(*FileError)
			if !ok {
				fe = &FileError{Path: res.Input, Err: res.Err}
			}
			report.Failed = append(report.Failed, fe)
			continue
		}
		if err := r.Register(res.Output); err != nil {
			fe := &FileError{Path: res.Input, Err: err}
			if opts.FailFast {
				return report, fe
			}
			report.Failed = append(report.Failed, fe)
			continue
		}
		report.Loaded = append(report.Loaded, res.Output.Identifier)
	}

	if opts.Logger != nil {
		opts.Logger.Printf(
			"catalog load: dir=%s files=%d loaded=%d failed=%d elapsed=%s",
			dir,
			len(paths),
			len(report.Loaded),
			len(report.Failed),
			time.Since(start).Round(time.Millisecond),
		)
		for _, fe := range report.Failed {
			opts.Logger.Printf("catalog load: skipped %v", fe)
		}
	}
	return report, nil
}
