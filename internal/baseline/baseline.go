// Package baseline runs a summarizer over the supervised pair of a dataset
// split and scores each prediction against the reference target.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

var ErrNoSupervisedPair = errors.New("card declares no supervised pair")

// Input is the text handed to a summarizer for one example.
type Input struct {
	Dataset string
	Key     string
	Text    string
}

// Summarizer predicts the target text for one input.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, in Input) (string, error)
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Prediction is one scored output row.
type Prediction struct {
	Key        string  `json:"key"`
	Target     string  `json:"target"`
	Prediction string  `json:"prediction"`
	Score      float64 `json:"score"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	Model      string  `json:"model"`
}

type Stats struct {
	Predicted int
	Failed    int
	// MeanScore averages Score over successful predictions.
	MeanScore float64
}

type Options struct {
	Worker worker.Options
	Logger *log.Logger
}

// Run summarizes every example and returns predictions in input order. With a
// fail-fast worker policy the first failure aborts the run; otherwise failed
// examples are reported with StatusError.
func Run(ctx context.Context, c *card.Card, examples []loader.Example, s Summarizer, opts Options) ([]Prediction, Stats, error) {
	if c.SupervisedPair == nil {
		return nil, Stats{}, fmt.Errorf("%s: %w", c.Identifier, ErrNoSupervisedPair)
	}
	pair := *c.SupervisedPair
	start := time.Now()

	task := core.TaskFunc[loader.Example, string](func(ctx context.Context, ex loader.Example) (string, error) {
		text, err := Text(ex.Record[pair.Input])
		if err != nil {
			return "", &loader.RecordError{Key: ex.Key, Field: pair.Input, Msg: err.Error()}
		}
		return s.Summarize(ctx, Input{Dataset: c.Identifier, Key: ex.Key, Text: text})
	})

	results, err := worker.Run(ctx, examples, task, opts.Worker)
	if err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	var total float64
	out := make([]Prediction, 0, len(results))
	for _, r := range results {
		target, _ := Text(r.Input.Record[pair.Target])
		p := Prediction{Key: r.Input.Key, Target: target, Model: s.Name()}
		if r.Err != nil {
			p.Status = StatusError
			p.Error = r.Err.Error()
			stats.Failed++
		} else {
			p.Status = StatusOK
			p.Prediction = strings.TrimSpace(r.Output)
			p.Score = UnigramF1(p.Prediction, target)
			total += p.Score
			stats.Predicted++
		}
		out = append(out, p)
	}
	if stats.Predicted > 0 {
		stats.MeanScore = total / float64(stats.Predicted)
	}
	if opts.Logger != nil {
		opts.Logger.Printf("baseline: dataset=%s model=%s predicted=%d failed=%d mean_f1=%.4f elapsed=%s",
			c.Identifier, s.Name(), stats.Predicted, stats.Failed, stats.MeanScore, time.Since(start).Round(time.Millisecond))
	}
	return out, stats, nil
}

// Text flattens a text or sequence<text> value into one string, one sequence
// element per line.
func Text(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []any:
		lines := make([]string, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("element %d is %T, want text", i, e)
			}
			lines = append(lines, s)
		}
		return strings.Join(lines, "\n"), nil
	case []string:
		return strings.Join(t, "\n"), nil
	case nil:
		return "", errors.New("value is missing")
	default:
		return "", fmt.Errorf("value is %T, want text", v)
	}
}

// UnigramF1 is the F1 of case-folded token overlap between prediction and
// reference, counting repeated tokens at most as often as they occur in both.
func UnigramF1(prediction, reference string) float64 {
	pred := tokens(prediction)
	ref := tokens(reference)
	if len(pred) == 0 || len(ref) == 0 {
		return 0
	}
	counts := make(map[string]int, len(ref))
	for _, t := range ref {
		counts[t]++
	}
	overlap := 0
	for _, t := range pred {
		if counts[t] > 0 {
			counts[t]--
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	precision := float64(overlap) / float64(len(pred))
	recall := float64(overlap) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}
