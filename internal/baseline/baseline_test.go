package baseline_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/palantir/compute-module-dataset-catalog/internal/baseline"
	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

type firstLine struct {
	flaky atomic.Int32
	fail  string
}

func (s *firstLine) Name() string { return "first-line" }

func (s *firstLine) Summarize(_ context.Context, in baseline.Input) (string, error) {
	if in.Key == s.fail {
		return "", errors.New("model refused")
	}
	if in.Key == "NPR-3" && s.flaky.Add(1) == 1 {
		return "", &core.TransientError{Err: errors.New("rate limited")}
	}
	line, _, _ := strings.Cut(in.Text, "\n")
	return line, nil
}

func pairCard() *card.Card {
	return &card.Card{
		Identifier:     "media_sum_small",
		Features:       card.Features{{Name: "utt", Tag: "sequence<text>"}, {Name: "summary", Tag: "text"}},
		SupervisedPair: &card.SupervisedPair{Input: "utt", Target: "summary"},
	}
}

func examples() []loader.Example {
	return []loader.Example{
		{Key: "NPR-1", Record: loader.Record{"utt": []any{"Flight delays are down.", "Thanks."}, "summary": "Flight delays are down this summer."}},
		{Key: "NPR-3", Record: loader.Record{"utt": []any{"Cleanup continues in the Gulf."}, "summary": "Cleanup continues in the Gulf."}},
		{Key: "CNN-7", Record: loader.Record{"utt": []any{"Good evening."}, "summary": "Investigators search for answers."}},
	}
}

func fastRetry() worker.Options {
	return worker.Options{Workers: 2, MaxRetries: 2, BackoffInitial: 1, BackoffMax: 1}
}

func TestRun_ScoresInInputOrder(t *testing.T) {
	var logs bytes.Buffer
	preds, stats, err := baseline.Run(context.Background(), pairCard(), examples(), &firstLine{}, baseline.Options{
		Worker: fastRetry(),
		Logger: log.New(&logs, "", 0),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(preds) != 3 || preds[0].Key != "NPR-1" || preds[1].Key != "NPR-3" || preds[2].Key != "CNN-7" {
		t.Fatalf("unexpected order: %#v", preds)
	}
	if preds[1].Score != 1 || preds[1].Status != baseline.StatusOK {
		t.Fatalf("exact match should score 1 after retry: %#v", preds[1])
	}
	if preds[2].Score != 0 {
		t.Fatalf("disjoint prediction should score 0: %#v", preds[2])
	}
	if stats.Predicted != 3 || stats.Failed != 0 {
		t.Fatalf("stats=%#v", stats)
	}
	if preds[0].Model != "first-line" || preds[0].Target != "Flight delays are down this summer." {
		t.Fatalf("prediction fields: %#v", preds[0])
	}
	if !strings.Contains(logs.String(), "baseline: dataset=media_sum_small model=first-line predicted=3 failed=0") {
		t.Fatalf("missing summary log line: %q", logs.String())
	}
}

func TestRun_PartialOutputReportsFailures(t *testing.T) {
	preds, stats, err := baseline.Run(context.Background(), pairCard(), examples(), &firstLine{fail: "CNN-7"}, baseline.Options{Worker: fastRetry()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || preds[2].Status != baseline.StatusError || preds[2].Error != "model refused" {
		t.Fatalf("failure not reported: %#v %#v", stats, preds[2])
	}
}

func TestRun_FailFast(t *testing.T) {
	opts := fastRetry()
	opts.FailurePolicy = worker.FailurePolicyFailFast
	if _, _, err := baseline.Run(context.Background(), pairCard(), examples(), &firstLine{fail: "NPR-1"}, baseline.Options{Worker: opts}); err == nil {
		t.Fatalf("expected fail-fast error")
	}
}

func TestRun_RequiresSupervisedPair(t *testing.T) {
	c := pairCard()
	c.SupervisedPair = nil
	if _, _, err := baseline.Run(context.Background(), c, examples(), &firstLine{}, baseline.Options{}); !errors.Is(err, baseline.ErrNoSupervisedPair) {
		t.Fatalf("expected ErrNoSupervisedPair, got %v", err)
	}
}

func TestRun_NonTextInputIsRecordError(t *testing.T) {
	exs := []loader.Example{{Key: "X-1", Record: loader.Record{"utt": []any{1.5}, "summary": "s"}}}
	preds, _, err := baseline.Run(context.Background(), pairCard(), exs, &firstLine{}, baseline.Options{Worker: fastRetry()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(preds[0].Error, "X-1") || !strings.Contains(preds[0].Error, "utt") {
		t.Fatalf("expected record error, got %q", preds[0].Error)
	}
}

func TestUnigramF1(t *testing.T) {
	tests := []struct {
		pred, ref string
		want      float64
	}{
		{pred: "", ref: "a b", want: 0},
		{pred: "The Gulf", ref: "the gulf", want: 1},
		{pred: "a a a", ref: "a b", want: 0.4},
		{pred: "cleanup continues", ref: "Cleanup continues in the Gulf.", want: 2 * 1 * 0.4 / 1.4},
	}
	for _, tt := range tests {
		if got := baseline.UnigramF1(tt.pred, tt.ref); math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("UnigramF1(%q,%q)=%v want=%v", tt.pred, tt.ref, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := baseline.WriteCSV(&buf, []baseline.Prediction{
		{Key: "NPR-1", Target: "t, with comma", Prediction: "p", Score: 0.5, Status: baseline.StatusOK, Model: "m"},
	})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || strings.Join(rows[0], ",") != strings.Join(baseline.Header(), ",") {
		t.Fatalf("rows=%v", rows)
	}
	if rows[1][1] != "t, with comma" || rows[1][3] != "0.5000" {
		t.Fatalf("row=%v", rows[1])
	}
}
