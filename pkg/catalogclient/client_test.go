package catalogclient_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalog"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogapi"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogclient"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/worker"
)

func fixturePath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "test", "fixtures"}, parts...)...)
}

func newCatalog(t *testing.T, token string) *catalogclient.Client {
	t.Helper()
	reg := catalog.NewRegistry()
	if _, err := reg.LoadDir(context.Background(), fixturePath("cards"), catalog.LoadOptions{FailFast: true}); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	ld := &loader.Loader{
		ManualDir: fixturePath("manual", "media_sum"),
		Sources:   map[string]loader.Source{"media_sum_small": loader.DialogueSource{}},
	}
	srv := catalogapi.New(reg, ld, nil)
	srv.RequireBearerToken(token)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := catalogclient.NewClient(ts.URL, token, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.InitialSleep = time.Millisecond
	return client
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	client := newCatalog(t, "dummy-token")
	ctx := context.Background()

	entries, err := client.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	md, err := client.GetCard(ctx, "media_sum", "")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if !strings.Contains(md, "# `media_sum`") {
		t.Fatalf("unexpected card:\n%s", md)
	}

	schema, err := client.GetSchema(ctx, "media_sum", "1.0.0")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if schema.TotalExamples != 463596 || !schema.ManualDownload || len(schema.RequiredFiles) != 2 {
		t.Fatalf("unexpected schema: %#v", schema)
	}

	var keys []string
	err = client.StreamRecords(ctx, "media_sum_small", "", "train", catalogclient.RecordOptions{Limit: 2}, func(ex loader.Example) error {
		keys = append(keys, ex.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	if strings.Join(keys, ",") != "NPR-1,NPR-3" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestClient_PublishCard(t *testing.T) {
	t.Parallel()

	client := newCatalog(t, "")
	ctx := context.Background()

	c, err := card.LoadFile(fixturePath("cards", "web_questions.yml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Versions[0].Default = false
	c.Versions = append(c.Versions, card.Version{
		Tag:           "1.1.0",
		Default:       true,
		Splits:        []card.Split{{Name: "train", NumExamples: 1}},
		TotalExamples: 1,
	})
	entry, err := client.PublishCard(ctx, c)
	if err != nil {
		t.Fatalf("PublishCard: %v", err)
	}
	if entry.DefaultVersion != "1.1.0" || len(entry.Versions) != 2 {
		t.Fatalf("unexpected entry: %#v", entry)
	}

	c.Versions[1].Notes = "changed"
	if _, err := client.PublishCard(ctx, c); !errors.Is(err, catalogclient.ErrVersionPublished) {
		t.Fatalf("expected ErrVersionPublished, got %v", err)
	}
}

func TestClient_TypedErrors(t *testing.T) {
	t.Parallel()

	client := newCatalog(t, "")
	ctx := context.Background()

	if _, err := client.GetSchema(ctx, "nope", ""); !errors.Is(err, catalogclient.ErrUnknownDataset) {
		t.Fatalf("expected ErrUnknownDataset, got %v", err)
	}
	err := client.StreamRecords(ctx, "media_sum", "", "dev", catalogclient.RecordOptions{}, func(loader.Example) error { return nil })
	if !errors.Is(err, catalogclient.ErrUnknownSplit) {
		t.Fatalf("expected ErrUnknownSplit, got %v", err)
	}
	var he *catalogclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound || !strings.Contains(he.Message, `"dev"`) {
		t.Fatalf("unexpected http error: %#v", he)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	t.Parallel()

	client := newCatalog(t, "right")
	wrong, err := catalogclient.NewClient(client.BaseURL(), "wrong", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.ListDatasets(context.Background()); !errors.Is(err, catalogclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if strings.Contains(fmt.Sprint(err), "wrong") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream busy Bearer abc123", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"identifier":"media_sum","versions":["1.0.0"],"defaultVersion":"1.0.0"}]`))
	}))
	defer ts.Close()

	client, err := catalogclient.NewClient(ts.URL, "", "")
	if err != nil {
		t.Fatal(err)
	}
	client.InitialSleep = time.Millisecond

	entries, err := client.ListDatasets(context.Background())
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(entries) != 1 || calls.Load() != 3 {
		t.Fatalf("entries=%v calls=%d", entries, calls.Load())
	}

	client.Attempts = 1
	calls.Store(0)
	_, err = client.ListDatasets(context.Background())
	var he *catalogclient.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 HTTPError, got %v", err)
	}
	if strings.Contains(he.Snippet, "abc123") || !strings.Contains(he.Snippet, "Bearer <redacted>") {
		t.Fatalf("snippet not redacted: %q", he.Snippet)
	}
}

func TestClient_StreamErrorTrailer(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", catalogapi.StreamErrorTrailer)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"key":"NPR-1","record":{"id":"NPR-1"}}` + "\n"))
		w.Header().Set(catalogapi.StreamErrorTrailer, "CorruptRecords: record \"NPR-3\": field \"utt\": missing")
	}))
	defer ts.Close()

	client, err := catalogclient.NewClient(ts.URL, "", "")
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	err = client.StreamRecords(context.Background(), "media_sum", "", "train", catalogclient.RecordOptions{}, func(loader.Example) error {
		n++
		return nil
	})
	var se *catalogclient.StreamError
	if !errors.As(err, &se) || n != 1 || !strings.Contains(se.Msg, "NPR-3") {
		t.Fatalf("expected StreamError after 1 record, got n=%d err=%v", n, err)
	}
}

func TestClient_FetchSchemas(t *testing.T) {
	t.Parallel()

	client := newCatalog(t, "")
	results, err := client.FetchSchemas(context.Background(), []string{"media_sum", "missing", "web_questions"}, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("FetchSchemas: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Output.Identifier != "media_sum" {
		t.Fatalf("unexpected result[0]: %#v", results[0])
	}
	if !errors.Is(results[1].Err, catalogclient.ErrUnknownDataset) {
		t.Fatalf("expected unknown dataset for result[1], got %v", results[1].Err)
	}
	if results[2].Output.TotalExamples != 5810 {
		t.Fatalf("unexpected result[2]: %#v", results[2])
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{&catalogclient.HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{&catalogclient.HTTPError{StatusCode: http.StatusBadGateway}, true},
		{&catalogclient.HTTPError{StatusCode: http.StatusNotImplemented}, false},
		{&catalogclient.HTTPError{StatusCode: http.StatusNotFound}, false},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := catalogclient.IsTransient(tt.err); got != tt.want {
			t.Fatalf("IsTransient(%v)=%t want=%t", tt.err, got, tt.want)
		}
	}
}
