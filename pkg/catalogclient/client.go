package catalogclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalog"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogapi"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

// Client calls the catalog API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client

	// Attempts bounds tries per call for transient failures.
	Attempts     int
	InitialSleep time.Duration
}

// NewClient constructs a client for a catalog base URL such as
// "https://catalog.example.com". caPath is optional and, when provided, is used
// as the trust store for TLS.
func NewClient(baseURL, token, caPath string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(caPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      base,
		token:        strings.TrimSpace(token),
		http:         hc,
		Attempts:     5,
		InitialSleep: 200 * time.Millisecond,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("catalog base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse catalog base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("catalog base URL must be http(s), got %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	// No client-wide timeout: record streams can run long. Calls are bounded by ctx.
	return &http.Client{Transport: tr}, nil
}

// BaseURL returns the catalog base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolve joins path segments onto the base URL. Segments must not contain
// "/"; the server rejects such identifiers anyway.
func (c *Client) resolve(segments ...string) *url.URL {
	return c.baseURL.ResolveReference(&url.URL{Path: strings.Join(segments, "/")})
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request built by build, retrying transient failures, and
// returns the body of the first 2xx response.
func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	var out []byte
	err := retryTransient(ctx, c.Attempts, c.InitialSleep, func() error {
		req, err := build()
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return newHTTPError(op, resp, b)
		}
		out = b
		return nil
	})
	return out, err
}

func (c *Client) getJSON(ctx context.Context, op string, u *url.URL, v any) error {
	b, err := c.do(ctx, op, func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

func (c *Client) ListDatasets(ctx context.Context) ([]catalog.Entry, error) {
	var out []catalog.Entry
	if err := c.getJSON(ctx, "listDatasets", c.resolve("api", "v1", "datasets"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDataset(ctx context.Context, identifier string) (catalog.Entry, error) {
	var out catalog.Entry
	err := c.getJSON(ctx, "getDataset", c.resolve("api", "v1", "datasets", identifier), &out)
	return out, err
}

// PublishCard uploads a card encoded as YAML.
func (c *Client) PublishCard(ctx context.Context, cd *card.Card) (catalog.Entry, error) {
	body, err := card.Marshal(cd)
	if err != nil {
		return catalog.Entry{}, err
	}
	return c.PublishCardYAML(ctx, body)
}

// PublishCardYAML uploads a card document as is.
func (c *Client) PublishCardYAML(ctx context.Context, body []byte) (catalog.Entry, error) {
	u := c.resolve("api", "v1", "datasets")
	b, err := c.do(ctx, "publishCard", func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodPost, u, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/yaml")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return catalog.Entry{}, err
	}
	var out catalog.Entry
	if err := json.Unmarshal(b, &out); err != nil {
		return catalog.Entry{}, fmt.Errorf("parse publishCard response: %w", err)
	}
	return out, nil
}

func versionOrDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return "default"
	}
	return v
}

// GetCard returns the rendered Markdown card.
func (c *Client) GetCard(ctx context.Context, identifier, version string) (string, error) {
	u := c.resolve("api", "v1", "datasets", identifier, "versions", versionOrDefault(version), "card")
	b, err := c.do(ctx, "getCard", func() (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/markdown")
		return req, nil
	})
	return string(b), err
}

func (c *Client) GetSchema(ctx context.Context, identifier, version string) (card.Schema, error) {
	var out card.Schema
	u := c.resolve("api", "v1", "datasets", identifier, "versions", versionOrDefault(version), "schema")
	err := c.getJSON(ctx, "getSchema", u, &out)
	return out, err
}

type RecordOptions struct {
	Shuffle      bool
	Salt         string
	Limit        int
	VerifyCounts bool
}

func (o RecordOptions) query() url.Values {
	q := url.Values{}
	if o.Shuffle {
		q.Set("shuffle", "true")
	}
	if o.Salt != "" {
		q.Set("salt", o.Salt)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.VerifyCounts {
		q.Set("verify", "true")
	}
	return q
}

// StreamRecords calls fn for every record of a split. Opening the stream is
// retried on transient failures; a stream that fails part way is not, since
// records were already delivered.
func (c *Client) StreamRecords(ctx context.Context, identifier, version, split string, opts RecordOptions, fn func(loader.Example) error) error {
	const op = "streamRecords"
	u := c.resolve("api", "v1", "datasets", identifier, "versions", versionOrDefault(version), "splits", split, "records")
	u.RawQuery = opts.query().Encode()

	var resp *http.Response
	err := retryTransient(ctx, c.Attempts, c.InitialSleep, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/x-ndjson")
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode/100 != 2 {
			defer func() { _ = r.Body.Close() }()
			b, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
			return newHTTPError(op, r, b)
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var ex loader.Example
		if err := dec.Decode(&ex); err != nil {
			return fmt.Errorf("parse %s record: %w", op, err)
		}
		if err := fn(ex); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if msg := strings.TrimSpace(resp.Trailer.Get(catalogapi.StreamErrorTrailer)); msg != "" {
		return &StreamError{Op: op, Msg: msg}
	}
	return nil
}
