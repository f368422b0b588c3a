package catalogclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/compute-module-dataset-catalog/internal/redact"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalogapi"
)

// HTTPError is a sanitized summary of a non-2xx catalog API response.
//
// Raw response bodies are never kept; non-envelope bodies are reduced to a
// short redacted snippet.
type HTTPError struct {
	Op              string
	StatusCode      int
	Status          string
	ErrorName       string
	ErrorCode       string
	ErrorInstanceID string
	Message         string
	Violations      []string

	// Snippet is a redacted, truncated hint for responses without an error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "catalog http error"
	}
	parts := []string{
		fmt.Sprintf("catalog api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if e.ErrorName != "" {
		parts = append(parts, "errorName="+e.ErrorName)
	}
	if e.ErrorCode != "" {
		parts = append(parts, "errorCode="+e.ErrorCode)
	}
	if e.ErrorInstanceID != "" {
		parts = append(parts, "instance="+e.ErrorInstanceID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+redact.Secrets(e.Message))
	}
	if e.Snippet != "" {
		parts = append(parts, "body="+e.Snippet)
	}
	return strings.Join(parts, " ")
}

// Is matches catalogapi error names so callers can use errors.Is with the
// sentinel values below.
func (e *HTTPError) Is(target error) bool {
	t, ok := target.(*HTTPError)
	if !ok || t.Op != "" || t.StatusCode != 0 {
		return false
	}
	return t.ErrorName != "" && t.ErrorName == e.ErrorName
}

var (
	ErrUnknownDataset     = &HTTPError{ErrorName: catalogapi.ErrorUnknownDataset}
	ErrUnknownVersion     = &HTTPError{ErrorName: catalogapi.ErrorUnknownVersion}
	ErrUnknownSplit       = &HTTPError{ErrorName: catalogapi.ErrorUnknownSplit}
	ErrManualFilesMissing = &HTTPError{ErrorName: catalogapi.ErrorManualFilesMissing}
	ErrInvalidCard        = &HTTPError{ErrorName: catalogapi.ErrorInvalidCard}
	ErrVersionPublished   = &HTTPError{ErrorName: catalogapi.ErrorVersionPublished}
	ErrUnauthorized       = &HTTPError{ErrorName: catalogapi.ErrorUnauthorized}
)

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env catalogapi.ErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.ErrorName = strings.TrimSpace(env.ErrorName)
		h.ErrorCode = strings.TrimSpace(env.ErrorCode)
		h.ErrorInstanceID = strings.TrimSpace(env.ErrorInstanceID)
		h.Message = strings.TrimSpace(env.Message)
		h.Violations = env.Violations
		if h.ErrorName != "" || h.ErrorCode != "" || h.ErrorInstanceID != "" {
			return h
		}
	}

	h.Snippet = redact.Truncate(body, 256)
	return h
}

// StreamError reports a failure the server hit after it started sending records.
type StreamError struct {
	Op  string
	Msg string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("catalog api stream error: op=%s %s", e.Op, redact.Secrets(e.Msg))
}
