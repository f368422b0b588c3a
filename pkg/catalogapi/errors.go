package catalogapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/catalog"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
)

// Error names carried in the errorName field of the error envelope.
const (
	ErrorUnknownDataset     = "UnknownDataset"
	ErrorUnknownVersion     = "UnknownVersion"
	ErrorUnknownSplit       = "UnknownSplit"
	ErrorManualFilesMissing = "ManualFilesMissing"
	ErrorRecordsUnavailable = "RecordsUnavailable"
	ErrorCorruptRecords     = "CorruptRecords"
	ErrorInvalidCard        = "InvalidCard"
	ErrorVersionPublished   = "VersionAlreadyPublished"
	ErrorUnauthorized       = "Unauthorized"
	ErrorInvalidArgument    = "InvalidArgument"
	ErrorInternal           = "Internal"
)

// ErrorEnvelope is the JSON body of every non-2xx response.
type ErrorEnvelope struct {
	ErrorCode       string   `json:"errorCode"`
	ErrorName       string   `json:"errorName"`
	ErrorInstanceID string   `json:"errorInstanceId"`
	Message         string   `json:"message,omitempty"`
	Violations      []string `json:"violations,omitempty"`
}

type apiError struct {
	status int
	code   string
	name   string
	msg    string
	extra  []string
}

// classify maps domain errors to HTTP statuses. Unknown errors become opaque
// 500s so internal details are not exposed.
func classify(err error) apiError {
	var (
		splitErr   *loader.UnknownSplitError
		missingErr *loader.MissingFilesError
		recordErr  *loader.RecordError
		dupErr     *loader.DuplicatedKeysError
		countErr   *loader.CountMismatchError
		sourceErr  *loader.SourceError
	)
	switch {
	case errors.Is(err, catalog.ErrUnknownDataset):
		return apiError{status: http.StatusNotFound, code: "NOT_FOUND", name: ErrorUnknownDataset, msg: err.Error()}
	case errors.Is(err, card.ErrUnknownVersion):
		return apiError{status: http.StatusNotFound, code: "NOT_FOUND", name: ErrorUnknownVersion, msg: err.Error()}
	case errors.As(err, &splitErr):
		return apiError{status: http.StatusNotFound, code: "NOT_FOUND", name: ErrorUnknownSplit, msg: err.Error()}
	case errors.As(err, &missingErr):
		return apiError{
			status: http.StatusPreconditionFailed,
			code:   "FAILED_PRECONDITION",
			name:   ErrorManualFilesMissing,
			msg:    "manual download files missing: " + strings.Join(missingErr.Files, ", "),
		}
	case errors.Is(err, loader.ErrNoSource):
		return apiError{status: http.StatusPreconditionFailed, code: "FAILED_PRECONDITION", name: ErrorRecordsUnavailable, msg: err.Error()}
	case errors.As(err, &recordErr), errors.As(err, &dupErr), errors.As(err, &countErr), errors.As(err, &sourceErr):
		return apiError{status: http.StatusUnprocessableEntity, code: "FAILED_PRECONDITION", name: ErrorCorruptRecords, msg: err.Error()}
	case errors.Is(err, catalog.ErrVersionPublished):
		return apiError{status: http.StatusConflict, code: "CONFLICT", name: ErrorVersionPublished, msg: err.Error()}
	}
	if vs := card.Violations(err); len(vs) > 0 {
		out := apiError{status: http.StatusBadRequest, code: "INVALID_ARGUMENT", name: ErrorInvalidCard, msg: "card failed validation"}
		for _, v := range vs {
			out.extra = append(out.extra, v.Error())
		}
		return out
	}
	return apiError{status: http.StatusInternalServerError, code: "INTERNAL", name: ErrorInternal, msg: "internal error"}
}

func writeError(w http.ResponseWriter, reqID string, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		ErrorCode:       e.code,
		ErrorName:       e.name,
		ErrorInstanceID: reqID,
		Message:         e.msg,
		Violations:      e.extra,
	})
}
