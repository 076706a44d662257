package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrDocumentExists      = errors.New("document already exists")
	ErrShardUnavailable    = errors.New("shard unavailable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrIdempotencyConflict = errors.New("idempotency key already used")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")

	// ErrReadOnly is returned by every write path on a shard that has been
	// marked read-only (a cold shard that has received migrated rows, or a primary demoted for
	// maintenance).
	ErrReadOnly = errors.New("shard is read-only")
	// ErrValidation is returned when a batch fails document validation; the
	// caller should inspect the accompanying field errors.
	ErrValidation = errors.New("document validation failed")
	// ErrPlannerReject is surfaced when the query planner rejects a query
	// (only stop words, or too common a query).
	ErrPlannerReject = errors.New("query rejected by planner")
	// ErrConfigCorruption marks a persisted ShardConfig that failed to
	// deserialize; the shard treats this as an empty config and continues.
	ErrConfigCorruption = errors.New("shard config corrupted")
	// ErrColdShardFailure marks a failed write to a cold shard during
	// lifecycle migration; the primary retains its data and retries later.
	ErrColdShardFailure = errors.New("cold shard write failed")
	// ErrIDTypeImmutable is returned when Configure attempts to change
	// idType on a shard that already has a value on record.
	ErrIDTypeImmutable = errors.New("idType is immutable once a config is set")
	// ErrUnsupportedSchemaVersion is returned when persisted state reports a
	// db_version higher than this build understands.
	ErrUnsupportedSchemaVersion = errors.New("unsupported persisted schema version")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDocumentExists), errors.Is(err, ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrShardUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPlannerReject), errors.Is(err, ErrIDTypeImmutable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}

}
