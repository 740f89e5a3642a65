package orm

import (
	"errors"
	"fmt"

	"github.com/groblegark/fmgo/client"
)

// ErrNotFound is returned by single-record accessors (Model.Get,
// QuerySet.First, QuerySet.At) when no record exists. Multi-record reads
// report absence as an empty slice instead.
var ErrNotFound = errors.New("record not found")

// ConfigurationError reports a bad declaration or bad call arguments. It is
// always detected locally, before any network activity.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a value that fails field conversion, either on the
// way to the wire or while decoding a response.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s (value %v)", e.Field, e.Reason, e.Value)
}

func validationErrorf(field string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// StateError reports an operation that is invalid for the record's current
// lifecycle state, e.g. a forced update of a record that was never saved.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Reason
}

// OptimisticLockError reports a mod-id mismatch: the record changed remotely
// after the local copy was read. No local state is modified when this is
// returned.
type OptimisticLockError struct {
	RecordID string
	Err      *client.APIError
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("record %s was modified concurrently: %v", e.RecordID, e.Err)
}

func (e *OptimisticLockError) Unwrap() error { return e.Err }

// RemoteError wraps any other server-reported failure with the operation
// that triggered it. The underlying *client.APIError carries the numeric
// code and message.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// wrapRemote classifies a transport error: mod-id conflicts become
// OptimisticLockError, everything else a RemoteError.
func wrapRemote(op, recordID string, err error) error {
	if client.IsModMismatch(err) {
		var apiErr *client.APIError
		errors.As(err, &apiErr)
		return &OptimisticLockError{RecordID: recordID, Err: apiErr}
	}
	return &RemoteError{Op: op, Err: err}
}

// BulkError identifies which record of a bulk update/delete failed.
type BulkError struct {
	Index    int
	RecordID string
	Err      error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("record %d (id %s): %v", e.Index, e.RecordID, e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }
