package client

import (
	"errors"
	"fmt"
)

// FileMaker Data API error codes the ORM layer cares about. The server
// reports many more; anything unrecognized is still carried verbatim in
// APIError.Code.
const (
	CodeNoError        = 0
	CodeRecordMissing  = 101
	CodeModIDMismatch  = 306
	CodeNoRecordsMatch = 401
	CodeInvalidToken   = 952
)

// APIError is an error reported by the FileMaker server in the messages
// section of an otherwise well-formed response. A valid-but-erroneous
// response is always returned as an *APIError, never as a panic or a
// transport failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("filemaker error %d: %s", e.Code, e.Message)
}

// IsNoMatch reports whether err is the server's "no records match the
// request" outcome. Callers treat this as an empty result, not a failure.
func IsNoMatch(err error) bool {
	return hasCode(err, CodeNoRecordsMatch)
}

// IsRecordMissing reports whether err means the requested record id does not
// exist.
func IsRecordMissing(err error) bool {
	return hasCode(err, CodeRecordMissing)
}

// IsModMismatch reports whether err is an optimistic-lock conflict: the
// record was modified since the mod id attached to the request was read.
func IsModMismatch(err error) bool {
	return hasCode(err, CodeModIDMismatch)
}

func hasCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
