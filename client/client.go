// Package client implements the FileMaker Data API transport used by the orm
// package. It issues one HTTP request per call, returns structured results,
// and surfaces server-reported failures as typed *APIError values. Retry and
// backoff policy deliberately do not live here; the only automatic behavior
// is a single re-login when the session token has expired.
package client

import (
	"context"
	"io"
)

// Client is the transport surface the ORM layer builds on. Every method maps
// to exactly one Data API call. Implementations must return *APIError for
// valid-but-erroneous server responses and must never retry on their own.
type Client interface {
	// CreateRecord creates a record, optionally with related portal rows.
	CreateRecord(ctx context.Context, layout string, req *CreateRecordRequest) (*CreateRecordResponse, error)

	// GetRecord fetches a single record by id. A missing record is reported
	// as an *APIError with CodeRecordMissing.
	GetRecord(ctx context.Context, layout, recordID string, opts *GetRecordOptions) (*Record, error)

	// ListRecords fetches a range of records without search criteria.
	ListRecords(ctx context.Context, layout string, req *ListRecordsRequest) ([]*Record, error)

	// Find runs a compound find. Query entries are applied by the server in
	// order: each non-omit entry adds matching records to the found set, each
	// omit entry subtracts them. "No records match" is reported as an
	// *APIError with CodeNoRecordsMatch.
	Find(ctx context.Context, layout string, req *FindRequest) ([]*Record, error)

	// EditRecord updates a record and, in the same call, creates/updates
	// portal rows (PortalData) and deletes related rows (DeleteRelated).
	// When ModID is set the server rejects the edit with CodeModIDMismatch
	// if the record changed since that mod id was read.
	EditRecord(ctx context.Context, layout, recordID string, req *EditRecordRequest) (*EditRecordResponse, error)

	// DeleteRecord deletes a record by id.
	DeleteRecord(ctx context.Context, layout, recordID string) error

	// PerformScript runs a named script in the context of a layout.
	PerformScript(ctx context.Context, layout, name, param string) (*ScriptResult, error)

	// UploadContainer streams binary content into a container field. The
	// record must be re-fetched afterwards to obtain the stored object URL.
	UploadContainer(ctx context.Context, layout, recordID, fieldName string, repetition int, filename string, content io.Reader) error

	// Close releases the session, if any.
	Close() error
}

// Record is one record as returned by the server: raw wire field values plus
// identity and version tokens. FieldData values are strings or json.Number.
type Record struct {
	RecordID  string
	ModID     string
	FieldData map[string]any
	// PortalData maps portal name to related rows, present when the request
	// asked for portals.
	PortalData map[string][]*PortalRow
}

// PortalRow is one related row inside a portal. Field keys are qualified
// with the table occurrence ("Occurrence::Field").
type PortalRow struct {
	RecordID string
	ModID    string
	Fields   map[string]any
}

// Sort is one sort instruction, in the server's own vocabulary.
type Sort struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder"` // "ascend" or "descend"
}

// PortalRange selects a portal to return and an optional row window.
// Offset is 1-based; zero values are omitted from the request.
type PortalRange struct {
	Name   string
	Offset int
	Limit  int
}

// FindQuery is one entry of a compound find: a set of AND-ed field criteria,
// optionally marked as an omit step.
type FindQuery struct {
	Omit     bool
	Criteria map[string]string
}

// FindRequest describes one compound find call. Offset is 1-based; Offset
// and Limit of zero are omitted and the server defaults apply.
type FindRequest struct {
	Query   []FindQuery
	Sort    []Sort
	Offset  int
	Limit   int
	Portals []PortalRange
}

// ListRecordsRequest describes one record-range call (no criteria).
type ListRecordsRequest struct {
	Sort    []Sort
	Offset  int
	Limit   int
	Portals []PortalRange
}

// GetRecordOptions narrows a single-record fetch.
type GetRecordOptions struct {
	Portals        []PortalRange
	ResponseLayout string
}

// CreateRecordRequest carries wire-ready field data for a create, plus
// portal rows to create alongside the parent (keyed by portal name; row maps
// use occurrence-qualified field keys and never contain a recordId).
type CreateRecordRequest struct {
	FieldData  map[string]any
	PortalData map[string][]map[string]any
}

// CreateRecordResponse reports the identity the server assigned.
type CreateRecordResponse struct {
	RecordID string
	ModID    string
}

// EditRecordRequest carries one combined mutation: parent field updates,
// portal row creates/updates (rows with a "recordId" key are updates), and
// related-row deletions ("Occurrence.recordID" directives).
type EditRecordRequest struct {
	FieldData     map[string]any
	PortalData    map[string][]map[string]any
	DeleteRelated []string
	ModID         string
}

// PortalRecordInfo identifies a portal row created by an edit, on servers
// that report it. Older servers omit this entirely.
type PortalRecordInfo struct {
	TableName string
	RecordID  string
	ModID     string
}

// EditRecordResponse carries the parent's new mod id and, when the server
// supports it, identities of portal rows created by the call.
type EditRecordResponse struct {
	ModID               string
	NewPortalRecordInfo []PortalRecordInfo
}

// ScriptResult is the outcome of a script call. Error is the script's own
// error code as reported by the engine ("0" for none).
type ScriptResult struct {
	Result string
	Error  string
}
