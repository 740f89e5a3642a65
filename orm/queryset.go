package orm

import (
	"context"
	"errors"
	"strings"

	"github.com/groblegark/fmgo/client"
)

// queryBlock is one find or omit step. entries holds one or more
// alternative criteria maps (more than one after an "in" expansion); the
// protocol ORs them within the step.
type queryBlock struct {
	omit    bool
	entries []map[string]string
}

// QuerySet is a lazy, chainable query over a model's layout. Every chain
// method returns a new value; the receiver is never mutated, so a base
// query can be extended independently in several directions.
//
// Find and omit steps are sent to the server in exactly the order they were
// chained: each find step adds matching records to the working found set
// and each omit step subtracts from it, and the two do not commute.
//
// Building a chain performs no I/O. Local mistakes (unknown fields, bad
// slices) stick to the chain and surface from the evaluating call, always
// before any network activity.
type QuerySet struct {
	model *Model

	blocks []queryBlock
	sorts  []client.Sort

	sliceStart int
	sliceStop  int // -1 = open-ended

	prefetch       []client.PortalRange
	ignorePrefetch bool

	err error
}

// clone copies the chain state; slices are copied so extensions never alias
// the parent.
func (qs QuerySet) clone() QuerySet {
	next := qs
	next.blocks = make([]queryBlock, len(qs.blocks))
	copy(next.blocks, qs.blocks)
	next.sorts = make([]client.Sort, len(qs.sorts))
	copy(next.sorts, qs.sorts)
	next.prefetch = make([]client.PortalRange, len(qs.prefetch))
	copy(next.prefetch, qs.prefetch)
	return next
}

func (qs QuerySet) fail(err error) QuerySet {
	next := qs.clone()
	if next.err == nil {
		next.err = err
	}
	return next
}

func (qs QuerySet) sliced() bool {
	return qs.sliceStart != 0 || qs.sliceStop >= 0
}

// Find appends a find step with the given criteria (AND-ed within the
// step).
func (qs QuerySet) Find(crit C) QuerySet {
	return qs.appendBlock(crit, false)
}

// Omit appends an omit step: matching records are subtracted from the
// result accumulated by the preceding steps.
func (qs QuerySet) Omit(crit C) QuerySet {
	return qs.appendBlock(crit, true)
}

func (qs QuerySet) appendBlock(crit C, omit bool) QuerySet {
	if qs.err != nil {
		return qs
	}
	if qs.sliced() {
		return qs.fail(configErrorf("cannot filter a query once a slice has been taken"))
	}
	if len(crit) == 0 {
		return qs.fail(configErrorf("find/omit requires at least one criterion"))
	}
	entries, err := translateCriteria(qs.model.spec, crit)
	if err != nil {
		return qs.fail(err)
	}
	next := qs.clone()
	next.blocks = append(next.blocks, queryBlock{omit: omit, entries: entries})
	return next
}

// OrderBy adds sort fields in priority order. A leading "-" sorts the field
// descending.
func (qs QuerySet) OrderBy(names ...string) QuerySet {
	if qs.err != nil {
		return qs
	}
	if qs.sliced() {
		return qs.fail(configErrorf("cannot sort a query once a slice has been taken"))
	}
	next := qs.clone()
	for _, name := range names {
		order := "ascend"
		if strings.HasPrefix(name, "-") {
			order = "descend"
			name = name[1:]
		}
		field := qs.model.spec.Field(name)
		if field == nil {
			return qs.fail(configErrorf("model %q has no field %q", qs.model.spec.name, name))
		}
		next.sorts = append(next.sorts, client.Sort{FieldName: field.wireName, SortOrder: order})
	}
	return next
}

// Slice restricts the query to the half-open row range [start, stop).
// Slicing an already-sliced query composes: qs.Slice(10, 20).Slice(2, 5)
// selects rows 12..14 of the unsliced result. Negative or inverted ranges
// are errors, not clamped.
func (qs QuerySet) Slice(start, stop int) QuerySet {
	if qs.err != nil {
		return qs
	}
	if start < 0 || stop < 0 {
		return qs.fail(configErrorf("negative slice bounds are not supported"))
	}
	if stop <= start {
		return qs.fail(configErrorf("slice stop must be greater than start"))
	}
	next := qs.clone()
	next.applySlice(start, stop, true)
	return next
}

// Offset drops the first start rows, leaving the end open.
func (qs QuerySet) Offset(start int) QuerySet {
	if qs.err != nil {
		return qs
	}
	if start < 0 {
		return qs.fail(configErrorf("negative slice bounds are not supported"))
	}
	next := qs.clone()
	next.applySlice(start, 0, false)
	return next
}

// applySlice narrows the current window by a relative [start, stop) range.
func (qs *QuerySet) applySlice(start, stop int, hasStop bool) {
	if hasStop {
		if qs.sliceStop >= 0 {
			qs.sliceStop = min(qs.sliceStop, qs.sliceStart+stop)
		} else {
			qs.sliceStop = qs.sliceStart + stop
		}
	}
	if qs.sliceStop >= 0 {
		qs.sliceStart = min(qs.sliceStop, qs.sliceStart+start)
	} else {
		qs.sliceStart += start
	}
}

// Prefetch asks the server to deliver the named portal's rows together with
// each parent record in the same call. offset is 0-based; limit 0 leaves
// the row count to the server.
func (qs QuerySet) Prefetch(portalName string, offset, limit int) QuerySet {
	if qs.err != nil {
		return qs
	}
	if qs.model.spec.Portal(portalName) == nil {
		return qs.fail(configErrorf("model %q has no portal %q", qs.model.spec.name, portalName))
	}
	if offset < 0 || limit < 0 {
		return qs.fail(configErrorf("portal %q: negative prefetch bounds", portalName))
	}
	next := qs.clone()
	rng := client.PortalRange{Name: portalName, Limit: limit}
	if offset > 0 {
		rng.Offset = offset + 1 // protocol portal offsets are 1-based
	}
	next.prefetch = append(next.prefetch, rng)
	return next
}

// IgnorePrefetched makes portal access on resulting records issue a fresh
// fetch even when rows were delivered with the parent.
func (qs QuerySet) IgnorePrefetched() QuerySet {
	next := qs.clone()
	next.ignorePrefetch = true
	return next
}

// All evaluates the chain with exactly one remote call and returns every
// record of the current window. An empty found set is an empty slice, not
// an error.
func (qs QuerySet) All(ctx context.Context) ([]*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	limit := 0
	if qs.sliceStop >= 0 {
		limit = qs.sliceStop - qs.sliceStart
		if limit == 0 {
			// Composed slices can leave an empty window; limit 0 means "no
			// limit" at the transport, so never let it reach a call.
			return nil, nil
		}
	}
	return qs.fetch(ctx, qs.sliceStart, limit)
}

// Count evaluates the chain and returns the number of records in the
// current window.
func (qs QuerySet) Count(ctx context.Context) (int, error) {
	records, err := qs.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// First returns the first record of the window, or ErrNotFound.
func (qs QuerySet) First(ctx context.Context) (*Record, error) {
	return qs.At(ctx, 0)
}

// At returns the i-th record of the window (0-based), or ErrNotFound when
// the window holds fewer rows.
func (qs QuerySet) At(ctx context.Context, i int) (*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	if i < 0 {
		return nil, configErrorf("negative indexes are not supported")
	}
	if qs.sliceStop >= 0 && qs.sliceStart+i >= qs.sliceStop {
		return nil, configErrorf("index %d out of range for slice", i)
	}
	records, err := qs.fetch(ctx, qs.sliceStart+i, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// fetch issues exactly one remote call for the rows [start, start+limit).
// limit 0 leaves the row count to the server.
func (qs QuerySet) fetch(ctx context.Context, start, limit int) ([]*Record, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	var (
		raw []*client.Record
		err error
	)
	if len(qs.blocks) == 0 {
		raw, err = qs.model.client.ListRecords(ctx, qs.model.spec.layout, &client.ListRecordsRequest{
			Sort:    qs.sorts,
			Offset:  start + 1, // protocol offsets are 1-based
			Limit:   limit,
			Portals: qs.prefetch,
		})
	} else {
		query := make([]client.FindQuery, 0, len(qs.blocks))
		for _, block := range qs.blocks {
			for _, entry := range block.entries {
				query = append(query, client.FindQuery{Omit: block.omit, Criteria: entry})
			}
		}
		raw, err = qs.model.client.Find(ctx, qs.model.spec.layout, &client.FindRequest{
			Query:   query,
			Sort:    qs.sorts,
			Offset:  start + 1,
			Limit:   limit,
			Portals: qs.prefetch,
		})
	}
	if err != nil {
		if client.IsNoMatch(err) {
			return nil, nil
		}
		return nil, wrapRemote("query "+qs.model.spec.layout, "", err)
	}

	records := make([]*Record, 0, len(raw))
	for _, entry := range raw {
		rec, err := qs.model.recordFromWire(entry, qs.ignorePrefetch)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Chunked returns a batch iterator over the window: each batch is one
// independent remote call with the offset advanced by size, and iteration
// stops after the first batch shorter than size. The returned iterator is
// single-use; calling Chunked again on the same QuerySet restarts the
// sequence from the beginning.
//
// Because every batch is a separate call, there is no cross-batch snapshot:
// records mutated concurrently on the server may be skipped, duplicated or
// reordered relative to a single-call read. Callers that need a consistent
// view must take it at the application level.
func (qs QuerySet) Chunked(size int) *Chunks {
	if qs.err == nil && size <= 0 {
		qs = qs.fail(configErrorf("chunk size must be positive"))
	}
	return &Chunks{qs: qs, size: size}
}

// Chunks iterates a QuerySet in batches. It is single-use; call
// QuerySet.Chunked again to restart from the beginning.
type Chunks struct {
	qs       QuerySet
	size     int
	consumed int
	done     bool
}

// Next returns the next batch, or (nil, nil) when the sequence is
// exhausted.
func (c *Chunks) Next(ctx context.Context) ([]*Record, error) {
	if c.qs.err != nil {
		return nil, c.qs.err
	}
	if c.done {
		return nil, nil
	}

	limit := c.size
	if c.qs.sliceStop >= 0 {
		remaining := c.qs.sliceStop - c.qs.sliceStart - c.consumed
		if remaining <= 0 {
			c.done = true
			return nil, nil
		}
		if remaining < limit {
			limit = remaining
		}
	}

	batch, err := c.qs.fetch(ctx, c.qs.sliceStart+c.consumed, limit)
	if err != nil {
		return nil, err
	}
	c.consumed += len(batch)
	if len(batch) < c.size {
		c.done = true
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return batch, nil
}

// BulkOptions tunes QuerySet.Update and QuerySet.Delete.
type BulkOptions struct {
	// ContinueOnError applies the mutation to every record and returns the
	// collected per-record failures joined together. The default stops at
	// the first failure and reports which record it was; mutations already
	// performed stay applied either way — the protocol has no multi-record
	// transaction.
	ContinueOnError bool
	// CheckModID attaches each record's mod id to its update.
	CheckModID bool
}

// Update materializes the window, applies values to each record and saves
// them one remote call per record, sequentially. It returns the number of
// records successfully updated.
func (qs QuerySet) Update(ctx context.Context, values map[string]any, opts *BulkOptions) (int, error) {
	if opts == nil {
		opts = &BulkOptions{}
	}
	records, err := qs.All(ctx)
	if err != nil {
		return 0, err
	}

	return bulkApply(records, opts, func(rec *Record) error {
		if err := rec.Apply(values); err != nil {
			return err
		}
		return rec.Save(ctx, &SaveOptions{CheckModID: opts.CheckModID})
	})
}

// Delete materializes the window and deletes each record, one remote call
// per record, sequentially. It returns the number of records deleted.
func (qs QuerySet) Delete(ctx context.Context, opts *BulkOptions) (int, error) {
	if opts == nil {
		opts = &BulkOptions{}
	}
	records, err := qs.All(ctx)
	if err != nil {
		return 0, err
	}

	return bulkApply(records, opts, func(rec *Record) error {
		return rec.Delete(ctx)
	})
}

func bulkApply(records []*Record, opts *BulkOptions, fn func(*Record) error) (int, error) {
	applied := 0
	var failures []error
	for i, rec := range records {
		if err := fn(rec); err != nil {
			bulkErr := &BulkError{Index: i, RecordID: rec.recordID, Err: err}
			if !opts.ContinueOnError {
				return applied, bulkErr
			}
			failures = append(failures, bulkErr)
			continue
		}
		applied++
	}
	return applied, errors.Join(failures...)
}
