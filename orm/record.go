package orm

import (
	"context"
	"io"

	"github.com/groblegark/fmgo/client"
)

// Record is one mutable instance of a model. A record starts transient (no
// record id), becomes persisted after its first successful save or when
// built from a fetch, and becomes invalid for further saves once deleted
// (except as a forced fresh insert).
//
// Records are not safe for concurrent mutation; each belongs to the call
// site that created it.
type Record struct {
	model *Model

	recordID string // "" while transient
	modID    string // refreshed on every create/update/fetch
	deleted  bool

	values map[string]any
	dirty  map[string]struct{}

	portals    map[string][]*PortalRecord
	prefetched map[string]bool
	// ignorePrefetch forces Portal to refetch even when rows were delivered
	// with the parent.
	ignorePrefetch bool
}

// RecordID returns the server-assigned identifier, or "" for a transient
// record.
func (r *Record) RecordID() string { return r.recordID }

// ModID returns the version token from the last create/update/fetch. It is
// only meaningful for optimistic-lock checks, never as an identifier.
func (r *Record) ModID() string { return r.modID }

// Persisted reports whether the record has a server identity.
func (r *Record) Persisted() bool { return r.recordID != "" }

// Get returns the native value of a field; nil means the field is empty.
func (r *Record) Get(name string) (any, error) {
	field := r.model.spec.Field(name)
	if field == nil {
		return nil, configErrorf("model %q has no field %q", r.model.spec.name, name)
	}
	return r.values[field.name], nil
}

// Set stores a native value and marks the field dirty. Unknown and
// read-only fields are rejected; the value must match the field's kind.
func (r *Record) Set(name string, value any) error {
	field := r.model.spec.Field(name)
	if field == nil {
		return configErrorf("model %q has no field %q", r.model.spec.name, name)
	}
	return setFieldValue(field, r.values, r.dirty, value)
}

// Apply sets several fields at once, failing on the first bad one.
func (r *Record) Apply(values map[string]any) error {
	for name, value := range values {
		if err := r.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Dirty returns the attribute names modified since the last successful
// save or fetch.
func (r *Record) Dirty() []string {
	out := make([]string, 0, len(r.dirty))
	for name := range r.dirty {
		out = append(out, name)
	}
	return out
}

// Portal returns the rows of a declared portal. Rows prefetched with the
// parent are returned as-is unless the originating query set asked to
// ignore prefetched data; otherwise one fresh single-record fetch is
// issued. A transient parent has no remote rows and yields an empty slice.
func (r *Record) Portal(ctx context.Context, name string) ([]*PortalRecord, error) {
	spec := r.model.spec.Portal(name)
	if spec == nil {
		return nil, configErrorf("model %q has no portal %q", r.model.spec.name, name)
	}
	if r.prefetched[name] && !r.ignorePrefetch {
		return r.portals[name], nil
	}
	if !r.Persisted() {
		return nil, nil
	}

	raw, err := r.model.client.GetRecord(ctx, r.model.spec.layout, r.recordID, &client.GetRecordOptions{
		Portals: []client.PortalRange{{Name: name}},
	})
	if err != nil {
		return nil, wrapRemote("get portal "+name, r.recordID, err)
	}

	rows := make([]*PortalRecord, 0, len(raw.PortalData[name]))
	for _, row := range raw.PortalData[name] {
		pr, err := portalRowFromWire(spec, r, row)
		if err != nil {
			return nil, err
		}
		rows = append(rows, pr)
	}
	r.portals[name] = rows
	r.prefetched[name] = true
	return rows, nil
}

// Refresh re-reads field data and mod id from the server, clearing all
// dirty flags. The record must be persisted.
func (r *Record) Refresh(ctx context.Context) error {
	if !r.Persisted() {
		return &StateError{Op: "refresh", Reason: "record has never been saved"}
	}

	raw, err := r.model.client.GetRecord(ctx, r.model.spec.layout, r.recordID, nil)
	if err != nil {
		if client.IsRecordMissing(err) {
			return ErrNotFound
		}
		return wrapRemote("refresh", r.recordID, err)
	}

	values := make(map[string]any, len(raw.FieldData))
	for wireName, value := range raw.FieldData {
		field := r.model.spec.byWireName[wireName]
		if field == nil {
			continue
		}
		native, err := field.FromWire(value)
		if err != nil {
			return err
		}
		values[field.name] = native
	}

	r.values = values
	r.dirty = map[string]struct{}{}
	r.modID = raw.ModID
	r.deleted = false
	return nil
}

// Delete removes the record remotely. The local record id is kept so the
// caller can still read it, but the instance only accepts further saves as
// a forced fresh insert.
func (r *Record) Delete(ctx context.Context) error {
	if !r.Persisted() {
		return &StateError{Op: "delete", Reason: "record has never been saved"}
	}
	if err := r.model.client.DeleteRecord(ctx, r.model.spec.layout, r.recordID); err != nil {
		return wrapRemote("delete", r.recordID, err)
	}
	r.deleted = true
	return nil
}

// UploadContainer streams content into a container field. This is a
// separate transport call by protocol contract: it does not participate in
// save, and the record must be re-fetched afterwards to observe the stored
// object URL.
func (r *Record) UploadContainer(ctx context.Context, name, filename string, content io.Reader) error {
	field := r.model.spec.Field(name)
	if field == nil {
		return configErrorf("model %q has no field %q", r.model.spec.name, name)
	}
	if field.kind != KindContainer {
		return configErrorf("field %q is not a container field", name)
	}
	if !r.Persisted() {
		return &StateError{Op: "upload container", Reason: "record has never been saved"}
	}
	err := r.model.client.UploadContainer(ctx, r.model.spec.layout, r.recordID, field.wireName, field.repetition, filename, content)
	if err != nil {
		return wrapRemote("upload container "+name, r.recordID, err)
	}
	return nil
}

// PortalRecord is one row of a portal. Rows obtained from a parent fetch
// carry the parent linkage; rows built with PortalSpec.NewRow are transient
// until saved through the parent.
type PortalRecord struct {
	spec   *PortalSpec
	parent *Record

	recordID string
	modID    string

	values map[string]any
	dirty  map[string]struct{}
}

// RecordID returns the row's server identifier. It is "" for rows that were
// never saved — and stays "" after a create against servers that do not
// report portal row identities; callers must not treat "" as an error.
func (p *PortalRecord) RecordID() string { return p.recordID }

// ModID returns the row's version token.
func (p *PortalRecord) ModID() string { return p.modID }

// Persisted reports whether the row has a server identity.
func (p *PortalRecord) Persisted() bool { return p.recordID != "" }

// Parent returns the record this row was loaded from, or nil.
func (p *PortalRecord) Parent() *Record { return p.parent }

// Spec returns the portal declaration this row belongs to.
func (p *PortalRecord) Spec() *PortalSpec { return p.spec }

// Get returns the native value of a row field.
func (p *PortalRecord) Get(name string) (any, error) {
	field := p.spec.Field(name)
	if field == nil {
		return nil, configErrorf("portal %q has no field %q", p.spec.name, name)
	}
	return p.values[field.name], nil
}

// Set stores a native value and marks the field dirty.
func (p *PortalRecord) Set(name string, value any) error {
	field := p.spec.Field(name)
	if field == nil {
		return configErrorf("portal %q has no field %q", p.spec.name, name)
	}
	return setFieldValue(field, p.values, p.dirty, value)
}

// Dirty returns the attribute names modified since the last save or fetch.
func (p *PortalRecord) Dirty() []string {
	out := make([]string, 0, len(p.dirty))
	for name := range p.dirty {
		out = append(out, name)
	}
	return out
}

func setFieldValue(field *FieldSpec, values map[string]any, dirty map[string]struct{}, value any) error {
	if field.readOnly {
		return configErrorf("field %q is read-only", field.name)
	}
	if err := field.Validate(value); err != nil {
		return err
	}
	values[field.name] = value
	dirty[field.name] = struct{}{}
	return nil
}
