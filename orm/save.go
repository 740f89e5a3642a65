package orm

import (
	"context"

	"github.com/groblegark/fmgo/client"
)

// SaveOptions tunes Record.Save. The zero value saves the usual way: create
// a transient record, edit a persisted one writing only dirty fields.
type SaveOptions struct {
	// CheckModID attaches the record's mod id to an update so the server
	// rejects the write if the record changed since it was read. The
	// conflict surfaces as an OptimisticLockError.
	CheckModID bool

	// ForceInsert creates a fresh record even when the instance is already
	// persisted (the instance adopts the new identity). It cannot be
	// combined with ForceUpdate or UpdateFields.
	ForceInsert bool

	// ForceUpdate demands an edit; on a transient record it fails with a
	// StateError before any remote call.
	ForceUpdate bool

	// OnlyUpdated restricts the write to dirty fields. Unset it defaults to
	// true, except for a forced insert of a persisted record, where the
	// whole instance is copied and the default is false.
	OnlyUpdated *bool

	// UpdateFields limits the write to the named attributes. Unknown or
	// read-only names fail with a ConfigurationError before any remote
	// call.
	UpdateFields []string

	// Portals are portal rows to create or update together with the parent
	// in the same call. Transient rows become creates, persisted rows
	// become updates.
	Portals []PortalSave

	// PortalsToDelete are persisted portal rows to delete in the same call.
	// Portal deletes ride on an edit, so they cannot be combined with a
	// parent create.
	PortalsToDelete []*PortalRecord
}

// Bool returns a pointer for the optional boolean options.
func Bool(v bool) *bool { return &v }

// PortalSave is one portal row scheduled for saving, optionally with
// per-row field-selection overrides.
type PortalSave struct {
	row  *PortalRecord
	opts PortalRowOptions
}

// PortalRowOptions overrides field selection for a single portal row.
type PortalRowOptions struct {
	// OnlyUpdated restricts the row write to dirty fields; unset defaults
	// to true for persisted rows and false for new rows.
	OnlyUpdated *bool

	// UpdateFields limits the row write to the named attributes.
	UpdateFields []string
}

// Row schedules a portal row with default options.
func Row(row *PortalRecord) PortalSave {
	return PortalSave{row: row}
}

// RowWithOptions schedules a portal row with per-row overrides.
func RowWithOptions(row *PortalRecord, opts PortalRowOptions) PortalSave {
	return PortalSave{row: row, opts: opts}
}

// savePlan is the fully validated payload of one save call, built before
// any network activity so a local error leaves the record untouched.
type savePlan struct {
	create bool

	fieldData map[string]any
	written   []string // parent attribute names going out

	portalData map[string][]map[string]any
	rows       []*PortalRecord // parallel to the flattened portal payloads
	rowWritten [][]string

	deleteRelated []string
}

// Save writes the record, its scheduled portal rows and portal deletions
// with exactly one remote call. Local problems (bad options, unknown
// fields, rows in the wrong state) fail before the call; on any failure no
// local state changes. On success identifiers and mod ids are refreshed and
// dirty flags are cleared for every field actually written.
func (r *Record) Save(ctx context.Context, opts *SaveOptions) error {
	if opts == nil {
		opts = &SaveOptions{}
	}
	plan, err := r.buildSavePlan(opts)
	if err != nil {
		return err
	}

	if plan.create {
		resp, err := r.model.client.CreateRecord(ctx, r.model.spec.layout, &client.CreateRecordRequest{
			FieldData:  plan.fieldData,
			PortalData: plan.portalData,
		})
		if err != nil {
			return wrapRemote("create "+r.model.spec.layout, "", err)
		}
		r.recordID = resp.RecordID
		r.modID = resp.ModID
		r.deleted = false
		plan.commit(r)
		// The create response carries no portal row identifiers; rows stay
		// transient until refetched.
		return nil
	}

	req := &client.EditRecordRequest{
		FieldData:     plan.fieldData,
		PortalData:    plan.portalData,
		DeleteRelated: plan.deleteRelated,
	}
	if opts.CheckModID {
		req.ModID = r.modID
	}
	resp, err := r.model.client.EditRecord(ctx, r.model.spec.layout, r.recordID, req)
	if err != nil {
		return wrapRemote("edit "+r.model.spec.layout, r.recordID, err)
	}
	r.modID = resp.ModID
	plan.commit(r)
	plan.assignRowIdentities(resp.NewPortalRecordInfo)
	r.dropDeletedRows(opts.PortalsToDelete)
	return nil
}

// buildSavePlan validates options and converts every value that will go
// out. It performs no I/O and does not mutate the record.
func (r *Record) buildSavePlan(opts *SaveOptions) (*savePlan, error) {
	if opts.ForceInsert && (opts.ForceUpdate || len(opts.UpdateFields) > 0) {
		return nil, configErrorf("cannot combine a forced insert with forced update or update fields")
	}
	if opts.ForceUpdate && !r.Persisted() {
		return nil, &StateError{Op: "save", Reason: "cannot force an update on a record that has never been saved"}
	}
	if r.deleted && !opts.ForceInsert {
		return nil, &StateError{Op: "save", Reason: "record was deleted; only a forced insert can save it again"}
	}

	plan := &savePlan{
		create: !r.Persisted() || opts.ForceInsert,
	}

	onlyUpdated := true
	if plan.create {
		onlyUpdated = !r.Persisted() // forced insert of a persisted record copies everything
	}
	if opts.OnlyUpdated != nil {
		onlyUpdated = *opts.OnlyUpdated
	}

	var err error
	plan.fieldData, plan.written, err = buildFieldPayload(
		fieldSource{owner: "model " + r.model.spec.name, fields: r.model.spec.fields, order: r.model.spec.order},
		r.values, r.dirty, onlyUpdated, opts.UpdateFields, nil,
	)
	if err != nil {
		return nil, err
	}

	for _, ps := range opts.Portals {
		if ps.row == nil {
			return nil, configErrorf("nil portal row in save options")
		}
		if err := r.checkPortalRow("save portal row", ps.row); err != nil {
			return nil, err
		}
		payload, written, err := ps.row.buildRowPayload(ps.opts)
		if err != nil {
			return nil, err
		}
		portalName := ps.row.spec.name
		if plan.portalData == nil {
			plan.portalData = map[string][]map[string]any{}
		}
		plan.portalData[portalName] = append(plan.portalData[portalName], payload)
		plan.rows = append(plan.rows, ps.row)
		plan.rowWritten = append(plan.rowWritten, written)
	}

	for _, row := range opts.PortalsToDelete {
		if row == nil {
			return nil, configErrorf("nil portal row in delete list")
		}
		if err := r.checkPortalRow("delete portal row", row); err != nil {
			return nil, err
		}
		if !row.Persisted() {
			return nil, configErrorf("portal %q: cannot delete a row that has never been saved", row.spec.name)
		}
		plan.deleteRelated = append(plan.deleteRelated, row.spec.tableOccurrence+"."+row.recordID)
	}
	if plan.create && len(plan.deleteRelated) > 0 {
		return nil, configErrorf("portal deletions require an existing parent record")
	}

	return plan, nil
}

// checkPortalRow verifies the row belongs to one of this model's declared
// portals.
func (r *Record) checkPortalRow(op string, row *PortalRecord) error {
	declared := r.model.spec.Portal(row.spec.name)
	if declared == nil || declared != row.spec {
		return configErrorf("%s: portal %q is not declared on model %q", op, row.spec.name, r.model.spec.name)
	}
	return nil
}

// buildRowPayload renders one portal row into its wire map. Persisted rows
// carry their record id, marking the entry as an update; transient rows
// omit it, marking a create.
func (p *PortalRecord) buildRowPayload(opts PortalRowOptions) (map[string]any, []string, error) {
	onlyUpdated := p.Persisted()
	if opts.OnlyUpdated != nil {
		onlyUpdated = *opts.OnlyUpdated
	}

	payload, written, err := buildFieldPayload(
		fieldSource{owner: "portal " + p.spec.name, fields: p.spec.fields, order: p.spec.order},
		p.values, p.dirty, onlyUpdated, opts.UpdateFields, p.spec.qualify,
	)
	if err != nil {
		return nil, nil, err
	}
	if p.Persisted() {
		payload["recordId"] = p.recordID
	}
	return payload, written, nil
}

type fieldSource struct {
	owner  string
	fields map[string]*FieldSpec
	order  []string
}

// buildFieldPayload computes the candidate field set and converts it to
// wire values. Candidates are the dirty fields, or every writable field
// with a value when onlyUpdated is false; updateFields further narrows the
// set and may not name unknown or read-only fields. The qualify hook, when
// set, rewrites wire names (portal rows qualify with their table
// occurrence).
func buildFieldPayload(src fieldSource, values map[string]any, dirty map[string]struct{}, onlyUpdated bool, updateFields []string, qualify func(string) string) (map[string]any, []string, error) {
	selected := map[string]struct{}{}
	if updateFields != nil {
		for _, name := range updateFields {
			field := src.fields[name]
			if field == nil {
				return nil, nil, configErrorf("%s has no field %q", src.owner, name)
			}
			if field.readOnly {
				return nil, nil, configErrorf("%s: field %q is read-only", src.owner, name)
			}
			selected[name] = struct{}{}
		}
	}

	payload := map[string]any{}
	var written []string
	for _, name := range src.order {
		field := src.fields[name]
		if field.readOnly {
			continue
		}
		if updateFields != nil {
			if _, ok := selected[name]; !ok {
				continue
			}
		}
		_, isDirty := dirty[name]
		if onlyUpdated && !isDirty {
			continue
		}
		value, hasValue := values[name]
		if !hasValue && !isDirty {
			// Never-set fields are not sent; an explicit nil set clears the
			// remote field instead.
			continue
		}
		wire, err := field.ToWire(value)
		if err != nil {
			return nil, nil, err
		}
		key := field.wireName
		if qualify != nil {
			key = qualify(key)
		}
		payload[key] = wire
		written = append(written, name)
	}
	return payload, written, nil
}

// commit clears the dirty flags of everything the call wrote.
func (p *savePlan) commit(r *Record) {
	for _, name := range p.written {
		delete(r.dirty, name)
	}
	for i, row := range p.rows {
		for _, name := range p.rowWritten[i] {
			delete(row.dirty, name)
		}
	}
}

// assignRowIdentities matches server-reported portal row identities to the
// transient rows of this save, pairing by table occurrence in order. Rows
// left unmatched keep an empty record id; older servers report nothing and
// that absence is passed through, never papered over.
func (p *savePlan) assignRowIdentities(infos []client.PortalRecordInfo) {
	for _, info := range infos {
		for _, row := range p.rows {
			if row.Persisted() || row.spec.tableOccurrence != info.TableName {
				continue
			}
			row.recordID = info.RecordID
			row.modID = info.ModID
			break
		}
	}
	// Persisted rows that were updated get no per-row mod id back; callers
	// refetch the parent when they need fresh row versions.
}

// dropDeletedRows removes successfully deleted rows from the parent's
// cached portal data.
func (r *Record) dropDeletedRows(deleted []*PortalRecord) {
	for _, row := range deleted {
		cached := r.portals[row.spec.name]
		for i, candidate := range cached {
			if candidate == row {
				r.portals[row.spec.name] = append(cached[:i:i], cached[i+1:]...)
				break
			}
		}
	}
}
