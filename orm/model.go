// Package orm maps declared models onto FileMaker layouts: typed field
// conversion, chainable lazy query sets with sequential find/omit
// composition, and an atomic save path that combines a parent edit with
// portal-row creates, updates and deletes in a single Data API call.
package orm

import (
	"context"
	"strings"

	"github.com/groblegark/fmgo/client"
)

// Reserved attribute names. These collide with record bookkeeping and with
// the protocol's own row keys, so fields cannot use them.
var reservedNames = map[string]struct{}{
	"record_id":        {},
	"mod_id":           {},
	"portal_name":      {},
	"table_occurrence": {},
	"model":            {},
	"portal":           {},
	"layout":           {},
}

// operator suffix separator in criteria keys, and therefore forbidden inside
// attribute names.
const opSeparator = "__"

// ModelSpec describes a layout-backed entity: its ordered field set and the
// portals declared on the layout. Specs are immutable once constructed and
// safe to share across goroutines.
type ModelSpec struct {
	name   string
	layout string

	fields     map[string]*FieldSpec
	byWireName map[string]*FieldSpec
	order      []string

	portals map[string]*PortalSpec
}

// NewModelSpec validates the declaration and builds an immutable spec.
// Attribute names must be unique, must not start with "_", must not contain
// "__" and must not collide with the reserved bookkeeping names.
func NewModelSpec(name, layout string, defs []FieldDef, portals ...*PortalSpec) (*ModelSpec, error) {
	if name == "" {
		return nil, configErrorf("model name must not be empty")
	}
	if layout == "" {
		return nil, configErrorf("model %q: layout must not be empty", name)
	}

	spec := &ModelSpec{
		name:       name,
		layout:     layout,
		fields:     make(map[string]*FieldSpec, len(defs)),
		byWireName: make(map[string]*FieldSpec, len(defs)),
		portals:    make(map[string]*PortalSpec, len(portals)),
	}
	if err := spec.addFields(name, defs); err != nil {
		return nil, err
	}

	for _, p := range portals {
		if p == nil {
			return nil, configErrorf("model %q: nil portal spec", name)
		}
		if _, dup := spec.portals[p.name]; dup {
			return nil, configErrorf("model %q: duplicate portal %q", name, p.name)
		}
		spec.portals[p.name] = p
	}
	return spec, nil
}

// MustModelSpec is NewModelSpec for package-level declarations; it panics on
// a bad declaration.
func MustModelSpec(name, layout string, defs []FieldDef, portals ...*PortalSpec) *ModelSpec {
	spec, err := NewModelSpec(name, layout, defs, portals...)
	if err != nil {
		panic(err)
	}
	return spec
}

func (s *ModelSpec) addFields(owner string, defs []FieldDef) error {
	for _, def := range defs {
		if err := checkAttributeName(owner, def.Name); err != nil {
			return err
		}
		if _, dup := s.fields[def.Name]; dup {
			return configErrorf("%s: duplicate field %q", owner, def.Name)
		}
		field, err := newFieldSpec(def)
		if err != nil {
			return err
		}
		if _, dup := s.byWireName[field.wireName]; dup {
			return configErrorf("%s: duplicate wire name %q", owner, field.wireName)
		}
		s.fields[def.Name] = field
		s.byWireName[field.wireName] = field
		s.order = append(s.order, def.Name)
	}
	return nil
}

func checkAttributeName(owner, name string) error {
	if name == "" {
		return configErrorf("%s: field name must not be empty", owner)
	}
	if strings.HasPrefix(name, "_") {
		return configErrorf("%s: field %q: names must not start with %q", owner, name, "_")
	}
	if strings.Contains(name, opSeparator) {
		return configErrorf("%s: field %q: names must not contain %q", owner, name, opSeparator)
	}
	if _, reserved := reservedNames[name]; reserved {
		return configErrorf("%s: field %q: name is reserved", owner, name)
	}
	return nil
}

// Name returns the entity name.
func (s *ModelSpec) Name() string { return s.name }

// Layout returns the layout the model reads and writes through.
func (s *ModelSpec) Layout() string { return s.layout }

// Field returns the spec for an attribute name, or nil.
func (s *ModelSpec) Field(name string) *FieldSpec { return s.fields[name] }

// FieldNames returns attribute names in declaration order.
func (s *ModelSpec) FieldNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Portal returns the spec of a declared portal, or nil.
func (s *ModelSpec) Portal(name string) *PortalSpec { return s.portals[name] }

// PortalSpec describes a portal: a related row set the layout exposes under
// a portal name, whose fields live on another table occurrence.
type PortalSpec struct {
	name            string // attribute/portal name on the parent layout
	tableOccurrence string // qualifies field names inside rows

	fields     map[string]*FieldSpec
	byWireName map[string]*FieldSpec
	order      []string
}

// NewPortalSpec builds a portal declaration. name is the portal name the
// layout exposes; tableOccurrence is the related table occurrence used to
// qualify row fields ("Occurrence::Field") and delete directives.
func NewPortalSpec(name, tableOccurrence string, defs []FieldDef) (*PortalSpec, error) {
	if name == "" {
		return nil, configErrorf("portal name must not be empty")
	}
	if tableOccurrence == "" {
		return nil, configErrorf("portal %q: table occurrence must not be empty", name)
	}

	p := &PortalSpec{
		name:            name,
		tableOccurrence: tableOccurrence,
		fields:          make(map[string]*FieldSpec, len(defs)),
		byWireName:      make(map[string]*FieldSpec, len(defs)),
	}
	owner := "portal " + name
	for _, def := range defs {
		if err := checkAttributeName(owner, def.Name); err != nil {
			return nil, err
		}
		if _, dup := p.fields[def.Name]; dup {
			return nil, configErrorf("%s: duplicate field %q", owner, def.Name)
		}
		field, err := newFieldSpec(def)
		if err != nil {
			return nil, err
		}
		if _, dup := p.byWireName[field.wireName]; dup {
			return nil, configErrorf("%s: duplicate wire name %q", owner, field.wireName)
		}
		p.fields[def.Name] = field
		p.byWireName[field.wireName] = field
		p.order = append(p.order, def.Name)
	}
	return p, nil
}

// MustPortalSpec is NewPortalSpec for package-level declarations.
func MustPortalSpec(name, tableOccurrence string, defs []FieldDef) *PortalSpec {
	p, err := NewPortalSpec(name, tableOccurrence, defs)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the portal name on the parent layout.
func (p *PortalSpec) Name() string { return p.name }

// TableOccurrence returns the related table occurrence.
func (p *PortalSpec) TableOccurrence() string { return p.tableOccurrence }

// Field returns the spec for an attribute name, or nil.
func (p *PortalSpec) Field(name string) *FieldSpec { return p.fields[name] }

// FieldNames returns attribute names in declaration order.
func (p *PortalSpec) FieldNames() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// qualify prefixes a wire field name with the table occurrence, the form
// portal rows use on the wire.
func (p *PortalSpec) qualify(wireName string) string {
	return p.tableOccurrence + "::" + wireName
}

// NewRow returns a fresh, transient portal row for this spec.
func (p *PortalSpec) NewRow() *PortalRecord {
	return &PortalRecord{
		spec:   p,
		values: map[string]any{},
		dirty:  map[string]struct{}{},
	}
}

// Model binds a ModelSpec to a transport client. All remote operations of
// records and query sets go through this binding.
type Model struct {
	spec   *ModelSpec
	client client.Client
}

// NewModel binds spec to a client.
func NewModel(spec *ModelSpec, c client.Client) *Model {
	return &Model{spec: spec, client: c}
}

// Spec returns the bound model spec.
func (m *Model) Spec() *ModelSpec { return m.spec }

// New returns a fresh, transient record.
func (m *Model) New() *Record {
	return &Record{
		model:      m,
		values:     map[string]any{},
		dirty:      map[string]struct{}{},
		portals:    map[string][]*PortalRecord{},
		prefetched: map[string]bool{},
	}
}

// Query returns an empty query set for the model. Building the chain never
// touches the network.
func (m *Model) Query() QuerySet {
	return QuerySet{model: m, sliceStop: -1}
}

// Get fetches one record by id, optionally with portal rows. A missing
// record is reported as ErrNotFound, distinct from other remote failures.
func (m *Model) Get(ctx context.Context, recordID string, portals ...string) (*Record, error) {
	var opts *client.GetRecordOptions
	if len(portals) > 0 {
		opts = &client.GetRecordOptions{}
		for _, name := range portals {
			if m.spec.Portal(name) == nil {
				return nil, configErrorf("model %q has no portal %q", m.spec.name, name)
			}
			opts.Portals = append(opts.Portals, client.PortalRange{Name: name})
		}
	}

	raw, err := m.client.GetRecord(ctx, m.spec.layout, recordID, opts)
	if err != nil {
		if client.IsRecordMissing(err) {
			return nil, ErrNotFound
		}
		return nil, wrapRemote("get "+m.spec.layout+"/"+recordID, recordID, err)
	}
	return m.recordFromWire(raw, false)
}

// recordFromWire builds a Record from a transport record: field data is
// decoded through the field specs, portal rows through their portal specs.
// Unknown wire fields are ignored.
func (m *Model) recordFromWire(raw *client.Record, ignorePrefetch bool) (*Record, error) {
	rec := m.New()
	rec.recordID = raw.RecordID
	rec.modID = raw.ModID
	rec.ignorePrefetch = ignorePrefetch

	for wireName, value := range raw.FieldData {
		field := m.spec.byWireName[wireName]
		if field == nil {
			continue
		}
		native, err := field.FromWire(value)
		if err != nil {
			return nil, err
		}
		rec.values[field.name] = native
	}

	for portalName, rows := range raw.PortalData {
		spec := m.spec.Portal(portalName)
		if spec == nil {
			continue
		}
		parsed := make([]*PortalRecord, 0, len(rows))
		for _, row := range rows {
			pr, err := portalRowFromWire(spec, rec, row)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, pr)
		}
		rec.portals[portalName] = parsed
		rec.prefetched[portalName] = !ignorePrefetch
	}
	return rec, nil
}

func portalRowFromWire(spec *PortalSpec, parent *Record, row *client.PortalRow) (*PortalRecord, error) {
	pr := spec.NewRow()
	pr.parent = parent
	pr.recordID = row.RecordID
	pr.modID = row.ModID
	for key, value := range row.Fields {
		wireName := key
		if i := strings.Index(key, "::"); i >= 0 {
			// Rows arrive with occurrence-qualified keys.
			if key[:i] != spec.tableOccurrence {
				continue
			}
			wireName = key[i+2:]
		}
		field := spec.byWireName[wireName]
		if field == nil {
			continue
		}
		native, err := field.FromWire(value)
		if err != nil {
			return nil, err
		}
		pr.values[field.name] = native
	}
	return pr, nil
}
