package orm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/groblegark/fmgo/client"
)

// fetchedContact returns a persisted record backed by the fake transport.
func fetchedContact(t *testing.T, m *Model, fc *fakeClient, raw *client.Record) *Record {
	t.Helper()
	fc.getResps = append(fc.getResps, raw)
	rec, err := m.Get(context.Background(), raw.RecordID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rec
}

func TestSave_CreateTransient(t *testing.T) {
	m, fc := contactModel(t)
	fc.createResps = []*client.CreateRecordResponse{{RecordID: "900", ModID: "0"}}

	rec := m.New()
	if err := rec.Set("name", "Ada"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rec.Set("age", 36); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rec.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	call := fc.lastCall(t)
	if call.method != "create" || call.layout != "contacts" {
		t.Fatalf("call = %s %s, want create contacts", call.method, call.layout)
	}
	want := map[string]any{"Name": "Ada", "Age": int64(36)}
	if diff := cmp.Diff(want, call.create.FieldData); diff != "" {
		t.Errorf("field data mismatch (-want +got):\n%s", diff)
	}
	if !rec.Persisted() || rec.RecordID() != "900" || rec.ModID() != "0" {
		t.Errorf("identity = %s/%s, want 900/0", rec.RecordID(), rec.ModID())
	}
	if len(rec.Dirty()) != 0 {
		t.Errorf("save must clear written dirty flags: %v", rec.Dirty())
	}
}

// Default update sends exactly the dirty fields, nothing else.
func TestSave_UpdateSendsOnlyDirtyFields(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))

	if err := rec.Set("name", "Ada Lovelace"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rec.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	call := fc.lastCall(t)
	if call.method != "edit" || call.recordID != "17" {
		t.Fatalf("call = %s %s, want edit 17", call.method, call.recordID)
	}
	want := map[string]any{"Name": "Ada Lovelace"}
	if diff := cmp.Diff(want, call.edit.FieldData); diff != "" {
		t.Errorf("field data mismatch (-want +got):\n%s", diff)
	}
	if call.edit.ModID != "" {
		t.Errorf("mod id attached without CheckModID: %q", call.edit.ModID)
	}
	if rec.ModID() != "1" {
		t.Errorf("mod id = %q, want 1 from the edit response", rec.ModID())
	}
}

func TestSave_UnknownUpdateFieldFailsLocally(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))
	calls := len(fc.calls)

	err := rec.Save(context.Background(), &SaveOptions{UpdateFields: []string{"name", "missing_attr"}})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	if len(fc.calls) != calls {
		t.Fatal("local validation must fail before any transport call")
	}

	err = rec.Save(context.Background(), &SaveOptions{UpdateFields: []string{"serial"}})
	if !errors.As(err, &cerr) {
		t.Fatalf("read-only in UpdateFields = %v, want *ConfigurationError", err)
	}
}

func TestSave_UpdateFieldsNarrowsDirtySet(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))

	if err := rec.Apply(map[string]any{"name": "Ada L", "age": 37}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := rec.Save(context.Background(), &SaveOptions{UpdateFields: []string{"name"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	call := fc.lastCall(t)
	want := map[string]any{"Name": "Ada L"}
	if diff := cmp.Diff(want, call.edit.FieldData); diff != "" {
		t.Errorf("field data mismatch (-want +got):\n%s", diff)
	}
	// The field held back stays dirty for the next save.
	dirty := rec.Dirty()
	if len(dirty) != 1 || dirty[0] != "age" {
		t.Errorf("dirty = %v, want [age]", dirty)
	}
}

func TestSave_ForceUpdateOnTransient(t *testing.T) {
	m, fc := contactModel(t)
	var serr *StateError
	err := m.New().Save(context.Background(), &SaveOptions{ForceUpdate: true})
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StateError", err)
	}
	if len(fc.calls) != 0 {
		t.Fatal("state errors must fail before any transport call")
	}
}

func TestSave_ForceInsertCopiesPersistedRecord(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))
	fc.createResps = []*client.CreateRecordResponse{{RecordID: "901", ModID: "0"}}

	if err := rec.Save(context.Background(), &SaveOptions{ForceInsert: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	call := fc.lastCall(t)
	if call.method != "create" {
		t.Fatalf("call = %s, want create", call.method)
	}
	// The whole instance is copied, not just dirty fields.
	want := map[string]any{"Name": "Ada", "Age": int64(36)}
	if diff := cmp.Diff(want, call.create.FieldData); diff != "" {
		t.Errorf("field data mismatch (-want +got):\n%s", diff)
	}
	if rec.RecordID() != "901" {
		t.Errorf("record id = %q, want the new identity 901", rec.RecordID())
	}
}

func TestSave_ForceInsertConflicts(t *testing.T) {
	m, _ := contactModel(t)
	rec := m.New()
	var cerr *ConfigurationError
	err := rec.Save(context.Background(), &SaveOptions{ForceInsert: true, ForceUpdate: true})
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	err = rec.Save(context.Background(), &SaveOptions{ForceInsert: true, UpdateFields: []string{"name"}})
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
}

// One combined call: parent dirty fields, a portal create, a portal update
// and a portal delete.
func TestSave_CombinedPortalMutations(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, &client.Record{
		RecordID:  "17",
		ModID:     "3",
		FieldData: map[string]any{"Name": "Ada"},
		PortalData: map[string][]*client.PortalRow{
			"phones": {
				{RecordID: "70", ModID: "1", Fields: map[string]any{"Phones::Label": "work", "Phones::Number": "555-0100"}},
				{RecordID: "71", ModID: "2", Fields: map[string]any{"Phones::Label": "old", "Phones::Number": "555-0199"}},
			},
		},
	})
	rows, err := rec.Portal(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Portal: %v", err)
	}
	existing, doomed := rows[0], rows[1]

	if err := rec.Set("name", "Ada Lovelace"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := existing.Set("number", "555-0101"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fresh := m.Spec().Portal("phones").NewRow()
	if err := fresh.Set("label", "mobile"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fresh.Set("number", "555-0102"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	calls := len(fc.calls)
	err = rec.Save(context.Background(), &SaveOptions{
		Portals:         []PortalSave{Row(fresh), Row(existing)},
		PortalsToDelete: []*PortalRecord{doomed},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(fc.calls) != calls+1 {
		t.Fatalf("save made %d calls, want exactly 1", len(fc.calls)-calls)
	}

	call := fc.lastCall(t)
	if call.method != "edit" || call.recordID != "17" {
		t.Fatalf("call = %s %s, want edit 17", call.method, call.recordID)
	}
	if diff := cmp.Diff(map[string]any{"Name": "Ada Lovelace"}, call.edit.FieldData); diff != "" {
		t.Errorf("parent field data mismatch (-want +got):\n%s", diff)
	}
	wantPortals := map[string][]map[string]any{
		"phones": {
			{"Phones::Label": "mobile", "Phones::Number": "555-0102"},
			{"Phones::Number": "555-0101", "recordId": "70"},
		},
	}
	if diff := cmp.Diff(wantPortals, call.edit.PortalData); diff != "" {
		t.Errorf("portal data mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Phones.71"}, call.edit.DeleteRelated); diff != "" {
		t.Errorf("delete directives mismatch (-want +got):\n%s", diff)
	}
	if len(rec.Dirty()) != 0 || len(existing.Dirty()) != 0 || len(fresh.Dirty()) != 0 {
		t.Error("save must clear dirty flags on the parent and every written row")
	}
}

func TestSave_PortalDeleteRequiresPersistedRow(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))
	calls := len(fc.calls)

	fresh := m.Spec().Portal("phones").NewRow()
	err := rec.Save(context.Background(), &SaveOptions{PortalsToDelete: []*PortalRecord{fresh}})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	if len(fc.calls) != calls {
		t.Fatal("must fail before any transport call")
	}
}

func TestSave_PortalDeleteWithCreateRejected(t *testing.T) {
	m, fc := contactModel(t)
	// A persisted row from another record, scheduled against a fresh parent.
	other := fetchedContact(t, m, fc, &client.Record{
		RecordID:  "17",
		ModID:     "3",
		FieldData: map[string]any{},
		PortalData: map[string][]*client.PortalRow{
			"phones": {{RecordID: "70", ModID: "1", Fields: map[string]any{}}},
		},
	})
	rows, _ := other.Portal(context.Background(), "phones")

	rec := m.New()
	err := rec.Save(context.Background(), &SaveOptions{PortalsToDelete: []*PortalRecord{rows[0]}})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
}

func TestSave_ModIDMismatchIsOptimisticLock(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))
	fc.editErrs = []error{&client.APIError{Code: client.CodeModIDMismatch, Message: "Record modification ID does not match"}}

	if err := rec.Set("name", "Ada L"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := rec.Save(context.Background(), &SaveOptions{CheckModID: true})

	var lockErr *OptimisticLockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("error = %v, want *OptimisticLockError", err)
	}
	call := fc.lastCall(t)
	if call.edit.ModID != "3" {
		t.Errorf("mod id sent = %q, want 3", call.edit.ModID)
	}
	// No local state changed on failure.
	if got, _ := rec.Get("name"); got != "Ada L" {
		t.Errorf("name = %v, local value must survive the failed save", got)
	}
	dirty := rec.Dirty()
	if len(dirty) != 1 || dirty[0] != "name" {
		t.Errorf("dirty = %v, want [name] preserved", dirty)
	}
	if rec.ModID() != "3" {
		t.Errorf("mod id = %q, must stay 3 after the failed save", rec.ModID())
	}
}

func TestSave_NewPortalRowIdentity(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))

	fresh := m.Spec().Portal("phones").NewRow()
	if err := fresh.Set("number", "555-0102"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A server that reports the created row's identity.
	fc.editResps = []*client.EditRecordResponse{{
		ModID: "4",
		NewPortalRecordInfo: []client.PortalRecordInfo{
			{TableName: "Phones", RecordID: "80", ModID: "0"},
		},
	}}
	if err := rec.Save(context.Background(), &SaveOptions{Portals: []PortalSave{Row(fresh)}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if fresh.RecordID() != "80" || !fresh.Persisted() {
		t.Errorf("row id = %q, want 80", fresh.RecordID())
	}

	// An older server that reports nothing: the row keeps an empty identity.
	fresh2 := m.Spec().Portal("phones").NewRow()
	if err := fresh2.Set("number", "555-0103"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fc.editResps = []*client.EditRecordResponse{{ModID: "5"}}
	if err := rec.Save(context.Background(), &SaveOptions{Portals: []PortalSave{Row(fresh2)}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if fresh2.RecordID() != "" || fresh2.Persisted() {
		t.Errorf("row id = %q, must stay empty when the server reports none", fresh2.RecordID())
	}
}

func TestSave_ForeignPortalRowRejected(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, wireContact("17", "3", "Ada", 36))

	foreign, err := NewPortalSpec("phones", "Phones", []FieldDef{{Name: "number", Kind: KindText}})
	if err != nil {
		t.Fatalf("NewPortalSpec: %v", err)
	}
	row := foreign.NewRow()

	var cerr *ConfigurationError
	if err := rec.Save(context.Background(), &SaveOptions{Portals: []PortalSave{Row(row)}}); !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *ConfigurationError for a row of an undeclared portal spec", err)
	}
}

func TestSave_RowOptionsOverrideFieldSelection(t *testing.T) {
	m, fc := contactModel(t)
	rec := fetchedContact(t, m, fc, &client.Record{
		RecordID:  "17",
		ModID:     "3",
		FieldData: map[string]any{},
		PortalData: map[string][]*client.PortalRow{
			"phones": {{RecordID: "70", ModID: "1", Fields: map[string]any{"Phones::Label": "work", "Phones::Number": "555-0100"}}},
		},
	})
	rows, _ := rec.Portal(context.Background(), "phones")
	row := rows[0]

	// Nothing dirty, but OnlyUpdated=false pushes the row's full state.
	err := rec.Save(context.Background(), &SaveOptions{
		Portals: []PortalSave{RowWithOptions(row, PortalRowOptions{OnlyUpdated: Bool(false)})},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	call := fc.lastCall(t)
	want := map[string][]map[string]any{
		"phones": {{"Phones::Label": "work", "Phones::Number": "555-0100", "recordId": "70"}},
	}
	if diff := cmp.Diff(want, call.edit.PortalData); diff != "" {
		t.Errorf("portal data mismatch (-want +got):\n%s", diff)
	}
}
