package orm

import (
	"context"
	"io"
	"testing"

	"github.com/groblegark/fmgo/client"
)

// fakeClient is a scripted transport double. Every call is recorded; canned
// responses are consumed from per-method queues so multi-call flows (chunked
// iteration, bulk updates) can be simulated.
type fakeClient struct {
	calls []fakeCall

	createResps []*client.CreateRecordResponse
	createErrs  []error
	getResps    []*client.Record
	getErrs     []error
	listResps   [][]*client.Record
	listErrs    []error
	findResps   [][]*client.Record
	findErrs    []error
	editResps   []*client.EditRecordResponse
	editErrs    []error
	deleteErrs  []error
}

type fakeCall struct {
	method   string
	layout   string
	recordID string

	create *client.CreateRecordRequest
	get    *client.GetRecordOptions
	list   *client.ListRecordsRequest
	find   *client.FindRequest
	edit   *client.EditRecordRequest
}

func popResp[T any](resps *[]T) T {
	var zero T
	if len(*resps) == 0 {
		return zero
	}
	out := (*resps)[0]
	*resps = (*resps)[1:]
	return out
}

func (f *fakeClient) CreateRecord(_ context.Context, layout string, req *client.CreateRecordRequest) (*client.CreateRecordResponse, error) {
	f.calls = append(f.calls, fakeCall{method: "create", layout: layout, create: req})
	if err := popResp(&f.createErrs); err != nil {
		return nil, err
	}
	if resp := popResp(&f.createResps); resp != nil {
		return resp, nil
	}
	return &client.CreateRecordResponse{RecordID: "900", ModID: "0"}, nil
}

func (f *fakeClient) GetRecord(_ context.Context, layout, recordID string, opts *client.GetRecordOptions) (*client.Record, error) {
	f.calls = append(f.calls, fakeCall{method: "get", layout: layout, recordID: recordID, get: opts})
	if err := popResp(&f.getErrs); err != nil {
		return nil, err
	}
	if resp := popResp(&f.getResps); resp != nil {
		return resp, nil
	}
	return &client.Record{RecordID: recordID, ModID: "0", FieldData: map[string]any{}}, nil
}

func (f *fakeClient) ListRecords(_ context.Context, layout string, req *client.ListRecordsRequest) ([]*client.Record, error) {
	f.calls = append(f.calls, fakeCall{method: "list", layout: layout, list: req})
	if err := popResp(&f.listErrs); err != nil {
		return nil, err
	}
	return popResp(&f.listResps), nil
}

func (f *fakeClient) Find(_ context.Context, layout string, req *client.FindRequest) ([]*client.Record, error) {
	f.calls = append(f.calls, fakeCall{method: "find", layout: layout, find: req})
	if err := popResp(&f.findErrs); err != nil {
		return nil, err
	}
	return popResp(&f.findResps), nil
}

func (f *fakeClient) EditRecord(_ context.Context, layout, recordID string, req *client.EditRecordRequest) (*client.EditRecordResponse, error) {
	f.calls = append(f.calls, fakeCall{method: "edit", layout: layout, recordID: recordID, edit: req})
	if err := popResp(&f.editErrs); err != nil {
		return nil, err
	}
	if resp := popResp(&f.editResps); resp != nil {
		return resp, nil
	}
	return &client.EditRecordResponse{ModID: "1"}, nil
}

func (f *fakeClient) DeleteRecord(_ context.Context, layout, recordID string) error {
	f.calls = append(f.calls, fakeCall{method: "delete", layout: layout, recordID: recordID})
	return popResp(&f.deleteErrs)
}

func (f *fakeClient) PerformScript(_ context.Context, layout, name, param string) (*client.ScriptResult, error) {
	f.calls = append(f.calls, fakeCall{method: "script", layout: layout})
	return &client.ScriptResult{Error: "0"}, nil
}

func (f *fakeClient) UploadContainer(_ context.Context, layout, recordID, fieldName string, repetition int, filename string, content io.Reader) error {
	f.calls = append(f.calls, fakeCall{method: "upload", layout: layout, recordID: recordID})
	return nil
}

func (f *fakeClient) Close() error { return nil }

// lastCall fails the test when no call was made.
func (f *fakeClient) lastCall(t *testing.T) fakeCall {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("expected a transport call, got none")
	}
	return f.calls[len(f.calls)-1]
}

// Test model: a contact with a phone-number portal.

func contactPortal(t *testing.T) *PortalSpec {
	t.Helper()
	p, err := NewPortalSpec("phones", "Phones", []FieldDef{
		{Name: "label", Kind: KindText, WireName: "Label"},
		{Name: "number", Kind: KindText, WireName: "Number"},
	})
	if err != nil {
		t.Fatalf("NewPortalSpec: %v", err)
	}
	return p
}

func contactSpec(t *testing.T) *ModelSpec {
	t.Helper()
	spec, err := NewModelSpec("Contact", "contacts", []FieldDef{
		{Name: "name", Kind: KindText, WireName: "Name"},
		{Name: "age", Kind: KindInt, WireName: "Age"},
		{Name: "active", Kind: KindBool, WireName: "Active"},
		{Name: "joined", Kind: KindDate, WireName: "Joined"},
		{Name: "serial", Kind: KindInt, WireName: "Serial", ReadOnly: true},
		{Name: "photo", Kind: KindContainer, WireName: "Photo"},
	}, contactPortal(t))
	if err != nil {
		t.Fatalf("NewModelSpec: %v", err)
	}
	return spec
}

func contactModel(t *testing.T) (*Model, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	return NewModel(contactSpec(t), fc), fc
}

// wireContact builds a transport record for the contact layout.
func wireContact(recordID, modID, name string, age int64) *client.Record {
	return &client.Record{
		RecordID: recordID,
		ModID:    modID,
		FieldData: map[string]any{
			"Name": name,
			"Age":  age,
		},
	}
}
