package orm

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func translate(t *testing.T, crit C) []map[string]string {
	t.Helper()
	entries, err := translateCriteria(contactSpec(t), crit)
	if err != nil {
		t.Fatalf("translateCriteria(%v): %v", crit, err)
	}
	return entries
}

func TestTranslateCriteria_Operators(t *testing.T) {
	tests := []struct {
		name string
		crit C
		want map[string]string
	}{
		{"bare name is exact", C{"name": "Ada"}, map[string]string{"Name": "==Ada"}},
		{"exact", C{"name__exact": "Ada"}, map[string]string{"Name": "==Ada"}},
		{"contains", C{"name__contains": "da"}, map[string]string{"Name": "==*da*"}},
		{"startswith", C{"name__startswith": "Ad"}, map[string]string{"Name": "==Ad*"}},
		{"endswith", C{"name__endswith": "da"}, map[string]string{"Name": "==*da"}},
		{"gt", C{"age__gt": 21}, map[string]string{"Age": ">21"}},
		{"gte", C{"age__gte": 21}, map[string]string{"Age": ">=21"}},
		{"lt", C{"age__lt": 21}, map[string]string{"Age": "<21"}},
		{"lte", C{"age__lte": 21}, map[string]string{"Age": "<=21"}},
		{"range", C{"age__range": []any{18, 65}}, map[string]string{"Age": "18...65"}},
		{"raw passes through", C{"name__raw": "=A*"}, map[string]string{"Name": "=A*"}},
		{"bool converts through wire", C{"active": true}, map[string]string{"Active": "==1"}},
		{
			"date converts through wire",
			C{"joined__gte": time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
			map[string]string{"Joined": ">=03/14/2026"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := translate(t, tt.crit)
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			if diff := cmp.Diff(tt.want, entries[0]); diff != "" {
				t.Errorf("criteria mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslateCriteria_EscapesSpecials(t *testing.T) {
	entries := translate(t, C{"name": `a*b@c"d`})
	want := `==a\*b\@c\"d`
	if got := entries[0]["Name"]; got != want {
		t.Errorf("literal = %q, want %q", got, want)
	}
}

func TestTranslateCriteria_InExpandsAlternatives(t *testing.T) {
	entries := translate(t, C{"name__in": []string{"Ada", "Grace"}, "age": 36})
	want := []map[string]string{
		{"Age": "==36", "Name": "==Ada"},
		{"Age": "==36", "Name": "==Grace"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("expansion mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateCriteria_TwoInsAreCartesian(t *testing.T) {
	entries := translate(t, C{"name__in": []string{"a", "b"}, "age__in": []int{1, 2}})
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
}

func TestTranslateCriteria_Errors(t *testing.T) {
	tests := []struct {
		name string
		crit C
	}{
		{"unknown attribute", C{"nickname": "x"}},
		{"unknown operator", C{"name__like": "x"}},
		{"nil value", C{"name": nil}},
		{"raw non-string", C{"name__raw": 7}},
		{"in without slice", C{"name__in": "Ada"}},
		{"in empty", C{"name__in": []string{}}},
		{"range wrong arity", C{"age__range": []any{1}}},
		{"ordering on bool", C{"active__gt": true}},
		{"wrong value type", C{"age": "not a number"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := translateCriteria(contactSpec(t), tt.crit)
			if err == nil {
				t.Fatalf("translateCriteria(%v): expected error", tt.crit)
			}
			var cerr *ConfigurationError
			var verr *ValidationError
			if !errors.As(err, &cerr) && !errors.As(err, &verr) {
				t.Errorf("error = %v, want configuration or validation error", err)
			}
		})
	}
}
