package main

import "testing"

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"Name===Ada", "Total=>=100", "City=Portland"})
	if err != nil {
		t.Fatalf("parsePairs: %v", err)
	}
	// The split happens at the first "=", the criterion keeps the rest.
	if pairs["Name"] != "==Ada" {
		t.Errorf("Name = %q, want ==Ada", pairs["Name"])
	}
	if pairs["Total"] != ">=100" {
		t.Errorf("Total = %q, want >=100", pairs["Total"])
	}
	if pairs["City"] != "Portland" {
		t.Errorf("City = %q, want Portland", pairs["City"])
	}

	if _, err := parsePairs([]string{"NoSeparator"}); err == nil {
		t.Error("missing = must be rejected")
	}
	if _, err := parsePairs([]string{"=value"}); err == nil {
		t.Error("empty field name must be rejected")
	}
}

func TestParseSorts(t *testing.T) {
	sorts := parseSorts([]string{"Name", "-Total"})
	if len(sorts) != 2 {
		t.Fatalf("sorts = %d, want 2", len(sorts))
	}
	if sorts[0] != (sortSpec{Field: "Name", Order: "ascend"}) {
		t.Errorf("first = %+v", sorts[0])
	}
	if sorts[1] != (sortSpec{Field: "Total", Order: "descend"}) {
		t.Errorf("second = %+v", sorts[1])
	}
}
