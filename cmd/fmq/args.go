package main

import (
	"fmt"
	"strings"
)

// parsePairs splits "Field=value" arguments at the first "=". The value may
// itself contain "=" (find criteria like "Total=>=100").
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		i := strings.Index(arg, "=")
		if i <= 0 {
			return nil, fmt.Errorf("expected Field=value, got %q", arg)
		}
		out[arg[:i]] = arg[i+1:]
	}
	return out, nil
}

// parseSorts turns "Field" / "-Field" arguments into sort instructions.
func parseSorts(specs []string) []sortSpec {
	out := make([]sortSpec, 0, len(specs))
	for _, s := range specs {
		order := "ascend"
		if strings.HasPrefix(s, "-") {
			order = "descend"
			s = s[1:]
		}
		out = append(out, sortSpec{Field: s, Order: order})
	}
	return out
}

type sortSpec struct {
	Field string
	Order string
}
