package orm

import (
	"reflect"
	"sort"
	"strings"
)

// C is one set of find/omit criteria, keyed by attribute name with an
// optional "__operator" suffix: C{"name__contains": "smith", "age__gte": 21}.
// A bare attribute name means exact match.
type C map[string]any

// Operator suffixes. All except raw convert the operand through the field's
// wire encoding before building the protocol's query literal, so dates go
// out in the wire's date order, booleans as their configured wire values,
// and so on.
const (
	opExact      = "exact"
	opContains   = "contains"
	opStartsWith = "startswith"
	opEndsWith   = "endswith"
	opGT         = "gt"
	opGTE        = "gte"
	opLT         = "lt"
	opLTE        = "lte"
	opRange      = "range"
	opIn         = "in"
	opRaw        = "raw"
)

// fmSpecialChars are characters the find grammar treats as operators; they
// are backslash-escaped in converted operands.
const fmSpecialChars = `@*#?!=<>"`

// escapeSpecials backslash-escapes find-grammar metacharacters.
func escapeSpecials(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(fmSpecialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// translateCriteria resolves attribute names against the model spec and
// renders each criterion into the protocol's query-literal syntax. The
// result is one or more AND-criteria maps: more than one when an "in"
// operator expands into alternatives (the protocol ORs separate entries of
// a find step). Attributes are processed in sorted order and "in" values in
// given order, so output is deterministic.
func translateCriteria(spec *ModelSpec, crit C) ([]map[string]string, error) {
	keys := make([]string, 0, len(crit))
	for k := range crit {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := []map[string]string{{}}
	for _, key := range keys {
		attr, op := splitOperator(key)
		field := spec.Field(attr)
		if field == nil {
			return nil, configErrorf("model %q has no field %q", spec.name, attr)
		}

		value := crit[key]
		switch op {
		case opIn:
			values, err := sliceValues(value)
			if err != nil {
				return nil, configErrorf("field %q: operator in requires a slice of values", attr)
			}
			if len(values) == 0 {
				return nil, configErrorf("field %q: operator in requires at least one value", attr)
			}
			alternatives := make([]string, 0, len(values))
			for _, v := range values {
				literal, err := exactLiteral(field, v)
				if err != nil {
					return nil, err
				}
				alternatives = append(alternatives, literal)
			}
			entries = expandAlternatives(entries, field.wireName, alternatives)
		default:
			literal, err := criterionLiteral(field, op, value)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				entry[field.wireName] = literal
			}
		}
	}
	return entries, nil
}

func splitOperator(key string) (attr, op string) {
	if i := strings.Index(key, opSeparator); i >= 0 {
		return key[:i], key[i+len(opSeparator):]
	}
	return key, opExact
}

// criterionLiteral renders one non-in criterion.
func criterionLiteral(field *FieldSpec, op string, value any) (string, error) {
	switch op {
	case opRaw:
		s, ok := value.(string)
		if !ok {
			return "", configErrorf("field %q: raw criteria must be strings, got %T", field.name, value)
		}
		return s, nil
	case opExact:
		return exactLiteral(field, value)
	case opContains:
		operand, err := criterionOperand(field, value)
		if err != nil {
			return "", err
		}
		return "==*" + operand + "*", nil
	case opStartsWith:
		operand, err := criterionOperand(field, value)
		if err != nil {
			return "", err
		}
		return "==" + operand + "*", nil
	case opEndsWith:
		operand, err := criterionOperand(field, value)
		if err != nil {
			return "", err
		}
		return "==*" + operand, nil
	case opGT, opGTE, opLT, opLTE:
		if err := requireOrdered(field, op); err != nil {
			return "", err
		}
		operand, err := criterionOperand(field, value)
		if err != nil {
			return "", err
		}
		switch op {
		case opGT:
			return ">" + operand, nil
		case opGTE:
			return ">=" + operand, nil
		case opLT:
			return "<" + operand, nil
		default:
			return "<=" + operand, nil
		}
	case opRange:
		if err := requireOrdered(field, op); err != nil {
			return "", err
		}
		bounds, err := sliceValues(value)
		if err != nil || len(bounds) != 2 {
			return "", configErrorf("field %q: operator range requires exactly two values", field.name)
		}
		lo, err := criterionOperand(field, bounds[0])
		if err != nil {
			return "", err
		}
		hi, err := criterionOperand(field, bounds[1])
		if err != nil {
			return "", err
		}
		return lo + "..." + hi, nil
	}
	return "", configErrorf("field %q: unknown operator %q", field.name, op)
}

func exactLiteral(field *FieldSpec, value any) (string, error) {
	operand, err := criterionOperand(field, value)
	if err != nil {
		return "", err
	}
	return "==" + operand, nil
}

// criterionOperand converts a native operand to its escaped wire literal.
func criterionOperand(field *FieldSpec, value any) (string, error) {
	if value == nil {
		return "", configErrorf("field %q: criteria values must not be nil", field.name)
	}
	wire, err := field.ToWire(value)
	if err != nil {
		return "", err
	}
	s, ok := wireString(wire)
	if !ok {
		return "", configErrorf("field %q: cannot render %T as a query literal", field.name, wire)
	}
	return escapeSpecials(s), nil
}

// requireOrdered rejects ordering operators on kinds with no wire ordering.
func requireOrdered(field *FieldSpec, op string) error {
	switch field.kind {
	case KindBool, KindContainer:
		return configErrorf("field %q: operator %s requires an ordered field kind, not %s", field.name, op, field.kind)
	}
	return nil
}

// expandAlternatives multiplies the accumulated entries by one alternative
// set, implementing OR within a find step.
func expandAlternatives(entries []map[string]string, wireName string, alternatives []string) []map[string]string {
	out := make([]map[string]string, 0, len(entries)*len(alternatives))
	for _, entry := range entries {
		for _, alt := range alternatives {
			next := make(map[string]string, len(entry)+1)
			for k, v := range entry {
				next[k] = v
			}
			next[wireName] = alt
			out = append(out, next)
		}
	}
	return out
}

// sliceValues accepts any slice or array value and returns its elements.
func sliceValues(value any) ([]any, error) {
	if vs, ok := value.([]any); ok {
		return vs, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, configErrorf("expected a slice, got %T", value)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
