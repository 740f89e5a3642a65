package orm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the native (Go-side) type of a field.
type Kind string

const (
	KindText      Kind = "text"      // string
	KindInt       Kind = "int"       // int
	KindFloat     Kind = "float"     // float64
	KindDecimal   Kind = "decimal"   // decimal.Decimal (exact precision)
	KindBool      Kind = "bool"      // bool
	KindDate      Kind = "date"      // time.Time, date part only
	KindTimestamp Kind = "timestamp" // time.Time
	KindTime      Kind = "time"      // time.Duration since midnight
	KindContainer Kind = "container" // string object URL, read-only
)

// WireType is the FileMaker field type on the layout. Calculated fields use
// the type they evaluate to.
type WireType string

const (
	WireText      WireType = "Text"
	WireNumber    WireType = "Number"
	WireDate      WireType = "Date"
	WireTimestamp WireType = "Timestamp"
	WireTime      WireType = "Time"
	WireContainer WireType = "Container"
)

// Wire formats. FileMaker accepts and emits US-order dates; timestamps carry
// no zone designator and second granularity only.
const (
	wireDateLayout      = "01/02/2006"
	wireTimestampLayout = "01/02/2006 15:04:05"
	wireTimeLayout      = "15:04:05"

	isoDateLayout      = "2006-01-02"
	isoTimestampLayout = "2006-01-02T15:04:05.999999Z07:00"
)

// Default wire truthy/falsy tables for bool fields. Matching is
// case-insensitive.
var (
	DefaultTruthy = []string{"1", "t", "true", "y", "yes", "on"}
	DefaultFalsy  = []string{"0", "f", "false", "n", "no", "off"}
)

// FieldDef declares one field of a model or portal.
type FieldDef struct {
	// Name is the attribute name used in criteria, Get/Set and UpdateFields.
	Name string
	// Kind is the native type.
	Kind Kind
	// Wire is the FileMaker field type. Zero value picks the natural type
	// for the kind (Text→Text, Int→Number, Date→Date, ...).
	Wire WireType
	// WireName is the FileMaker field name; defaults to Name.
	WireName string
	// ReadOnly excludes the field from every save. Container fields are
	// read-only regardless.
	ReadOnly bool

	// Bool conversion tables; nil picks DefaultTruthy/DefaultFalsy. TrueValue
	// and FalseValue are what native true/false serialize to ("1"/"0" when
	// empty).
	Truthy     []string
	Falsy      []string
	TrueValue  string
	FalseValue string

	// Repetition selects the container repetition for uploads (default 1).
	Repetition int
}

// FieldSpec is an immutable, validated field descriptor. It converts values
// between the native representation and the wire representation and owns the
// per-field validation rules.
type FieldSpec struct {
	name       string
	wireName   string
	kind       Kind
	wire       WireType
	readOnly   bool
	repetition int

	truthy     map[string]struct{}
	falsy      map[string]struct{}
	trueValue  string
	falseValue string
}

func (f *FieldSpec) Name() string     { return f.name }
func (f *FieldSpec) WireName() string { return f.wireName }
func (f *FieldSpec) Kind() Kind       { return f.kind }
func (f *FieldSpec) Wire() WireType   { return f.wire }
func (f *FieldSpec) ReadOnly() bool   { return f.readOnly }
func (f *FieldSpec) Repetition() int  { return f.repetition }

// allowedWire is the fixed (native, wire) compatibility matrix. A pair
// outside it fails at declaration time.
var allowedWire = map[Kind][]WireType{
	KindText:      {WireText, WireNumber, WireDate, WireTimestamp, WireTime, WireContainer},
	KindInt:       {WireNumber, WireText},
	KindFloat:     {WireNumber, WireText},
	KindDecimal:   {WireNumber, WireText},
	KindBool:      {WireNumber, WireText},
	KindDate:      {WireDate, WireText},
	KindTimestamp: {WireTimestamp, WireText},
	KindTime:      {WireTime, WireText},
	KindContainer: {WireContainer},
}

// defaultWire picks the natural wire type for a kind.
var defaultWire = map[Kind]WireType{
	KindText:      WireText,
	KindInt:       WireNumber,
	KindFloat:     WireNumber,
	KindDecimal:   WireNumber,
	KindBool:      WireNumber,
	KindDate:      WireDate,
	KindTimestamp: WireTimestamp,
	KindTime:      WireTime,
	KindContainer: WireContainer,
}

func newFieldSpec(def FieldDef) (*FieldSpec, error) {
	if def.Name == "" {
		return nil, configErrorf("field name must not be empty")
	}
	allowed, ok := allowedWire[def.Kind]
	if !ok {
		return nil, configErrorf("field %q: unknown kind %q", def.Name, def.Kind)
	}

	wire := def.Wire
	if wire == "" {
		wire = defaultWire[def.Kind]
	}
	if !containsWire(allowed, wire) {
		return nil, configErrorf("field %q: kind %s cannot be stored in a %s field", def.Name, def.Kind, wire)
	}

	wireName := def.WireName
	if wireName == "" {
		wireName = def.Name
	}
	repetition := def.Repetition
	if repetition == 0 {
		repetition = 1
	}

	f := &FieldSpec{
		name:       def.Name,
		wireName:   wireName,
		kind:       def.Kind,
		wire:       wire,
		readOnly:   def.ReadOnly || def.Kind == KindContainer,
		repetition: repetition,
	}

	if def.Kind == KindBool {
		f.truthy = lowerSet(def.Truthy, DefaultTruthy)
		f.falsy = lowerSet(def.Falsy, DefaultFalsy)
		f.trueValue = def.TrueValue
		if f.trueValue == "" {
			f.trueValue = "1"
		}
		f.falseValue = def.FalseValue
		if f.falseValue == "" {
			f.falseValue = "0"
		}
	}
	return f, nil
}

// Validate checks that a native value is acceptable for this field. nil is
// always acceptable and clears the field on save.
func (f *FieldSpec) Validate(v any) error {
	if v == nil {
		return nil
	}
	switch f.kind {
	case KindText:
		if _, ok := v.(string); !ok {
			return validationErrorf(f.name, v, "expected string, got %T", v)
		}
	case KindInt:
		switch v.(type) {
		case int, int64:
		default:
			return validationErrorf(f.name, v, "expected int, got %T", v)
		}
	case KindFloat:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return validationErrorf(f.name, v, "expected float, got %T", v)
		}
	case KindDecimal:
		if _, ok := v.(decimal.Decimal); !ok {
			return validationErrorf(f.name, v, "expected decimal.Decimal, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return validationErrorf(f.name, v, "expected bool, got %T", v)
		}
	case KindDate, KindTimestamp:
		if _, ok := v.(time.Time); !ok {
			return validationErrorf(f.name, v, "expected time.Time, got %T", v)
		}
	case KindTime:
		d, ok := v.(time.Duration)
		if !ok {
			return validationErrorf(f.name, v, "expected time.Duration, got %T", v)
		}
		if d < 0 || d >= 24*time.Hour {
			return validationErrorf(f.name, v, "time of day out of range")
		}
	case KindContainer:
		return validationErrorf(f.name, v, "container fields cannot be written directly; use UploadContainer")
	}
	return nil
}

// ToWire converts a native value to its wire representation. nil becomes ""
// (the protocol's field-clear value). Conversions that the wire type cannot
// represent losslessly (sub-second precision and zone offsets into Timestamp
// and Time fields) truncate deterministically.
func (f *FieldSpec) ToWire(v any) (any, error) {
	if f.kind == KindContainer || f.wire == WireContainer {
		return nil, validationErrorf(f.name, v, "container fields cannot be written directly; use UploadContainer")
	}
	if v == nil {
		return "", nil
	}
	if err := f.Validate(v); err != nil {
		return nil, err
	}

	switch f.kind {
	case KindText:
		return f.textToWire(v.(string))
	case KindInt:
		n := toInt64(v)
		if f.wire == WireText {
			return strconv.FormatInt(n, 10), nil
		}
		return n, nil
	case KindFloat:
		x := toFloat64(v)
		if f.wire == WireText {
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		}
		return x, nil
	case KindDecimal:
		// Always a string on the wire so the server parses the exact digits.
		return v.(decimal.Decimal).String(), nil
	case KindBool:
		if v.(bool) {
			return f.trueValue, nil
		}
		return f.falseValue, nil
	case KindDate:
		if f.wire == WireDate {
			return v.(time.Time).Format(wireDateLayout), nil
		}
		return v.(time.Time).Format(isoDateLayout), nil
	case KindTimestamp:
		t := v.(time.Time)
		if f.wire == WireTimestamp {
			// Wall clock only: zone and sub-second are dropped.
			return t.Format(wireTimestampLayout), nil
		}
		return t.Format(isoTimestampLayout), nil
	case KindTime:
		d := v.(time.Duration)
		if f.wire == WireTime {
			return clockString(d, false), nil
		}
		return clockString(d, true), nil
	}
	return nil, validationErrorf(f.name, v, "unsupported kind %q", f.kind)
}

// textToWire serializes a text-native value. For temporal wire types the
// string must be in ISO form and is re-ordered into the wire format.
func (f *FieldSpec) textToWire(s string) (any, error) {
	switch f.wire {
	case WireText, WireNumber:
		return s, nil
	case WireDate:
		t, err := time.Parse(isoDateLayout, s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not an ISO date")
		}
		return t.Format(wireDateLayout), nil
	case WireTimestamp:
		t, err := parseISOTimestamp(s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not an ISO timestamp")
		}
		return t.Format(wireTimestampLayout), nil
	case WireTime:
		d, err := parseClock(s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not an ISO time")
		}
		return clockString(d, false), nil
	}
	return nil, validationErrorf(f.name, s, "unsupported wire type %q", f.wire)
}

// FromWire converts a wire value (string or JSON number) to the native
// representation. "" becomes nil, except for text-native Text and Container
// fields where the empty string is a real value.
func (f *FieldSpec) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := wireString(v)
	if !ok {
		return nil, validationErrorf(f.name, v, "unexpected wire value of type %T", v)
	}

	if f.kind == KindText {
		return f.textFromWire(s)
	}
	if f.kind == KindContainer {
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
	if s == "" {
		return nil, nil
	}

	switch f.kind {
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not an integer")
		}
		return int(n), nil
	case KindFloat:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not a number")
		}
		return x, nil
	case KindDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not a decimal number")
		}
		return d, nil
	case KindBool:
		folded := strings.ToLower(s)
		if _, ok := f.truthy[folded]; ok {
			return true, nil
		}
		if _, ok := f.falsy[folded]; ok {
			return false, nil
		}
		return nil, validationErrorf(f.name, v, "value is neither truthy nor falsy")
	case KindDate:
		layout := wireDateLayout
		if f.wire == WireText {
			layout = isoDateLayout
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not a valid date")
		}
		return t, nil
	case KindTimestamp:
		if f.wire == WireTimestamp {
			t, err := time.Parse(wireTimestampLayout, s)
			if err != nil {
				return nil, validationErrorf(f.name, v, "not a valid timestamp")
			}
			return t, nil
		}
		t, err := parseISOTimestamp(s)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not a valid ISO timestamp")
		}
		return t, nil
	case KindTime:
		d, err := parseClock(s)
		if err != nil {
			return nil, validationErrorf(f.name, v, "not a valid time of day")
		}
		return d, nil
	}
	return nil, validationErrorf(f.name, v, "unsupported kind %q", f.kind)
}

// textFromWire deserializes into a text-native value, normalizing temporal
// wire formats to ISO strings.
func (f *FieldSpec) textFromWire(s string) (any, error) {
	switch f.wire {
	case WireText, WireContainer:
		return s, nil
	case WireNumber:
		// Number fields can legally hold non-numeric text; pass through.
		return s, nil
	}
	if s == "" {
		return nil, nil
	}
	switch f.wire {
	case WireDate:
		t, err := time.Parse(wireDateLayout, s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not a valid date")
		}
		return t.Format(isoDateLayout), nil
	case WireTimestamp:
		t, err := time.Parse(wireTimestampLayout, s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not a valid timestamp")
		}
		return t.Format(isoTimestampLayout), nil
	case WireTime:
		d, err := parseClock(s)
		if err != nil {
			return nil, validationErrorf(f.name, s, "not a valid time of day")
		}
		return clockString(d, true), nil
	}
	return nil, validationErrorf(f.name, s, "unsupported wire type %q", f.wire)
}

// --- conversion helpers ---

func containsWire(list []WireType, w WireType) bool {
	for _, t := range list {
		if t == w {
			return true
		}
	}
	return false
}

func lowerSet(values, fallback []string) map[string]struct{} {
	if values == nil {
		values = fallback
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	}
	return 0
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

// wireString normalizes the value shapes a JSON response can carry.
func wireString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// parseISOTimestamp accepts ISO 8601 with optional fraction and optional
// offset; values without an offset are read as UTC.
func parseISOTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}

// clockString renders a time of day. withFraction keeps sub-second digits
// (microsecond granularity); otherwise they are truncated.
func clockString(d time.Duration, withFraction bool) string {
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	sec := int(d/time.Second) % 60
	out := fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	if withFraction {
		if micros := int(d/time.Microsecond) % 1_000_000; micros != 0 {
			out += strings.TrimRight(fmt.Sprintf(".%06d", micros), "0")
		}
	}
	return out
}

// parseClock parses HH:MM:SS with an optional fractional second.
func parseClock(s string) (time.Duration, error) {
	base := s
	var frac time.Duration
	if i := strings.IndexByte(s, '.'); i >= 0 {
		base = s[:i]
		f, err := strconv.ParseFloat("0"+s[i:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fraction in %q", s)
		}
		frac = time.Duration(f * float64(time.Second))
	}
	parts := strings.Split(base, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second + frac, nil
}
