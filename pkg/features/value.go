package features

import (
	"encoding/json"
	"fmt"
	"math"
)

type Kind int

const (
	KindNotAvailable Kind = iota
	KindBool
	KindNumber
	KindCount
)

// Value is one derived feature. The zero Value is not-available, which is
// distinct from false or zero.
type Value struct {
	kind   Kind
	flag   bool
	number float64
	count  int64
}

func NotAvailable() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

func Count(n int64) Value { return Value{kind: KindCount, count: n} }

// Number wraps a measurement; NaN and infinities become not-available.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NotAvailable()
	}
	return Value{kind: KindNumber, number: f}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Available() bool { return v.kind != KindNotAvailable }

func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

func (v Value) AsCount() (int64, bool) { return v.count, v.kind == KindCount }

func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.number, true
	case KindCount:
		return float64(v.count), true
	}
	return 0, false
}

// Interface returns the plain Go value, nil when not available.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.flag
	case KindNumber:
		return v.number
	case KindCount:
		return v.count
	}
	return nil
}

func (v Value) String() string {
	if !v.Available() {
		return "n/a"
	}
	return fmt.Sprint(v.Interface())
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindCount:
		return "count"
	}
	return "not_available"
}

// FromKind rebuilds a Value stored as a kind name plus its plain value.
func FromKind(kind string, raw interface{}) (Value, error) {
	if raw == nil {
		return NotAvailable(), nil
	}
	switch kind {
	case "not_available":
		return NotAvailable(), nil
	case "bool":
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("feature kind bool holds %T", raw)
		}
		return Bool(b), nil
	case "number", "count":
		var f float64
		switch n := raw.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		case int:
			f = float64(n)
		case json.Number:
			parsed, err := n.Float64()
			if err != nil {
				return Value{}, err
			}
			f = parsed
		default:
			return Value{}, fmt.Errorf("feature kind %s holds %T", kind, raw)
		}
		if kind == "count" {
			return Count(int64(f)), nil
		}
		return Number(f), nil
	}
	return Value{}, fmt.Errorf("unknown feature kind %q", kind)
}

// Mapping is the set of features derived for one patient.
type Mapping map[string]Value

// Merge copies every entry of other into m, overwriting duplicates.
func (m Mapping) Merge(other Mapping) {
	for k, v := range other {
		m[k] = v
	}
}

// Plain renders the mapping with nil for not-available entries.
func (m Mapping) Plain() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}
