package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind tags the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
)

// Value is a profile or configuration scalar: a number, a string, or absent.
// The zero Value is absent.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Null returns the absent Value.
func Null() Value { return Value{} }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Float returns the numeric value and whether v is numeric.
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Equal is strict equality: numbers equal numbers, strings equal strings.
// Absent never equals anything, including another absent value.
func (v Value) Equal(o Value) bool {
	switch {
	case v.Kind == KindNumber && o.Kind == KindNumber:
		return v.Num == o.Num
	case v.Kind == KindString && o.Kind == KindString:
		return v.Str == o.Str
	}
	return false
}

// Interface converts the value to a plain Go value (nil, float64 or string).
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	}
	return nil
}

// FromInterface converts a decoded JSON/YAML scalar into a Value.
// Unsupported types become absent.
func FromInterface(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case string:
		return String(t)
	case bool:
		return String(strconv.FormatBool(t))
	}
	return Null()
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	}
	return "null"
}

// MarshalJSON encodes the value as a JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts a JSON number, string, bool or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	switch x.(type) {
	case map[string]interface{}, []interface{}:
		return fmt.Errorf("value must be a scalar, got %s", string(data))
	}
	*v = FromInterface(x)
	return nil
}

// UnmarshalYAML accepts a YAML scalar.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: value must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!null":
		*v = Null()
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = Number(f)
	default:
		*v = String(node.Value)
	}
	return nil
}
