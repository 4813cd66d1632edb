package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind discriminates the primitive types an attribute value may hold.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a closed sum over string, number and bool. The zero Value is
// invalid and is never stored.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Valid() bool {
	switch v.kind {
	case KindString, KindBool:
		return true
	case KindNumber:
		return !math.IsNaN(v.num) && !math.IsInf(v.num, 0)
	}
	return false
}

// Str, Num and Bool return the payload and whether v holds that kind.
func (v Value) Str() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) Bool() (bool, bool)   { return v.b, v.kind == KindBool }

// Interface unwraps v into string, float64 or bool.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	}
	return nil
}

// Canonical is the string form used for exact-match attribute filtering.
func (v Value) Canonical() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v Value) String() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	return v.Canonical()
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("marshal invalid attribute value")
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a single JSON primitive. null, arrays and objects are
// rejected.
func ParseValue(raw json.RawMessage) (Value, error) {
	var x interface{}
	if err := json.Unmarshal(raw, &x); err != nil {
		return Value{}, fmt.Errorf("invalid attribute value: %w", err)
	}
	switch t := x.(type) {
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return Value{}, fmt.Errorf("attribute value must not be null")
	default:
		return Value{}, fmt.Errorf("attribute value must be a string, number or bool, got %s", decodedJSONKind(t))
	}
}

func decodedJSONKind(x interface{}) string {
	switch x.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	return fmt.Sprintf("%T", x)
}

// Attributes is the validated metadata bag of an event.
type Attributes map[string]Value
