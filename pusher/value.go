package pusher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a decoded event payload: null, bool, number, string, an ordered
// list, or an object whose keys keep their insertion order. The zero Value
// is null.
type Value struct {
	kind ValueKind
	b    bool
	num  json.Number
	s    string
	list []Value
	obj  *Object
}

// Object is an insertion-ordered string keyed map of Values.
type Object struct {
	keys   []string
	values map[string]Value
}

func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set stores v under key. Overwriting keeps the original key position.
func (o *Object) Set(key string, v Value) *Object {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
	return o
}

func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number holds n. NaN and infinities have no JSON form and fail to marshal.
func Number(n float64) Value {
	literal, err := json.Marshal(n)
	if err != nil {
		return Value{kind: KindNumber}
	}
	return Value{kind: KindNumber, num: json.Number(literal)}
}

func String(s string) Value { return Value{kind: KindString, s: s} }

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// EmptyObject is the payload handed to subscribe when no authorization is available.
func EmptyObject() Value { return ObjectValue(NewObject()) }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber converts the number to float64. Literals beyond the float64 range
// come back as ±Inf; NumberLiteral keeps them exact.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseFloat(string(v.num), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, true
}

// NumberLiteral returns the number as written on the wire.
func (v Value) NumberLiteral() (json.Number, bool) { return v.num, v.kind == KindNumber }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// Get returns the member at key when v is an object, and null otherwise.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	member, _ := v.obj.Get(key)
	return member
}

// Str returns the string variant, or "" for anything else.
func (v Value) Str() string {
	return v.s
}

// String renders v as compact JSON.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if v.num == "" {
			return errors.New("number has no JSON representation")
		}
		buf.WriteString(string(v.num))
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(data)
			buf.WriteByte(':')
			if err := v.obj.values[key].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a single JSON document, keeping object key order.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, num: t}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				member, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, member)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(obj), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
