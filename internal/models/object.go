// Package models defines the core data structures used throughout the
// persistence engine: record data as exchanged with storage backends,
// class schemas and the sentinel errors shared by all layers.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Property types with special meaning. Any other type name is the name of
// a schema-known class and denotes an object reference.
const (
	TypeInteger      = "integer"
	TypeFloat        = "float"
	TypeBoolean      = "boolean"
	TypeString       = "string"
	TypeDateTime     = "DateTime"
	TypeArray        = "array"
	TypeReferenceSet = "ReferenceSet"
)

// IsSimpleType reports whether typ is one of the scalar types.
func IsSimpleType(typ string) bool {
	switch typ {
	case TypeInteger, TypeFloat, TypeBoolean, TypeString:
		return true
	}
	return false
}

// IsContainerType reports whether typ holds multiple values.
func IsContainerType(typ string) bool {
	return typ == TypeArray || typ == TypeReferenceSet
}

// IsReferenceType reports whether typ names a class rather than a built-in type.
func IsReferenceType(typ string) bool {
	return typ != "" && !IsSimpleType(typ) && !IsContainerType(typ) && typ != TypeDateTime
}

// RecordData is the canonical shape produced by storage backends and consumed
// by the data mapper. A RecordData nested as a property value is an object
// reference: it may carry only an identifier, a stub with empty properties
// (lazy), or a fully expanded record.
type RecordData struct {
	Identifier string                    `json:"identifier"`
	Classname  string                    `json:"classname,omitempty"`
	Properties map[string]*PropertyDatum `json:"properties,omitempty"`
	Metadata   map[string]any            `json:"metadata,omitempty"`
}

func (*RecordData) isValue() {}

// IsEmpty reports whether r carries no data at all.
func (r *RecordData) IsEmpty() bool {
	return r == nil || (r.Identifier == "" && r.Classname == "" && len(r.Properties) == 0)
}

// Reference returns an identifier-only copy of r.
func (r *RecordData) Reference() *RecordData {
	return &RecordData{Identifier: r.Identifier, Classname: r.Classname}
}

// Clone returns a deep copy of r.
func (r *RecordData) Clone() *RecordData {
	if r == nil {
		return nil
	}
	c := &RecordData{Identifier: r.Identifier, Classname: r.Classname}
	if r.Properties != nil {
		c.Properties = make(map[string]*PropertyDatum, len(r.Properties))
		for name, datum := range r.Properties {
			c.Properties[name] = datum.Clone()
		}
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// PropertyDatum is the stored form of one property.
type PropertyDatum struct {
	Type       string `json:"type"`
	Multivalue bool   `json:"multivalue"`
	Value      Value  `json:"value"`
}

// Clone returns a deep copy of d.
func (d *PropertyDatum) Clone() *PropertyDatum {
	if d == nil {
		return nil
	}
	return &PropertyDatum{Type: d.Type, Multivalue: d.Multivalue, Value: cloneValue(d.Value)}
}

// Value is the closed set of typed property values. A nil Value is null.
type Value interface {
	isValue()
}

// Scalar holds an integer, float, boolean or string. The held value may need
// coercion to the declared type, e.g. "42" for an integer property.
type Scalar struct {
	V any
}

func (Scalar) isValue() {}

// Timestamp is a DateTime value in seconds since the Unix epoch.
type Timestamp int64

func (Timestamp) isValue() {}

// Absent marks an object reference the backend expected but could not find.
type Absent struct{}

func (Absent) isValue() {}

// Elements are the members of an array or reference set.
type Elements []*Element

func (Elements) isValue() {}

// Element is one member of an array (Index set) or reference set (Index nil).
type Element struct {
	Index any    `json:"index"`
	Type  string `json:"type"`
	Value Value  `json:"value"`
}

func cloneValue(v Value) Value {
	switch tv := v.(type) {
	case *RecordData:
		return tv.Clone()
	case Elements:
		out := make(Elements, len(tv))
		for i, el := range tv {
			out[i] = &Element{Index: el.Index, Type: el.Type, Value: cloneValue(el.Value)}
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the datum in the wire shape.
func (d *PropertyDatum) MarshalJSON() ([]byte, error) {
	raw, err := marshalValue(d.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type       string          `json:"type"`
		Multivalue bool            `json:"multivalue"`
		Value      json.RawMessage `json:"value"`
	}{d.Type, d.Multivalue, raw})
}

// UnmarshalJSON decodes the wire shape, dispatching on type and multivalue.
func (d *PropertyDatum) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type       string          `json:"type"`
		Multivalue bool            `json:"multivalue"`
		Value      json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	v, err := unmarshalValue(wire.Type, wire.Multivalue, wire.Value)
	if err != nil {
		return fmt.Errorf("property of type %s: %w", wire.Type, err)
	}
	d.Type, d.Multivalue, d.Value = wire.Type, wire.Multivalue, v
	return nil
}

// MarshalJSON encodes the element in the wire shape.
func (e *Element) MarshalJSON() ([]byte, error) {
	raw, err := marshalValue(e.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Index any             `json:"index"`
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}{e.Index, e.Type, raw})
}

// UnmarshalJSON decodes an element, keeping integral indexes as int.
func (e *Element) UnmarshalJSON(data []byte) error {
	var wire struct {
		Index json.RawMessage `json:"index"`
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	index, err := unmarshalIndex(wire.Index)
	if err != nil {
		return err
	}
	v, err := unmarshalValue(wire.Type, IsContainerType(wire.Type), wire.Value)
	if err != nil {
		return fmt.Errorf("element of type %s: %w", wire.Type, err)
	}
	e.Index, e.Type, e.Value = index, wire.Type, v
	return nil
}

func marshalValue(v Value) (json.RawMessage, error) {
	switch tv := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case Absent:
		return json.RawMessage("false"), nil
	case Scalar:
		return json.Marshal(tv.V)
	case Timestamp:
		return json.Marshal(int64(tv))
	case *RecordData:
		return json.Marshal(tv)
	case Elements:
		return json.Marshal([]*Element(tv))
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func unmarshalValue(typ string, multivalue bool, raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if multivalue {
		var elements []*Element
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, err
		}
		return Elements(elements), nil
	}
	switch {
	case typ == TypeDateTime:
		var ts int64
		if err := json.Unmarshal(raw, &ts); err != nil {
			return nil, err
		}
		return Timestamp(ts), nil
	case IsSimpleType(typ):
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return Scalar{V: v}, nil
	default:
		if bytes.Equal(raw, []byte("false")) {
			return Absent{}, nil
		}
		var rec RecordData
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

func unmarshalIndex(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	return n.String(), nil
}
