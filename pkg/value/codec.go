package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// MarshalJSON encodes v in the wire form. Floats always carry a fraction or
// exponent so that decoding restores them as floats, not integers.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("value: cannot encode %v as JSON", v.f)
		}
		buf.WriteString(formatFloat(v.f))
	case KindString:
		encoded, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return v.m.appendJSON(buf)
	case KindNode:
		buf.WriteString(`{"identity":`)
		buf.WriteString(strconv.FormatInt(v.node.ID, 10))
		buf.WriteString(`,"labels":`)
		labels := v.node.Labels
		if labels == nil {
			labels = []string{}
		}
		encoded, err := json.Marshal(labels)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		buf.WriteString(`,"properties":`)
		if err := v.node.Properties.appendJSON(buf); err != nil {
			return err
		}
		buf.WriteByte('}')
	case KindRelationship:
		typ, err := json.Marshal(v.rel.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, `{"identity":%d,"type":%s,"start":%d,"end":%d,"properties":`,
			v.rel.ID, typ, v.rel.StartID, v.rel.EndID)
		if err := v.rel.Properties.appendJSON(buf); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown kind %d", v.kind)
	}
	return nil
}

func (m Map) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := m[k].appendJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// MarshalJSON encodes m with sorted keys.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON document into v. Integral numbers become
// integers; everything with a fraction or exponent becomes a float.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := decodeJSON(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// UnmarshalJSON decodes a JSON object into m.
func (m *Map) UnmarshalJSON(data []byte) error {
	decoded, err := decodeJSON(data)
	if err != nil {
		return err
	}
	switch decoded.kind {
	case KindNull:
		*m = Map{}
		return nil
	case KindMap:
		*m = decoded.m
		return nil
	}
	return fmt.Errorf("value: expected JSON object, got %s", decoded.kind)
}

func decodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), err
	}
	return FromAny(raw)
}

// ParseJSONMap decodes a structured-text property map as stored by the SQL
// backend. Empty input yields an empty map.
func ParseJSONMap(text string) (Map, error) {
	if text == "" {
		return Map{}, nil
	}
	var m Map
	if err := m.UnmarshalJSON([]byte(text)); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(v.Any())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
