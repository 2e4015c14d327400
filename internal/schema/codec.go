package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// wireProperty is the JSON form of a Property used by the persistent stores:
//
//	{"email":{"k":"string","c":"list","v":["a@x.com","b@x.com"]}}
//
// Integers are written as JSON numbers and decoded through json.Number so
// int64 keys survive the round trip without float rounding.
type wireProperty struct {
	Kind        string            `json:"k"`
	Cardinality string            `json:"c"`
	Values      []json.RawMessage `json:"v"`
}

// EncodeRecord serializes r for storage.
func EncodeRecord(r Record) ([]byte, error) {
	wire := make(map[string]wireProperty, len(r))
	for name, p := range r {
		wp := wireProperty{
			Kind:        p.Kind.String(),
			Cardinality: p.Cardinality.String(),
			Values:      make([]json.RawMessage, 0, len(p.Values)),
		}
		for _, v := range p.Values {
			b, err := json.Marshal(encodeValue(v))
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", name, err)
			}
			wp.Values = append(wp.Values, b)
		}
		wire[name] = wp
	}
	return json.Marshal(wire)
}

func encodeValue(v Value) any {
	switch v.kind {
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	default:
		return v.Any()
	}
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) == 0 {
		return Record{}, nil
	}
	var wire map[string]wireProperty
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	out := make(Record, len(wire))
	for name, wp := range wire {
		k, err := ParseKind(wp.Kind)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		c, err := ParseCardinality(wp.Cardinality)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		p := Property{Kind: k, Cardinality: c, Values: make([]Value, 0, len(wp.Values))}
		for _, raw := range wp.Values {
			v, err := decodeValue(k, raw)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			p.Values = append(p.Values, v)
		}
		out[name] = p
	}
	return out, nil
}

func decodeValue(k Kind, raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, err
	}
	switch k {
	case KindInteger:
		n, ok := x.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("want integer, got %T", x)
		}
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case KindFloat:
		n, ok := x.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("want float, got %T", x)
		}
		f, err := n.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindBoolean:
		b, ok := x.(bool)
		if !ok {
			return Value{}, fmt.Errorf("want boolean, got %T", x)
		}
		return Bool(b), nil
	case KindString:
		s, ok := x.(string)
		if !ok {
			return Value{}, fmt.Errorf("want string, got %T", x)
		}
		return String(s), nil
	case KindDate:
		s, ok := x.(string)
		if !ok {
			return Value{}, fmt.Errorf("want date string, got %T", x)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, err
		}
		return Date(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported kind %s", k)
	}
}

// EncodeType serializes a property declaration for stores that keep their
// schema next to the data.
func EncodeType(pt PropertyType) string {
	s := pt.Cardinality.String() + ":" + pt.Kind.String()
	if pt.Kind == KindDate && pt.Layout != "" {
		s += ":" + pt.Layout
	}
	return s
}

// DecodeType is the inverse of EncodeType.
func DecodeType(s string) (PropertyType, error) {
	var card, kind, layout string
	parts := bytes.SplitN([]byte(s), []byte(":"), 3)
	switch len(parts) {
	case 3:
		layout = string(parts[2])
		fallthrough
	case 2:
		card, kind = string(parts[0]), string(parts[1])
	default:
		return PropertyType{}, fmt.Errorf("malformed property type %q", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return PropertyType{}, err
	}
	c, err := ParseCardinality(card)
	if err != nil {
		return PropertyType{}, err
	}
	return PropertyType{Kind: k, Cardinality: c, Layout: layout}, nil
}
