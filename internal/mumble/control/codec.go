// Package control defines the typed control messages carried in stream
// frames and their protobuf codecs. Field numbers follow the published
// Mumble protocol schema; optional fields are pointers, required fields are
// plain values.
package control

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// walkFields iterates the protobuf fields of a message body. fn is called
// with the field number, wire type, and the remaining bytes; it returns how
// many bytes it consumed. Returning 0 means the field is not recognised and
// it is skipped whole.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		used, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, data)
			if used < 0 {
				return protowire.ParseError(used)
			}
		}
		data = data[used:]
	}
	return nil
}

func errWireType(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("control: unexpected wire type %d for field %d", typ, num)
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func setUint32(dst *uint32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = uint32(v)
	return n, nil
}

func setUint32Opt(dst **uint32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	u := uint32(v)
	*dst = &u
	return n, nil
}

func setUint64Opt(dst **uint64, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = &v
	return n, nil
}

func setInt32(dst *int32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = int32(v)
	return n, nil
}

func setInt32Opt(dst **int32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	i := int32(v)
	*dst = &i
	return n, nil
}

func setBool(dst *bool, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = v != 0
	return n, nil
}

func setBoolOpt(dst **bool, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	t := v != 0
	*dst = &t
	return n, nil
}

func setString(dst *string, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func setStringOpt(dst **string, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	s := string(v)
	*dst = &s
	return n, nil
}

func setBytes(dst *[]byte, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	*dst = cp
	return n, nil
}

func setFloatOpt(dst **float32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.Fixed32Type {
		return 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	f := math.Float32frombits(v)
	*dst = &f
	return n, nil
}

// addUint32List accepts both packed and unpacked encodings of a repeated
// varint field.
func addUint32List(dst *[]uint32, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*dst = append(*dst, uint32(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			*dst = append(*dst, uint32(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, errWireType(num, typ)
}

func addStringList(dst *[]string, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = append(*dst, string(v))
	return n, nil
}

// unmarshaler is any nested message that can decode its own body.
type unmarshaler interface {
	UnmarshalBody(data []byte) error
}

func setMessage(dst unmarshaler, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	if err := dst.UnmarshalBody(v); err != nil {
		return 0, err
	}
	return n, nil
}

// Append helpers. Optional fields emit nothing when nil; plain fields are
// always emitted.

func appendUint32Field(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendUint32Opt(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	return appendUint32Field(b, num, *v)
}

func appendUint64Opt(b []byte, num protowire.Number, v *uint64) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, *v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(uint32(v)))
}

func appendInt32Opt(b []byte, num protowire.Number, v *int32) []byte {
	if v == nil {
		return b
	}
	return appendInt32Field(b, num, *v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendBoolOpt(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	return appendBoolField(b, num, *v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendStringOpt(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	return appendStringField(b, num, *v)
}

func appendBytesOpt(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendFloatOpt(b []byte, num protowire.Number, v *float32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(*v))
}

func appendUint32List(b []byte, num protowire.Number, vs []uint32) []byte {
	for _, v := range vs {
		b = appendUint32Field(b, num, v)
	}
	return b
}

func appendStringList(b []byte, num protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = appendStringField(b, num, v)
	}
	return b
}

// appender is any nested message that can append its own body.
type appender interface {
	AppendBody(b []byte) []byte
}

func appendMessageField(b []byte, num protowire.Number, m appender) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.AppendBody(nil))
}
