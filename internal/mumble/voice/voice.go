// Package voice defines the voice payloads carried in UDP datagrams (after
// decryption) and in UDPTunnel stream frames. A payload is a 1-byte
// discriminator followed by a protobuf body.
package voice

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxUDPPacketSize is the largest voice datagram the protocol allows.
const MaxUDPPacketSize = 1024

// PacketType is the 1-byte payload discriminator.
type PacketType byte

const (
	TypeAudio PacketType = 0
	TypePing  PacketType = 1
)

// Packet is a voice payload variant: either *Audio or *Ping.
type Packet interface {
	PacketType() PacketType
	appendBody(b []byte) []byte
	unmarshalBody(data []byte) error
}

// Encode serialises a voice payload: discriminator byte plus body.
func Encode(p Packet) []byte {
	return p.appendBody([]byte{byte(p.PacketType())})
}

// Decode parses a voice payload.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("voice: empty payload")
	}
	var p Packet
	switch PacketType(data[0]) {
	case TypeAudio:
		p = &Audio{}
	case TypePing:
		p = &Ping{}
	default:
		return nil, fmt.Errorf("voice: invalid packet type %d", data[0])
	}
	if err := p.unmarshalBody(data[1:]); err != nil {
		return nil, err
	}
	return p, nil
}

// Audio is one opus frame in flight. Target and Context are a oneof header;
// at most one is set.
type Audio struct {
	Target           *uint32
	Context          *uint32
	SenderSession    uint32
	FrameNumber      uint64
	OpusData         []byte
	VolumeAdjustment float32
	IsTerminator     bool
}

func (*Audio) PacketType() PacketType { return TypeAudio }

func (m *Audio) appendBody(b []byte) []byte {
	if m.Target != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Target))
	}
	if m.Context != nil {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Context))
	}
	if m.SenderSession != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SenderSession))
	}
	if m.FrameNumber != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, m.FrameNumber)
	}
	if len(m.OpusData) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.OpusData)
	}
	if m.VolumeAdjustment != 0 {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.VolumeAdjustment))
	}
	if m.IsTerminator {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (m *Audio) unmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := varint(num, typ, b)
			if err != nil {
				return 0, err
			}
			u := uint32(v)
			m.Target, m.Context = &u, nil
			return n, nil
		case 2:
			v, n, err := varint(num, typ, b)
			if err != nil {
				return 0, err
			}
			u := uint32(v)
			m.Context, m.Target = &u, nil
			return n, nil
		case 3:
			v, n, err := varint(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.SenderSession = uint32(v)
			return n, nil
		case 4:
			v, n, err := varint(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.FrameNumber = v
			return n, nil
		case 5:
			if typ != protowire.BytesType {
				return 0, errWireType(num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.OpusData = append([]byte(nil), v...)
			return n, nil
		case 7:
			if typ != protowire.Fixed32Type {
				return 0, errWireType(num, typ)
			}
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.VolumeAdjustment = math.Float32frombits(v)
			return n, nil
		case 8:
			v, n, err := varint(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.IsTerminator = v != 0
			return n, nil
		}
		return 0, nil
	})
}

// Ping probes the voice path. Unencrypted pings are echoed before a session
// exists, which lets clients probe NAT reachability.
type Ping struct {
	Timestamp                  uint64
	RequestExtendedInformation bool
	ServerVersionV2            uint64
	UserCount                  uint32
	MaxUserCount               uint32
	MaxBandwidthPerUser        uint32
}

func (*Ping) PacketType() PacketType { return TypePing }

func (m *Ping) appendBody(b []byte) []byte {
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Timestamp)
	}
	if m.RequestExtendedInformation {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.ServerVersionV2 != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ServerVersionV2)
	}
	if m.UserCount != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.UserCount))
	}
	if m.MaxUserCount != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.MaxUserCount))
	}
	if m.MaxBandwidthPerUser != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.MaxBandwidthPerUser))
	}
	return b
}

func (m *Ping) unmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 6 {
			return 0, nil
		}
		v, n, err := varint(num, typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case 1:
			m.Timestamp = v
		case 2:
			m.RequestExtendedInformation = v != 0
		case 3:
			m.ServerVersionV2 = v
		case 4:
			m.UserCount = uint32(v)
		case 5:
			m.MaxUserCount = uint32(v)
		case 6:
			m.MaxBandwidthPerUser = uint32(v)
		}
		return n, nil
	})
}

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
	return fmt.Errorf("voice: unexpected wire type %d for field %d", typ, num)
}

func varint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
