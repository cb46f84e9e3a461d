// Package mumble implements the Mumble wire protocol basics: the
// length-prefixed control framing, the control message type codes, the
// version word, the session pool, and the permission bitmask.
//
// Control message bodies are protobuf-encoded; the typed structs and their
// codecs live in the control subpackage, voice payloads in the voice
// subpackage.
package mumble

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxMessageSize is the largest control frame body allowed on the wire.
	MaxMessageSize = 8*1024*1024 - 1

	PrefixTypeSize  = 2
	PrefixLenSize   = 4
	PrefixTotalSize = PrefixTypeSize + PrefixLenSize
)

// MessageType is the u16 code carried in a stream frame prefix.
type MessageType uint16

const (
	TypeVersion MessageType = iota
	TypeUDPTunnel
	TypeAuthenticate
	TypePing
	TypeReject
	TypeServerSync
	TypeChannelRemove
	TypeChannelState
	TypeUserRemove
	TypeUserState
	TypeBanList
	TypeTextMessage
	TypePermissionDenied
	TypeACL
	TypeQueryUsers
	TypeCryptSetup
	TypeContextActionModify
	TypeContextAction
	TypeUserList
	TypeVoiceTarget
	TypePermissionQuery
	TypeCodecVersion
	TypeUserStats
	TypeRequestBlob
	TypeServerConfig
	TypeSuggestConfig
)

// MessageTypeFromU16 maps a wire code to a message type.
// The second return is false for codes outside 0..25.
func MessageTypeFromU16(n uint16) (MessageType, bool) {
	if n > uint16(TypeSuggestConfig) {
		return 0, false
	}
	return MessageType(n), true
}

func (t MessageType) String() string {
	switch t {
	case TypeVersion:
		return "Version"
	case TypeUDPTunnel:
		return "UDPTunnel"
	case TypeAuthenticate:
		return "Authenticate"
	case TypePing:
		return "Ping"
	case TypeReject:
		return "Reject"
	case TypeServerSync:
		return "ServerSync"
	case TypeChannelRemove:
		return "ChannelRemove"
	case TypeChannelState:
		return "ChannelState"
	case TypeUserRemove:
		return "UserRemove"
	case TypeUserState:
		return "UserState"
	case TypeBanList:
		return "BanList"
	case TypeTextMessage:
		return "TextMessage"
	case TypePermissionDenied:
		return "PermissionDenied"
	case TypeACL:
		return "ACL"
	case TypeQueryUsers:
		return "QueryUsers"
	case TypeCryptSetup:
		return "CryptSetup"
	case TypeContextActionModify:
		return "ContextActionModify"
	case TypeContextAction:
		return "ContextAction"
	case TypeUserList:
		return "UserList"
	case TypeVoiceTarget:
		return "VoiceTarget"
	case TypePermissionQuery:
		return "PermissionQuery"
	case TypeCodecVersion:
		return "CodecVersion"
	case TypeUserStats:
		return "UserStats"
	case TypeRequestBlob:
		return "RequestBlob"
	case TypeServerConfig:
		return "ServerConfig"
	case TypeSuggestConfig:
		return "SuggestConfig"
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// Message is a control message with a fixed wire type code. Implementations
// live in the control subpackage.
type Message interface {
	MessageType() MessageType
	// AppendBody appends the protobuf-encoded body to b.
	AppendBody(b []byte) []byte
	// UnmarshalBody decodes the protobuf-encoded body.
	UnmarshalBody(data []byte) error
}

// WriteMessageHeader writes the 6-byte frame prefix for a body of the given
// length into buf and returns the total frame length (prefix + body).
func WriteMessageHeader(typ MessageType, length int, buf []byte) int {
	total := PrefixTotalSize + length
	if len(buf) < PrefixTotalSize {
		panic("mumble: header buffer too small")
	}
	binary.BigEndian.PutUint16(buf[0:PrefixTypeSize], uint16(typ))
	binary.BigEndian.PutUint32(buf[PrefixTypeSize:PrefixTotalSize], uint32(length))
	return total
}

// ParsePrefix decodes a 6-byte frame prefix. It fails only when buf is not
// exactly PrefixTotalSize bytes; unknown type codes are passed through for
// the caller to ignore.
func ParsePrefix(buf []byte) (MessageType, int, error) {
	if len(buf) != PrefixTotalSize {
		return 0, 0, fmt.Errorf("mumble: prefix must be %d bytes, got %d", PrefixTotalSize, len(buf))
	}
	typ := binary.BigEndian.Uint16(buf[0:PrefixTypeSize])
	length := binary.BigEndian.Uint32(buf[PrefixTypeSize:PrefixTotalSize])
	return MessageType(typ), int(length), nil
}

// EncodeMessage frames a control message: prefix followed by the encoded
// body. It returns the full frame.
func EncodeMessage(m Message) []byte {
	body := m.AppendBody(nil)
	buf := make([]byte, PrefixTotalSize, PrefixTotalSize+len(body))
	WriteMessageHeader(m.MessageType(), len(body), buf)
	return append(buf, body...)
}

// EncodeUDPTunnel frames a voice payload verbatim as a type-1 stream frame.
func EncodeUDPTunnel(data []byte) []byte {
	buf := make([]byte, PrefixTotalSize+len(data))
	WriteMessageHeader(TypeUDPTunnel, len(data), buf)
	copy(buf[PrefixTotalSize:], data)
	return buf
}

// MessageBuf is one framed control message as read off the stream: the type
// from the prefix plus the full frame bytes (prefix included).
type MessageBuf struct {
	Type MessageType
	Data []byte
}

// NewMessageBuf frames m and wraps the result.
func NewMessageBuf(m Message) MessageBuf {
	return MessageBuf{Type: m.MessageType(), Data: EncodeMessage(m)}
}

// Body returns the frame body without the 6-byte prefix.
func (m MessageBuf) Body() []byte {
	return m.Data[PrefixTotalSize:]
}
