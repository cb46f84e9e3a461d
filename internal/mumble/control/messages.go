package control

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zhamlin/speakez/internal/mumble"
)

// Version announces protocol and software versions. Sent by both sides as
// the first message on a connection.
type Version struct {
	Version   *uint32 // legacy v1 format
	Release   *string
	OS        *string
	OSVersion *string
	VersionV2 *uint64
}

func (*Version) MessageType() mumble.MessageType { return mumble.TypeVersion }

func (m *Version) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Version)
	b = appendStringOpt(b, 2, m.Release)
	b = appendStringOpt(b, 3, m.OS)
	b = appendStringOpt(b, 4, m.OSVersion)
	b = appendUint64Opt(b, 5, m.VersionV2)
	return b
}

func (m *Version) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Version, num, typ, b)
		case 2:
			return setStringOpt(&m.Release, num, typ, b)
		case 3:
			return setStringOpt(&m.OS, num, typ, b)
		case 4:
			return setStringOpt(&m.OSVersion, num, typ, b)
		case 5:
			return setUint64Opt(&m.VersionV2, num, typ, b)
		}
		return 0, nil
	})
}

// GetVersionV2 returns the v2 version word, or 0 when absent.
func (m *Version) GetVersionV2() uint64 {
	if m.VersionV2 == nil {
		return 0
	}
	return *m.VersionV2
}

// UDPTunnel carries a voice payload verbatim over the stream transport.
// Its body is not protobuf: the packet bytes pass through untouched.
type UDPTunnel struct {
	Packet []byte
}

func (*UDPTunnel) MessageType() mumble.MessageType { return mumble.TypeUDPTunnel }

func (m *UDPTunnel) AppendBody(b []byte) []byte { return append(b, m.Packet...) }

func (m *UDPTunnel) UnmarshalBody(data []byte) error {
	m.Packet = append([]byte(nil), data...)
	return nil
}

// Authenticate carries the client's credentials.
type Authenticate struct {
	Username     *string
	Password     *string
	Tokens       []string
	CeltVersions []int32
	Opus         *bool
}

func (*Authenticate) MessageType() mumble.MessageType { return mumble.TypeAuthenticate }

func (m *Authenticate) AppendBody(b []byte) []byte {
	b = appendStringOpt(b, 1, m.Username)
	b = appendStringOpt(b, 2, m.Password)
	b = appendStringList(b, 3, m.Tokens)
	for _, v := range m.CeltVersions {
		b = appendInt32Field(b, 4, v)
	}
	b = appendBoolOpt(b, 5, m.Opus)
	return b
}

func (m *Authenticate) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setStringOpt(&m.Username, num, typ, b)
		case 2:
			return setStringOpt(&m.Password, num, typ, b)
		case 3:
			return addStringList(&m.Tokens, num, typ, b)
		case 4:
			var v int32
			n, err := setInt32(&v, num, typ, b)
			if err == nil {
				m.CeltVersions = append(m.CeltVersions, v)
			}
			return n, err
		case 5:
			return setBoolOpt(&m.Opus, num, typ, b)
		}
		return 0, nil
	})
}

func (m *Authenticate) GetUsername() string {
	if m.Username == nil {
		return ""
	}
	return *m.Username
}

func (m *Authenticate) GetPassword() string {
	if m.Password == nil {
		return ""
	}
	return *m.Password
}

// Ping keeps the control channel alive and reports crypt statistics.
type Ping struct {
	Timestamp  *uint64
	Good       *uint32
	Late       *uint32
	Lost       *uint32
	Resync     *uint32
	UDPPackets *uint32
	TCPPackets *uint32
	UDPPingAvg *float32
	UDPPingVar *float32
	TCPPingAvg *float32
	TCPPingVar *float32
}

func (*Ping) MessageType() mumble.MessageType { return mumble.TypePing }

func (m *Ping) AppendBody(b []byte) []byte {
	b = appendUint64Opt(b, 1, m.Timestamp)
	b = appendUint32Opt(b, 2, m.Good)
	b = appendUint32Opt(b, 3, m.Late)
	b = appendUint32Opt(b, 4, m.Lost)
	b = appendUint32Opt(b, 5, m.Resync)
	b = appendUint32Opt(b, 6, m.UDPPackets)
	b = appendUint32Opt(b, 7, m.TCPPackets)
	b = appendFloatOpt(b, 8, m.UDPPingAvg)
	b = appendFloatOpt(b, 9, m.UDPPingVar)
	b = appendFloatOpt(b, 10, m.TCPPingAvg)
	b = appendFloatOpt(b, 11, m.TCPPingVar)
	return b
}

func (m *Ping) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint64Opt(&m.Timestamp, num, typ, b)
		case 2:
			return setUint32Opt(&m.Good, num, typ, b)
		case 3:
			return setUint32Opt(&m.Late, num, typ, b)
		case 4:
			return setUint32Opt(&m.Lost, num, typ, b)
		case 5:
			return setUint32Opt(&m.Resync, num, typ, b)
		case 6:
			return setUint32Opt(&m.UDPPackets, num, typ, b)
		case 7:
			return setUint32Opt(&m.TCPPackets, num, typ, b)
		case 8:
			return setFloatOpt(&m.UDPPingAvg, num, typ, b)
		case 9:
			return setFloatOpt(&m.UDPPingVar, num, typ, b)
		case 10:
			return setFloatOpt(&m.TCPPingAvg, num, typ, b)
		case 11:
			return setFloatOpt(&m.TCPPingVar, num, typ, b)
		}
		return 0, nil
	})
}

// Reject reason codes.
const (
	RejectNone uint32 = iota
	RejectWrongVersion
	RejectInvalidUsername
	RejectWrongUserPW
	RejectWrongServerPW
	RejectUsernameInUse
	RejectServerFull
	RejectNoCertificate
	RejectAuthenticatorFail
	RejectNoNewConnections
)

// Reject tells a connecting client why its handshake was refused.
type Reject struct {
	Type   *uint32
	Reason *string
}

func (*Reject) MessageType() mumble.MessageType { return mumble.TypeReject }

func (m *Reject) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Type)
	b = appendStringOpt(b, 2, m.Reason)
	return b
}

func (m *Reject) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Type, num, typ, b)
		case 2:
			return setStringOpt(&m.Reason, num, typ, b)
		}
		return 0, nil
	})
}

// ServerSync finishes the handshake: it tells the client its session ID and
// the server's limits.
type ServerSync struct {
	Session      *uint32
	MaxBandwidth *uint32
	WelcomeText  *string
	Permissions  *uint64
}

func (*ServerSync) MessageType() mumble.MessageType { return mumble.TypeServerSync }

func (m *ServerSync) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Session)
	b = appendUint32Opt(b, 2, m.MaxBandwidth)
	b = appendStringOpt(b, 3, m.WelcomeText)
	b = appendUint64Opt(b, 4, m.Permissions)
	return b
}

func (m *ServerSync) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Session, num, typ, b)
		case 2:
			return setUint32Opt(&m.MaxBandwidth, num, typ, b)
		case 3:
			return setStringOpt(&m.WelcomeText, num, typ, b)
		case 4:
			return setUint64Opt(&m.Permissions, num, typ, b)
		}
		return 0, nil
	})
}

func (m *ServerSync) GetSession() uint32 {
	if m.Session == nil {
		return 0
	}
	return *m.Session
}

// CryptSetup carries the OCB2 key material for the voice channel. The
// nonces are the 16 little-endian bytes of the 128-bit counters.
type CryptSetup struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

func (*CryptSetup) MessageType() mumble.MessageType { return mumble.TypeCryptSetup }

func (m *CryptSetup) AppendBody(b []byte) []byte {
	b = appendBytesOpt(b, 1, m.Key)
	b = appendBytesOpt(b, 2, m.ClientNonce)
	b = appendBytesOpt(b, 3, m.ServerNonce)
	return b
}

func (m *CryptSetup) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setBytes(&m.Key, num, typ, b)
		case 2:
			return setBytes(&m.ClientNonce, num, typ, b)
		case 3:
			return setBytes(&m.ServerNonce, num, typ, b)
		}
		return 0, nil
	})
}
