// Package server implements the server core: a single-threaded state
// reducer that owns all sessions, channels, and per-session crypto
// contexts, and produces an outbox of routed messages. Transport adapters
// feed it typed inputs and drain the outbox; no other code mutates State.
package server

import (
	"net/netip"
	"time"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

// VoiceTransportKind says how voice reaches a session.
type VoiceTransportKind int

const (
	// VoiceOverTCP tunnels voice in UDPTunnel stream frames.
	VoiceOverTCP VoiceTransportKind = iota
	// VoiceOverUDP sends encrypted datagrams to the bound address.
	VoiceOverUDP
)

// VoiceTransport is a session's current voice path. Addr is only set for
// VoiceOverUDP.
type VoiceTransport struct {
	Kind VoiceTransportKind
	Addr netip.AddrPort
}

// TCPTransport is the initial voice transport of every session.
func TCPTransport() VoiceTransport {
	return VoiceTransport{Kind: VoiceOverTCP}
}

// UDPTransport binds voice to a datagram address.
func UDPTransport(addr netip.AddrPort) VoiceTransport {
	return VoiceTransport{Kind: VoiceOverUDP, Addr: addr}
}

// SessionStats tracks when the session was last heard from on each path.
type SessionStats struct {
	LastSeenTCP time.Time
	LastSeenUDP time.Time // zero until the first datagram
}

// CryptMaterial is the OCB2 key material advertised in CryptSetup. The
// nonces are the little-endian bytes of the 128-bit counters.
type CryptMaterial struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

// VoiceCrypter encrypts and decrypts voice datagrams for one session. The
// reducer owns it exclusively; transport workers never touch it.
type VoiceCrypter interface {
	// Encrypt encrypts buf[4:] in place and writes the 4-byte header into
	// buf[:4].
	Encrypt(buf []byte)
	// Decrypt decrypts buf in place and returns the body without the
	// 4-byte header.
	Decrypt(buf []byte) ([]byte, error)
	CryptSetup() CryptMaterial
}

// NewVoiceCrypter constructs a fresh crypter for a new session.
type NewVoiceCrypter func() VoiceCrypter

// SessionInfo is the server's record of one connected (post-handshake)
// session.
type SessionInfo struct {
	VoiceTransport VoiceTransport
	VoiceCrypter   VoiceCrypter
	User           core.User
	Stats          SessionStats
}

// Config holds the limits advertised to clients.
type Config struct {
	MaxBandwidth uint32
	MaxUsers     int
	WelcomeText  string
}

// OutboxKind distinguishes framed control bytes from bare voice payloads.
type OutboxKind int

const (
	// OutboxControl data is a complete stream frame (prefix included).
	OutboxControl OutboxKind = iota
	// OutboxVoice data is a bare voice payload; the transport adapter
	// wraps or encrypts it per recipient.
	OutboxVoice
)

// DestinationKind enumerates the session-routing variants.
type DestinationKind int

const (
	DestAll DestinationKind = iota
	DestAllButOne
	DestSingle
	DestGroup
)

// Destination routes an outbox entry to a set of sessions.
type Destination struct {
	Kind    DestinationKind
	Target  mumble.Session   // Single / AllButOne
	Members []mumble.Session // Group
}

func All() Destination                       { return Destination{Kind: DestAll} }
func AllButOne(s mumble.Session) Destination { return Destination{Kind: DestAllButOne, Target: s} }
func Single(s mumble.Session) Destination    { return Destination{Kind: DestSingle, Target: s} }
func Group(ss []mumble.Session) Destination  { return Destination{Kind: DestGroup, Members: ss} }

// Contains reports whether the destination includes the given session.
func (d Destination) Contains(s mumble.Session) bool {
	switch d.Kind {
	case DestAll:
		return true
	case DestAllButOne:
		return s != d.Target
	case DestSingle:
		return s == d.Target
	case DestGroup:
		for _, m := range d.Members {
			if m == s {
				return true
			}
		}
	}
	return false
}

// OutboxDestination is either a session route or a raw datagram address.
// Keeping the two as distinct arms stops the transport adapter from
// confusing encrypted and cleartext sends.
type OutboxDestination interface {
	isOutboxDestination()
}

// SessionDestination routes to sessions; voice entries are encrypted or
// tunnelled per recipient.
type SessionDestination struct {
	Destination
}

// DatagramDestination sends the bytes unencrypted to an address.
type DatagramDestination struct {
	Addr netip.AddrPort
}

func (SessionDestination) isOutboxDestination()  {}
func (DatagramDestination) isOutboxDestination() {}

// OutboxMessage is one routed message produced by the reducer.
type OutboxMessage struct {
	Kind OutboxKind
	Data []byte
	Dest OutboxDestination
}

// State owns every session, channel, and crypto context on the server. All
// mutation happens inside the reducer; see HandleMessage.
type State struct {
	Config   Config
	sessions *mumble.Sessions
	channels []core.Channel

	// A session is in exactly one of SessionHandshake or SessionInfo,
	// never both; after deletion, in neither.
	SessionHandshake map[mumble.Session]*HandshakeState
	SessionInfo      map[mumble.Session]*SessionInfo
	AddrToSession    map[netip.AddrPort]mumble.Session

	Outbox []OutboxMessage

	NewCrypter NewVoiceCrypter
}

// NewState builds an empty server state with capacity for maxUsers
// sessions.
func NewState(maxUsers int, newCrypter NewVoiceCrypter) *State {
	return &State{
		Config: Config{
			MaxBandwidth: 480000,
			MaxUsers:     maxUsers,
			WelcomeText:  "Hello Test user",
		},
		sessions:         mumble.NewSessions(maxUsers),
		SessionHandshake: make(map[mumble.Session]*HandshakeState, maxUsers),
		SessionInfo:      make(map[mumble.Session]*SessionInfo, maxUsers),
		AddrToSession:    make(map[netip.AddrPort]mumble.Session, maxUsers),
		Outbox:           make([]OutboxMessage, 0, maxUsers),
		NewCrypter:       newCrypter,
	}
}

// NewSession allocates a session ID, or false when the server is full.
func (s *State) NewSession() (mumble.Session, bool) {
	return s.sessions.Get()
}

// NewChannel registers a channel. Channels are created at startup;
// persistence is out of scope.
func (s *State) NewChannel(c core.Channel) {
	s.channels = append(s.channels, c)
}

// Channels returns the channel list.
func (s *State) Channels() []core.Channel { return s.channels }

// HasChannel reports whether a channel ID exists.
func (s *State) HasChannel(id core.ChannelID) bool {
	for _, c := range s.channels {
		if c.ID == id {
			return true
		}
	}
	return false
}

// GetUser implements core.UserView over the connected sessions.
func (s *State) GetUser(session mumble.Session) (core.User, bool) {
	info, ok := s.SessionInfo[session]
	if !ok {
		return core.User{}, false
	}
	return info.User, true
}

// PushMessage frames a control message and appends it to the outbox.
func (s *State) PushMessage(m mumble.Message, dest Destination) {
	s.Outbox = append(s.Outbox, OutboxMessage{
		Kind: OutboxControl,
		Data: mumble.EncodeMessage(m),
		Dest: SessionDestination{dest},
	})
}

// PushVoiceMessage appends a bare voice payload routed to sessions.
func (s *State) PushVoiceMessage(m voice.Packet, dest Destination) {
	s.Outbox = append(s.Outbox, OutboxMessage{
		Kind: OutboxVoice,
		Data: voice.Encode(m),
		Dest: SessionDestination{dest},
	})
}

// PushDatagramMessage appends a bare voice payload sent unencrypted to an
// address.
func (s *State) PushDatagramMessage(m voice.Packet, addr netip.AddrPort) {
	s.Outbox = append(s.Outbox, OutboxMessage{
		Kind: OutboxVoice,
		Data: voice.Encode(m),
		Dest: DatagramDestination{Addr: addr},
	})
}

// DeleteSession returns the ID to the pool and removes every trace of the
// session. It returns the removed info, if the session had completed its
// handshake.
func (s *State) DeleteSession(session mumble.Session) (*SessionInfo, bool) {
	_, inHandshake := s.SessionHandshake[session]
	info, connected := s.SessionInfo[session]
	if !inHandshake && !connected {
		return nil, false
	}

	s.sessions.Return(session)
	delete(s.SessionHandshake, session)
	delete(s.SessionInfo, session)

	if connected && info.VoiceTransport.Kind == VoiceOverUDP {
		delete(s.AddrToSession, info.VoiceTransport.Addr)
	}
	return info, connected
}
