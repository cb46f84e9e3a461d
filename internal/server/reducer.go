package server

import (
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

// Message is one typed input to the reducer.
type Message interface {
	isServerMessage()
}

// Tick fires on the transport ticker cadence. The reducer treats it as a
// no-op; it must not mutate state.
type Tick struct{}

// SessionCreated registers a new session and sends it the server Version.
type SessionCreated struct {
	Session mumble.Session
}

// SessionDisconnect removes a session; if it was connected its departure is
// broadcast.
type SessionDisconnect struct {
	Session mumble.Session
}

// MumbleMessage is one control frame read from a session's stream.
type MumbleMessage struct {
	Session mumble.Session
	Buf     mumble.MessageBuf
}

// UDPMessage is one raw datagram.
type UDPMessage struct {
	From netip.AddrPort
	Data []byte
}

func (Tick) isServerMessage()              {}
func (SessionCreated) isServerMessage()    {}
func (SessionDisconnect) isServerMessage() {}
func (MumbleMessage) isServerMessage()     {}
func (UDPMessage) isServerMessage()        {}

// ServerVersion is the Version message this server announces.
func ServerVersion() *control.Version {
	v := mumble.NewVersion(1, 5, 0)
	return &control.Version{
		OS:        proto.String(runtime.GOOS),
		Release:   proto.String(v.String()),
		VersionV2: proto.Uint64(v.ToU64()),
	}
}

// HandleMessage is the reducer step: it consumes one typed input, mutates
// the state, and appends any produced messages to the outbox. It runs
// single-threaded and never blocks; it does not return errors — every
// input either produces outbox entries and state change, or is a no-op.
func HandleMessage(s *State, m Message, now time.Time) {
	switch m := m.(type) {
	case SessionCreated:
		handleSessionNew(s, m.Session)
	case SessionDisconnect:
		handleSessionDisconnect(s, m.Session)
	case MumbleMessage:
		handleMumbleMessage(s, m.Session, m.Buf, now)
	case UDPMessage:
		handleUDPMessage(s, m.From, m.Data, now)
	case Tick:
		handleTick(s, now)
	}
}

// handleSessionNew registers the handshake state and sends the server
// Version to the new session.
func handleSessionNew(s *State, session mumble.Session) {
	s.SessionHandshake[session] = NewHandshakeState(session)
	s.PushMessage(ServerVersion(), Single(session))
}

func handleSessionDisconnect(s *State, session mumble.Session) {
	_, connected := s.DeleteSession(session)
	if !connected {
		return
	}

	event := core.UserRemoved{User: session, Reason: core.ReasonLeft}
	s.PushMessage(event.ToMumble(), AllButOne(session))
}

func handleMumbleMessage(s *State, session mumble.Session, m mumble.MessageBuf, now time.Time) {
	if hs, ok := s.SessionHandshake[session]; ok {
		delete(s.SessionHandshake, session)
		handleHandshake(s, hs, session, m, now)
		return
	}

	info, ok := s.SessionInfo[session]
	if !ok {
		slog.Warn("message from unknown session", "session", session, "type", m.Type)
		return
	}
	info.Stats.LastSeenTCP = now

	event, err := core.MumbleToEvent(s, m, session)
	if err != nil {
		slog.Warn("dropping undecodable message", "session", session, "type", m.Type, "err", err)
		return
	}
	if event != nil {
		handleEvent(s, session, event)
		return
	}

	switch m.Type {
	case mumble.TypePing:
		var p control.Ping
		if err := p.UnmarshalBody(m.Body()); err != nil {
			slog.Warn("dropping undecodable Ping", "session", session, "err", err)
			return
		}
		s.PushMessage(&control.Ping{Good: p.Good}, Single(session))

	case mumble.TypePermissionQuery:
		var q control.PermissionQuery
		if err := q.UnmarshalBody(m.Body()); err != nil {
			slog.Warn("dropping undecodable PermissionQuery", "session", session, "err", err)
			return
		}
		s.PushMessage(&control.PermissionQuery{
			ChannelID:   q.ChannelID,
			Permissions: proto.Uint32(mumble.DefaultPermissions()),
		}, Single(session))

	case mumble.TypeCryptSetup:
		// TODO: crypt resync; accepted and ignored for now.

	case mumble.TypeUDPTunnel:
		// A tunneled ping carries no event; nothing to do.

	default:
		slog.Info("unhandled mumble message", "session", session, "type", m.Type)
	}
}

func handleEvent(s *State, session mumble.Session, e core.Event) {
	switch e := e.(type) {
	case core.UserSentAudio:
		handleVoiceMessage(s, session, e.VoiceMessage)

	case core.UserSwitchedChannel:
		info, ok := s.SessionInfo[e.User]
		if !ok {
			return
		}
		if !s.HasChannel(e.ToChannel) {
			slog.Warn("channel switch to unknown channel", "session", e.User, "channel", e.ToChannel)
			return
		}
		if info.User.Channel == e.FromChannel {
			info.User.Channel = e.ToChannel
			s.PushMessage(e.ToMumble(), All())
		}

	case core.UserSentMessage:
		s.PushMessage(e.ToMumble(), AllButOne(session))

	default:
		slog.Info("unhandled event from client", "session", session)
	}
}

// handleVoiceMessage fans an audio frame out to everyone but the speaker.
// The transport adapter picks tunnel or datagram per recipient.
func handleVoiceMessage(s *State, session mumble.Session, m core.VoiceMessage) {
	s.PushVoiceMessage(m.ToAudio(), AllButOne(session))
}

// findMatchingCrypt looks for a session still on TCP voice whose crypter
// both decrypts and decodes the datagram. First match wins; two sessions
// sharing initial crypto state could in principle bind the wrong one, which
// the protocol accepts.
func findMatchingCrypt(s *State, data []byte) (mumble.Session, voice.Packet, bool) {
	for session, info := range s.SessionInfo {
		if info.VoiceTransport.Kind != VoiceOverTCP {
			continue
		}

		buf := make([]byte, len(data))
		copy(buf, data)
		body, err := info.VoiceCrypter.Decrypt(buf)
		if err != nil {
			continue
		}
		pkt, err := voice.Decode(body)
		if err != nil {
			continue
		}
		return session, pkt, true
	}
	return 0, nil, false
}

// dispatchVoice routes one decrypted voice packet from a bound session.
func dispatchVoice(s *State, session mumble.Session, pkt voice.Packet) {
	switch pkt := pkt.(type) {
	case *voice.Audio:
		if pkt.SenderSession == 0 {
			pkt.SenderSession = uint32(session)
		}
		vm, err := core.VoiceToEvent(pkt)
		if err != nil {
			slog.Warn("dropping audio packet", "session", session, "err", err)
			return
		}
		handleVoiceMessage(s, session, vm)

	case *voice.Ping:
		s.PushVoiceMessage(&voice.Ping{Timestamp: pkt.Timestamp}, Single(session))
	}
}

// handleUDPMessage applies the datagram rules in order: a known address, a
// crypter match that binds the session to UDP, an unencrypted ping, or a
// drop.
func handleUDPMessage(s *State, from netip.AddrPort, data []byte, now time.Time) {
	if session, ok := s.AddrToSession[from]; ok {
		info := s.SessionInfo[session]

		buf := make([]byte, len(data))
		copy(buf, data)
		body, err := info.VoiceCrypter.Decrypt(buf)
		if err != nil {
			slog.Debug("datagram decrypt failed", "session", session, "err", err)
			return
		}
		pkt, err := voice.Decode(body)
		if err != nil {
			slog.Warn("dropping undecodable voice packet", "session", session, "err", err)
			return
		}
		info.Stats.LastSeenUDP = now
		dispatchVoice(s, session, pkt)
		return
	}

	if session, pkt, ok := findMatchingCrypt(s, data); ok {
		info := s.SessionInfo[session]
		info.VoiceTransport = UDPTransport(from)
		info.Stats.LastSeenUDP = now
		s.AddrToSession[from] = session
		slog.Debug("bound session voice to udp", "session", session, "addr", from)
		dispatchVoice(s, session, pkt)
		return
	}

	if pkt, err := voice.Decode(data); err == nil {
		switch pkt := pkt.(type) {
		case *voice.Audio:
			slog.Error("audio packets must be encrypted", "addr", from)
		case *voice.Ping:
			s.PushDatagramMessage(&voice.Ping{Timestamp: pkt.Timestamp}, from)
		}
		return
	}

	// Encrypted for a nonexistent session, the legacy packet format, or
	// garbage; drop either way.
	slog.Debug("dropping unrecognised datagram", "addr", from, "len", len(data))
}

func handleTick(s *State, now time.Time) {
	// TODO: reap sessions with no ping in 30 seconds.
}
