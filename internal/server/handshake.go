package server

import (
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/handshake"
)

// HandshakeState tracks one session that has not yet authenticated.
type HandshakeState struct {
	State   handshake.ServerState
	Session mumble.Session
}

// NewHandshakeState starts the handshake for a fresh session. The server
// Version is pushed separately when the session is created.
func NewHandshakeState(session mumble.Session) *HandshakeState {
	return &HandshakeState{State: handshake.ServerSentVersion{}, Session: session}
}

// handleHandshake drives one handshake message. On an unexpected message
// the handshake stalls in its current state; eviction is the transport
// adapter's responsibility.
func handleHandshake(s *State, hs *HandshakeState, session mumble.Session, m mumble.MessageBuf, now time.Time) {
	next, err := handshake.HandleServer(hs.State, m)
	if err != nil {
		slog.Warn("handshake stalled", "session", session, "err", err)
		s.SessionHandshake[session] = hs
		return
	}

	auth, done := next.(handshake.ServerAuthenticate)
	if !done {
		hs.State = next
		s.SessionHandshake[session] = hs
		return
	}

	user := core.User{
		Name:    auth.Auth.Username,
		Session: session,
		Channel: core.RootChannel,
	}
	info := &SessionInfo{
		VoiceTransport: TCPTransport(),
		VoiceCrypter:   s.NewCrypter(),
		User:           user,
		Stats:          SessionStats{LastSeenTCP: now},
	}
	handleSessionConnected(s, info)
}

func handleSessionConnected(s *State, info *SessionInfo) {
	session := info.User.Session
	joined := core.UserJoinedServer{
		User:      session,
		Name:      info.User.Name,
		ChannelID: info.User.Channel,
	}
	msg := joined.ToMumble()

	syncServerStateToSession(s, info, msg)
	s.SessionInfo[session] = info
	s.PushMessage(msg, AllButOne(session))
}

// syncServerStateToSession sends the new session its crypt material, every
// channel, every connected user, its own state, and the final ServerSync.
// It assumes info has not been added to the state yet.
func syncServerStateToSession(s *State, info *SessionInfo, userState *control.UserState) {
	session := info.User.Session

	crypt := info.VoiceCrypter.CryptSetup()
	s.PushMessage(&control.CryptSetup{
		Key:         crypt.Key,
		ClientNonce: crypt.ClientNonce,
		ServerNonce: crypt.ServerNonce,
	}, Single(session))

	for _, channel := range s.channels {
		msg := &control.ChannelState{
			ChannelID:   proto.Uint32(uint32(channel.ID)),
			Name:        proto.String(channel.Name),
			Description: proto.String(channel.Description),
		}
		if channel.Position != 0 {
			msg.Position = proto.Int32(channel.Position)
		}
		if channel.ID != core.RootChannel {
			parent := core.RootChannel
			if channel.Parent != nil {
				parent = *channel.Parent
			}
			msg.Parent = proto.Uint32(uint32(parent))
		}
		s.PushMessage(msg, Single(session))
	}

	for _, other := range s.SessionInfo {
		s.PushMessage(&control.UserState{
			Name:      proto.String(other.User.Name),
			Session:   proto.Uint32(uint32(other.User.Session)),
			ChannelID: proto.Uint32(uint32(other.User.Channel)),
		}, Single(session))
	}
	s.PushMessage(userState, Single(session))

	s.PushMessage(&control.ServerSync{
		Session:      proto.Uint32(uint32(session)),
		WelcomeText:  proto.String(s.Config.WelcomeText),
		MaxBandwidth: proto.Uint32(s.Config.MaxBandwidth),
		Permissions:  proto.Uint64(uint64(mumble.DefaultPermissions())),
	}, Single(session))
}
