// Package handshake holds the client- and server-side handshake state
// machines. Each state is its own type and every transition replaces the
// value, which keeps impossible states unrepresentable; a message that a
// state does not accept returns an error and leaves the caller's state
// untouched.
package handshake

import (
	"fmt"

	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
)

// ClientState is the client side of the handshake.
type ClientState interface {
	isClientState()
}

// ClientConnected: connected to the server and our Version has been sent.
type ClientConnected struct{}

// ClientServerVersion: the server's Version message has been received.
type ClientServerVersion struct {
	Version mumble.Version
}

// ClientSentAuthenticate: Authenticate has been sent to the server.
// The driver enters this state itself when it submits the credentials.
type ClientSentAuthenticate struct{}

// ClientStateSync: CryptSetup has been received but ServerSync has not;
// channel and user state is accumulating.
type ClientStateSync struct {
	Crypt    *control.CryptSetup
	Channels []*control.ChannelState
	Users    []*control.UserState
}

// ClientDone: ServerSync has been received; the handshake is complete.
type ClientDone struct {
	State ClientStateSync
	Sync  *control.ServerSync
}

func (ClientConnected) isClientState()        {}
func (ClientServerVersion) isClientState()    {}
func (ClientSentAuthenticate) isClientState() {}
func (ClientStateSync) isClientState()        {}
func (ClientDone) isClientState()             {}

// HandleClient advances the client handshake with one incoming message.
func HandleClient(s ClientState, m mumble.MessageBuf) (ClientState, error) {
	switch state := s.(type) {
	case ClientConnected:
		if m.Type == mumble.TypeVersion {
			var msg control.Version
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode Version: %w", err)
			}
			return ClientServerVersion{Version: mumble.VersionFromU64(msg.GetVersionV2())}, nil
		}

	case ClientSentAuthenticate:
		switch m.Type {
		case mumble.TypeVersion:
			// The server version may arrive after we already sent
			// Authenticate.
			return s, nil
		case mumble.TypeCryptSetup:
			msg := &control.CryptSetup{}
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode CryptSetup: %w", err)
			}
			return ClientStateSync{Crypt: msg}, nil
		}

	case ClientStateSync:
		switch m.Type {
		case mumble.TypeChannelState:
			msg := &control.ChannelState{}
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode ChannelState: %w", err)
			}
			state.Channels = append(state.Channels, msg)
			return state, nil
		case mumble.TypeUserState:
			msg := &control.UserState{}
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode UserState: %w", err)
			}
			state.Users = append(state.Users, msg)
			return state, nil
		case mumble.TypeServerSync:
			msg := &control.ServerSync{}
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode ServerSync: %w", err)
			}
			return ClientDone{State: state, Sync: msg}, nil
		}
	}
	return s, fmt.Errorf("client handshake: unexpected %s in state %T", m.Type, s)
}
