package handshake

import (
	"fmt"

	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
)

// Authentication is the credential set a client presented.
type Authentication struct {
	Username string
	Password string
}

// ServerState is the server side of the handshake for one session.
type ServerState interface {
	isServerState()
}

// ServerSentVersion: the session exists and our Version has been sent.
type ServerSentVersion struct{}

// ServerClientVersion: the client's Version message has been received.
type ServerClientVersion struct {
	Version mumble.Version
}

// ServerAuthenticate: the client has authenticated. Terminal; the server's
// session-connected path takes over.
type ServerAuthenticate struct {
	Auth Authentication
}

func (ServerSentVersion) isServerState()   {}
func (ServerClientVersion) isServerState() {}
func (ServerAuthenticate) isServerState()  {}

// HandleServer advances the server handshake with one incoming message.
func HandleServer(s ServerState, m mumble.MessageBuf) (ServerState, error) {
	switch s.(type) {
	case ServerSentVersion:
		if m.Type == mumble.TypeVersion {
			var msg control.Version
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode Version: %w", err)
			}
			return ServerClientVersion{Version: mumble.VersionFromU64(msg.GetVersionV2())}, nil
		}

	case ServerClientVersion:
		if m.Type == mumble.TypeAuthenticate {
			var msg control.Authenticate
			if err := msg.UnmarshalBody(m.Body()); err != nil {
				return s, fmt.Errorf("decode Authenticate: %w", err)
			}
			return ServerAuthenticate{Auth: Authentication{
				Username: msg.GetUsername(),
				Password: msg.GetPassword(),
			}}, nil
		}
	}
	return s, fmt.Errorf("server handshake: unexpected %s in state %T", m.Type, s)
}
