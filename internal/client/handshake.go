package client

import (
	"fmt"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/handshake"
)

// Handshake drives the client handshake until ServerSync, at which point it
// yields the connected State and the received crypt material.
type Handshake struct {
	State handshake.ClientState
}

// NewHandshake starts a handshake; the caller has already sent Version.
func NewHandshake() *Handshake {
	return &Handshake{State: handshake.ClientConnected{}}
}

// SentAuthenticate records that the caller submitted its credentials.
func (h *Handshake) SentAuthenticate() {
	h.State = handshake.ClientSentAuthenticate{}
}

// HandleMessage feeds one incoming frame to the handshake. When the
// handshake completes it returns the connected state and the server's
// CryptSetup; until then both are nil.
func (h *Handshake) HandleMessage(m mumble.MessageBuf) (*State, *control.CryptSetup, error) {
	next, err := handshake.HandleClient(h.State, m)
	if err != nil {
		return nil, nil, err
	}
	h.State = next

	done, ok := next.(handshake.ClientDone)
	if !ok {
		return nil, nil, nil
	}

	session := mumble.Session(done.Sync.GetSession())
	if !session.Valid() {
		return nil, nil, fmt.Errorf("server sync without a session")
	}

	state := NewState(session)
	for _, user := range done.State.Users {
		s := mumble.Session(user.GetSession())
		channel := core.RootChannel
		if user.ChannelID != nil {
			channel = core.ChannelID(*user.ChannelID)
		}
		state.Users[s] = core.User{
			Name:    user.GetName(),
			Session: s,
			Channel: channel,
		}
	}

	for _, ch := range done.State.Channels {
		id := core.ChannelID(ch.GetChannelID())
		c := core.Channel{
			ID:          id,
			Name:        ch.GetName(),
			Description: ch.GetDescription(),
		}
		if ch.Temporary != nil {
			c.Temporary = *ch.Temporary
		}
		if ch.Position != nil {
			c.Position = *ch.Position
		}
		if ch.Parent != nil {
			parent := core.ChannelID(*ch.Parent)
			c.Parent = &parent
		}
		state.Channels[id] = c
	}

	return state, done.State.Crypt, nil
}
