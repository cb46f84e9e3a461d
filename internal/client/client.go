// Package client implements the protocol client core: a handshake driver
// and a single-threaded reducer that keeps a local view of users and
// channels and turns wire messages into semantic events.
package client

import (
	"log/slog"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
)

// State is the client's view of the server. It is created by the handshake
// driver once ServerSync arrives and mutated only by HandleMessage.
type State struct {
	Session  mumble.Session
	Users    map[mumble.Session]core.User
	Channels map[core.ChannelID]core.Channel

	// Outbox collects the semantic events each input produced. Consumers
	// drain it.
	Outbox []core.Event
}

// NewState builds an empty view for the given session.
func NewState(session mumble.Session) *State {
	return &State{
		Session:  session,
		Users:    make(map[mumble.Session]core.User),
		Channels: make(map[core.ChannelID]core.Channel),
	}
}

// GetUser implements core.UserView.
func (s *State) GetUser(session mumble.Session) (core.User, bool) {
	u, ok := s.Users[session]
	return u, ok
}

// Self returns this client's own user entry.
func (s *State) Self() (core.User, bool) {
	return s.GetUser(s.Session)
}

// HandleMessage consumes one control frame: it derives the semantic event,
// updates the view, and appends the event to the outbox.
func HandleMessage(s *State, m mumble.MessageBuf) {
	event, err := core.MumbleToEvent(s, m, 0)
	if err != nil {
		slog.Warn("dropping undecodable message", "type", m.Type, "err", err)
		return
	}
	if event == nil {
		return
	}
	HandleEvent(s, event)
}

// HandleEvent applies one event to the view and appends it to the outbox.
func HandleEvent(s *State, e core.Event) {
	switch e := e.(type) {
	case core.UserRemoved:
		delete(s.Users, e.User)

	case core.UserSwitchedChannel:
		user, ok := s.Users[e.User]
		if !ok {
			slog.Warn("channel switch for unknown user", "session", e.User)
			return
		}
		user.Channel = e.ToChannel
		s.Users[e.User] = user

	case core.UserJoinedServer:
		s.Users[e.User] = core.User{
			Name:    e.Name,
			Session: e.User,
			Channel: e.ChannelID,
		}
	}

	s.Outbox = append(s.Outbox, e)
}

// DrainOutbox returns the collected events and resets the outbox.
func (s *State) DrainOutbox() []core.Event {
	out := s.Outbox
	s.Outbox = nil
	return out
}
