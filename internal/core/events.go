package core

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

// Event is a semantic event derived from wire messages. Naming follows
// subject-verb-object.
type Event interface {
	isEvent()
}

// VoiceMessage is one opus frame from a user. Only opus is supported.
type VoiceMessage struct {
	Data        []byte
	FrameNumber uint64
	Sender      mumble.Session
}

// UserSentAudio wraps a voice frame as an event.
type UserSentAudio struct {
	VoiceMessage
}

// RemovedReason says why a user left the server.
type RemovedReason int

const (
	// ReasonLeft means the user disconnected on their own.
	ReasonLeft RemovedReason = iota
	// ReasonKicked means By removed the user.
	ReasonKicked
	// ReasonBanned means By removed and banned the user.
	ReasonBanned
)

// UserRemoved reports a user leaving the server.
type UserRemoved struct {
	User      mumble.Session
	Reason    RemovedReason
	By        mumble.Session // only set for ReasonKicked / ReasonBanned
	ReasonMsg string
}

// UserSwitchedChannel reports a user moving between channels.
type UserSwitchedChannel struct {
	User        mumble.Session
	FromChannel ChannelID
	ToChannel   ChannelID
}

// UserJoinedServer reports a new user appearing.
type UserJoinedServer struct {
	User      mumble.Session
	Name      string
	ChannelID ChannelID
}

// UserSentMessage reports chat text.
type UserSentMessage struct {
	User       mumble.Session
	Recipients []mumble.Session
	Channels   []ChannelID
	Message    string
}

func (UserSentAudio) isEvent()       {}
func (UserRemoved) isEvent()         {}
func (UserSwitchedChannel) isEvent() {}
func (UserJoinedServer) isEvent()    {}
func (UserSentMessage) isEvent()     {}

// ToAudio converts a voice frame into its wire form.
func (m VoiceMessage) ToAudio() *voice.Audio {
	return &voice.Audio{
		OpusData:      m.Data,
		FrameNumber:   m.FrameNumber,
		SenderSession: uint32(m.Sender),
	}
}

// ToMumble renders the event as a UserRemove control message.
func (e UserRemoved) ToMumble() *control.UserRemove {
	msg := &control.UserRemove{Session: uint32(e.User)}
	if e.ReasonMsg != "" {
		msg.Reason = proto.String(e.ReasonMsg)
	}
	switch e.Reason {
	case ReasonKicked:
		msg.Actor = proto.Uint32(uint32(e.By))
	case ReasonBanned:
		msg.Actor = proto.Uint32(uint32(e.By))
		msg.Ban = proto.Bool(true)
	}
	return msg
}

// ToMumble renders the event as a UserState broadcast.
func (e UserSwitchedChannel) ToMumble() *control.UserState {
	return &control.UserState{
		Session:   proto.Uint32(uint32(e.User)),
		Actor:     proto.Uint32(uint32(e.User)),
		ChannelID: proto.Uint32(uint32(e.ToChannel)),
	}
}

// ToMumble renders the event as a UserState announcement.
func (e UserJoinedServer) ToMumble() *control.UserState {
	return &control.UserState{
		Name:      proto.String(e.Name),
		Session:   proto.Uint32(uint32(e.User)),
		ChannelID: proto.Uint32(uint32(e.ChannelID)),
	}
}

// ToMumble renders the event as a TextMessage.
func (e UserSentMessage) ToMumble() *control.TextMessage {
	msg := &control.TextMessage{
		Actor:   proto.Uint32(uint32(e.User)),
		Message: e.Message,
	}
	for _, s := range e.Recipients {
		msg.Session = append(msg.Session, uint32(s))
	}
	for _, c := range e.Channels {
		msg.ChannelID = append(msg.ChannelID, uint32(c))
	}
	return msg
}

// UserView is the read side both reducers expose to the event mapping.
type UserView interface {
	GetUser(session mumble.Session) (User, bool)
}

// VoiceToEvent lifts a decoded audio packet into an event.
func VoiceToEvent(a *voice.Audio) (VoiceMessage, error) {
	sender := mumble.Session(a.SenderSession)
	if !sender.Valid() {
		return VoiceMessage{}, fmt.Errorf("audio packet without a sender session")
	}
	return VoiceMessage{
		Data:        a.OpusData,
		FrameNumber: a.FrameNumber,
		Sender:      sender,
	}, nil
}

func textToEvent(m *control.TextMessage) (UserSentMessage, error) {
	if m.Actor == nil || !mumble.Session(*m.Actor).Valid() {
		return UserSentMessage{}, fmt.Errorf("text message without an actor")
	}
	e := UserSentMessage{
		User:    mumble.Session(*m.Actor),
		Message: m.Message,
	}
	for _, s := range m.Session {
		e.Recipients = append(e.Recipients, mumble.Session(s))
	}
	for _, c := range m.ChannelID {
		e.Channels = append(e.Channels, ChannelID(c))
	}
	return e, nil
}

func userRemoveToEvent(m *control.UserRemove) UserRemoved {
	e := UserRemoved{User: mumble.Session(m.Session)}
	if m.Reason != nil {
		e.ReasonMsg = *m.Reason
	}
	switch {
	case m.Actor != nil && m.GetBan():
		e.Reason = ReasonBanned
		e.By = mumble.Session(*m.Actor)
	case m.Actor != nil:
		e.Reason = ReasonKicked
		e.By = mumble.Session(*m.Actor)
	default:
		e.Reason = ReasonLeft
	}
	return e
}

func userStateToEvent(view UserView, m *control.UserState) Event {
	session := mumble.Session(m.GetSession())

	user, known := view.GetUser(session)
	if !known {
		channel := RootChannel
		if m.ChannelID != nil {
			channel = ChannelID(*m.ChannelID)
		}
		return UserJoinedServer{
			User:      session,
			Name:      m.GetName(),
			ChannelID: channel,
		}
	}

	if m.ChannelID != nil && ChannelID(*m.ChannelID) != user.Channel {
		return UserSwitchedChannel{
			User:        session,
			FromChannel: user.Channel,
			ToChannel:   ChannelID(*m.ChannelID),
		}
	}
	return nil
}

func audioToEvent(body []byte, sender mumble.Session) (Event, error) {
	pkt, err := voice.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode tunneled voice: %w", err)
	}
	audio, ok := pkt.(*voice.Audio)
	if !ok {
		return nil, nil
	}
	if audio.SenderSession == 0 {
		audio.SenderSession = uint32(sender)
	}
	vm, err := VoiceToEvent(audio)
	if err != nil {
		return nil, err
	}
	return UserSentAudio{vm}, nil
}

// MumbleToEvent maps a control message to a semantic event, when one
// exists. Messages that carry no event semantics return (nil, nil); decode
// failures return an error for the caller to log and drop.
func MumbleToEvent(view UserView, m mumble.MessageBuf, sender mumble.Session) (Event, error) {
	switch m.Type {
	case mumble.TypeUDPTunnel:
		return audioToEvent(m.Body(), sender)

	case mumble.TypeUserState:
		var msg control.UserState
		if err := msg.UnmarshalBody(m.Body()); err != nil {
			return nil, fmt.Errorf("decode UserState: %w", err)
		}
		if msg.Session == nil {
			return nil, nil
		}
		return userStateToEvent(view, &msg), nil

	case mumble.TypeUserRemove:
		var msg control.UserRemove
		if err := msg.UnmarshalBody(m.Body()); err != nil {
			return nil, fmt.Errorf("decode UserRemove: %w", err)
		}
		return userRemoveToEvent(&msg), nil

	case mumble.TypeTextMessage:
		var msg control.TextMessage
		if err := msg.UnmarshalBody(m.Body()); err != nil {
			return nil, fmt.Errorf("decode TextMessage: %w", err)
		}
		if msg.Actor == nil && sender.Valid() {
			msg.Actor = proto.Uint32(uint32(sender))
		}
		e, err := textToEvent(&msg)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, nil
}
