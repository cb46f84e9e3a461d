package client

import (
	"runtime"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
)

// ClientVersion is the Version message this client announces.
func ClientVersion() *control.Version {
	v := mumble.NewVersion(1, 5, 0)
	return &control.Version{
		OS:        proto.String(runtime.GOOS),
		Release:   proto.String(v.String()),
		VersionV2: proto.Uint64(v.ToU64()),
	}
}

// AuthenticateMessage builds the credential message. Only opus audio is
// supported.
func AuthenticateMessage(username, password string) *control.Authenticate {
	m := &control.Authenticate{
		Username: proto.String(username),
		Opus:     proto.Bool(true),
	}
	if password != "" {
		m.Password = proto.String(password)
	}
	return m
}

// SwitchChannel produces the framed UserState a client submits to move
// itself between channels.
func SwitchChannel(session mumble.Session, from, to core.ChannelID) []byte {
	e := core.UserSwitchedChannel{
		User:        session,
		FromChannel: from,
		ToChannel:   to,
	}
	return mumble.EncodeMessage(e.ToMumble())
}

// TextMessageTo builds a chat message addressed to channels.
func TextMessageTo(session mumble.Session, channels []core.ChannelID, text string) *control.TextMessage {
	e := core.UserSentMessage{
		User:     session,
		Channels: channels,
		Message:  text,
	}
	return e.ToMumble()
}
