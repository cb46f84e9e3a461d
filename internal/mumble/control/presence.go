package control

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zhamlin/speakez/internal/mumble"
)

// ChannelRemove deletes a channel.
type ChannelRemove struct {
	ChannelID uint32
}

func (*ChannelRemove) MessageType() mumble.MessageType { return mumble.TypeChannelRemove }

func (m *ChannelRemove) AppendBody(b []byte) []byte {
	return appendUint32Field(b, 1, m.ChannelID)
}

func (m *ChannelRemove) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return setUint32(&m.ChannelID, num, typ, b)
		}
		return 0, nil
	})
}

// ChannelState describes one channel. Sent during state sync and on channel
// changes.
type ChannelState struct {
	ChannelID       *uint32
	Parent          *uint32
	Name            *string
	Links           []uint32
	Description     *string
	LinksAdd        []uint32
	LinksRemove     []uint32
	Temporary       *bool
	Position        *int32
	DescriptionHash []byte
	MaxUsers        *uint32
}

func (*ChannelState) MessageType() mumble.MessageType { return mumble.TypeChannelState }

func (m *ChannelState) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.ChannelID)
	b = appendUint32Opt(b, 2, m.Parent)
	b = appendStringOpt(b, 3, m.Name)
	b = appendUint32List(b, 4, m.Links)
	b = appendStringOpt(b, 5, m.Description)
	b = appendUint32List(b, 6, m.LinksAdd)
	b = appendUint32List(b, 7, m.LinksRemove)
	b = appendBoolOpt(b, 8, m.Temporary)
	b = appendInt32Opt(b, 9, m.Position)
	b = appendBytesOpt(b, 10, m.DescriptionHash)
	b = appendUint32Opt(b, 11, m.MaxUsers)
	return b
}

func (m *ChannelState) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 2:
			return setUint32Opt(&m.Parent, num, typ, b)
		case 3:
			return setStringOpt(&m.Name, num, typ, b)
		case 4:
			return addUint32List(&m.Links, num, typ, b)
		case 5:
			return setStringOpt(&m.Description, num, typ, b)
		case 6:
			return addUint32List(&m.LinksAdd, num, typ, b)
		case 7:
			return addUint32List(&m.LinksRemove, num, typ, b)
		case 8:
			return setBoolOpt(&m.Temporary, num, typ, b)
		case 9:
			return setInt32Opt(&m.Position, num, typ, b)
		case 10:
			return setBytes(&m.DescriptionHash, num, typ, b)
		case 11:
			return setUint32Opt(&m.MaxUsers, num, typ, b)
		}
		return 0, nil
	})
}

func (m *ChannelState) GetChannelID() uint32 {
	if m.ChannelID == nil {
		return 0
	}
	return *m.ChannelID
}

func (m *ChannelState) GetName() string {
	if m.Name == nil {
		return ""
	}
	return *m.Name
}

func (m *ChannelState) GetDescription() string {
	if m.Description == nil {
		return ""
	}
	return *m.Description
}

// UserRemove announces a session leaving the server, voluntarily or not.
type UserRemove struct {
	Session uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

func (*UserRemove) MessageType() mumble.MessageType { return mumble.TypeUserRemove }

func (m *UserRemove) AppendBody(b []byte) []byte {
	b = appendUint32Field(b, 1, m.Session)
	b = appendUint32Opt(b, 2, m.Actor)
	b = appendStringOpt(b, 3, m.Reason)
	b = appendBoolOpt(b, 4, m.Ban)
	return b
}

func (m *UserRemove) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32(&m.Session, num, typ, b)
		case 2:
			return setUint32Opt(&m.Actor, num, typ, b)
		case 3:
			return setStringOpt(&m.Reason, num, typ, b)
		case 4:
			return setBoolOpt(&m.Ban, num, typ, b)
		}
		return 0, nil
	})
}

func (m *UserRemove) GetBan() bool {
	if m.Ban == nil {
		return false
	}
	return *m.Ban
}

// UserState describes one connected user. Sent during state sync and on any
// user change (join, channel switch, mute, ...).
type UserState struct {
	Session         *uint32
	Actor           *uint32
	Name            *string
	UserID          *uint32
	ChannelID       *uint32
	Mute            *bool
	Deaf            *bool
	Suppress        *bool
	SelfMute        *bool
	SelfDeaf        *bool
	Texture         []byte
	PluginContext   []byte
	PluginIdentity  *string
	Comment         *string
	Hash            *string
	CommentHash     []byte
	TextureHash     []byte
	PrioritySpeaker *bool
	Recording       *bool
}

func (*UserState) MessageType() mumble.MessageType { return mumble.TypeUserState }

func (m *UserState) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Session)
	b = appendUint32Opt(b, 2, m.Actor)
	b = appendStringOpt(b, 3, m.Name)
	b = appendUint32Opt(b, 4, m.UserID)
	b = appendUint32Opt(b, 5, m.ChannelID)
	b = appendBoolOpt(b, 6, m.Mute)
	b = appendBoolOpt(b, 7, m.Deaf)
	b = appendBoolOpt(b, 8, m.Suppress)
	b = appendBoolOpt(b, 9, m.SelfMute)
	b = appendBoolOpt(b, 10, m.SelfDeaf)
	b = appendBytesOpt(b, 11, m.Texture)
	b = appendBytesOpt(b, 12, m.PluginContext)
	b = appendStringOpt(b, 13, m.PluginIdentity)
	b = appendStringOpt(b, 14, m.Comment)
	b = appendStringOpt(b, 15, m.Hash)
	b = appendBytesOpt(b, 16, m.CommentHash)
	b = appendBytesOpt(b, 17, m.TextureHash)
	b = appendBoolOpt(b, 18, m.PrioritySpeaker)
	b = appendBoolOpt(b, 19, m.Recording)
	return b
}

func (m *UserState) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Session, num, typ, b)
		case 2:
			return setUint32Opt(&m.Actor, num, typ, b)
		case 3:
			return setStringOpt(&m.Name, num, typ, b)
		case 4:
			return setUint32Opt(&m.UserID, num, typ, b)
		case 5:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 6:
			return setBoolOpt(&m.Mute, num, typ, b)
		case 7:
			return setBoolOpt(&m.Deaf, num, typ, b)
		case 8:
			return setBoolOpt(&m.Suppress, num, typ, b)
		case 9:
			return setBoolOpt(&m.SelfMute, num, typ, b)
		case 10:
			return setBoolOpt(&m.SelfDeaf, num, typ, b)
		case 11:
			return setBytes(&m.Texture, num, typ, b)
		case 12:
			return setBytes(&m.PluginContext, num, typ, b)
		case 13:
			return setStringOpt(&m.PluginIdentity, num, typ, b)
		case 14:
			return setStringOpt(&m.Comment, num, typ, b)
		case 15:
			return setStringOpt(&m.Hash, num, typ, b)
		case 16:
			return setBytes(&m.CommentHash, num, typ, b)
		case 17:
			return setBytes(&m.TextureHash, num, typ, b)
		case 18:
			return setBoolOpt(&m.PrioritySpeaker, num, typ, b)
		case 19:
			return setBoolOpt(&m.Recording, num, typ, b)
		}
		return 0, nil
	})
}

func (m *UserState) GetSession() uint32 {
	if m.Session == nil {
		return 0
	}
	return *m.Session
}

func (m *UserState) GetName() string {
	if m.Name == nil {
		return ""
	}
	return *m.Name
}

// TextMessage carries chat text to sessions, channels, or channel trees.
type TextMessage struct {
	Actor     *uint32
	Session   []uint32
	ChannelID []uint32
	TreeID    []uint32
	Message   string
}

func (*TextMessage) MessageType() mumble.MessageType { return mumble.TypeTextMessage }

func (m *TextMessage) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Actor)
	b = appendUint32List(b, 2, m.Session)
	b = appendUint32List(b, 3, m.ChannelID)
	b = appendUint32List(b, 4, m.TreeID)
	b = appendStringField(b, 5, m.Message)
	return b
}

func (m *TextMessage) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Actor, num, typ, b)
		case 2:
			return addUint32List(&m.Session, num, typ, b)
		case 3:
			return addUint32List(&m.ChannelID, num, typ, b)
		case 4:
			return addUint32List(&m.TreeID, num, typ, b)
		case 5:
			return setString(&m.Message, num, typ, b)
		}
		return 0, nil
	})
}

// PermissionDenied reason codes.
const (
	DenyText uint32 = iota
	DenyPermission
	DenySuperUser
	DenyChannelName
	DenyTextTooLong
	DenyH9K
	DenyTemporaryChannel
	DenyMissingCertificate
	DenyUserName
	DenyChannelFull
	DenyNestingLimit
)

// PermissionDenied reports a refused operation.
type PermissionDenied struct {
	Permission *uint32
	ChannelID  *uint32
	Session    *uint32
	Reason     *string
	Type       *uint32
	Name       *string
}

func (*PermissionDenied) MessageType() mumble.MessageType { return mumble.TypePermissionDenied }

func (m *PermissionDenied) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Permission)
	b = appendUint32Opt(b, 2, m.ChannelID)
	b = appendUint32Opt(b, 3, m.Session)
	b = appendStringOpt(b, 4, m.Reason)
	b = appendUint32Opt(b, 5, m.Type)
	b = appendStringOpt(b, 6, m.Name)
	return b
}

func (m *PermissionDenied) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Permission, num, typ, b)
		case 2:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 3:
			return setUint32Opt(&m.Session, num, typ, b)
		case 4:
			return setStringOpt(&m.Reason, num, typ, b)
		case 5:
			return setUint32Opt(&m.Type, num, typ, b)
		case 6:
			return setStringOpt(&m.Name, num, typ, b)
		}
		return 0, nil
	})
}

// PermissionQuery asks for (or answers with) the permission bits on a
// channel.
type PermissionQuery struct {
	ChannelID   *uint32
	Permissions *uint32
	Flush       *bool
}

func (*PermissionQuery) MessageType() mumble.MessageType { return mumble.TypePermissionQuery }

func (m *PermissionQuery) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.ChannelID)
	b = appendUint32Opt(b, 2, m.Permissions)
	b = appendBoolOpt(b, 3, m.Flush)
	return b
}

func (m *PermissionQuery) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 2:
			return setUint32Opt(&m.Permissions, num, typ, b)
		case 3:
			return setBoolOpt(&m.Flush, num, typ, b)
		}
		return 0, nil
	})
}
