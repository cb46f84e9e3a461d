package control

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zhamlin/speakez/internal/mumble"
)

// BanListEntry is one ban record.
type BanListEntry struct {
	Address  []byte
	Mask     uint32
	Name     *string
	Hash     *string
	Reason   *string
	Start    *string
	Duration *uint32
}

func (m *BanListEntry) AppendBody(b []byte) []byte {
	b = appendBytesOpt(b, 1, m.Address)
	b = appendUint32Field(b, 2, m.Mask)
	b = appendStringOpt(b, 3, m.Name)
	b = appendStringOpt(b, 4, m.Hash)
	b = appendStringOpt(b, 5, m.Reason)
	b = appendStringOpt(b, 6, m.Start)
	b = appendUint32Opt(b, 7, m.Duration)
	return b
}

func (m *BanListEntry) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setBytes(&m.Address, num, typ, b)
		case 2:
			return setUint32(&m.Mask, num, typ, b)
		case 3:
			return setStringOpt(&m.Name, num, typ, b)
		case 4:
			return setStringOpt(&m.Hash, num, typ, b)
		case 5:
			return setStringOpt(&m.Reason, num, typ, b)
		case 6:
			return setStringOpt(&m.Start, num, typ, b)
		case 7:
			return setUint32Opt(&m.Duration, num, typ, b)
		}
		return 0, nil
	})
}

// BanList queries or replaces the server's ban list.
type BanList struct {
	Bans  []BanListEntry
	Query *bool
}

func (*BanList) MessageType() mumble.MessageType { return mumble.TypeBanList }

func (m *BanList) AppendBody(b []byte) []byte {
	for i := range m.Bans {
		b = appendMessageField(b, 1, &m.Bans[i])
	}
	b = appendBoolOpt(b, 2, m.Query)
	return b
}

func (m *BanList) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var e BanListEntry
			n, err := setMessage(&e, num, typ, b)
			if err == nil {
				m.Bans = append(m.Bans, e)
			}
			return n, err
		case 2:
			return setBoolOpt(&m.Query, num, typ, b)
		}
		return 0, nil
	})
}

// ACL queries or updates channel access control. Only the query surface is
// modelled; the server advertises a default mask and does not enforce ACLs.
type ACL struct {
	ChannelID   uint32
	InheritACLs *bool
	Query       *bool
}

func (*ACL) MessageType() mumble.MessageType { return mumble.TypeACL }

func (m *ACL) AppendBody(b []byte) []byte {
	b = appendUint32Field(b, 1, m.ChannelID)
	b = appendBoolOpt(b, 2, m.InheritACLs)
	b = appendBoolOpt(b, 5, m.Query)
	return b
}

func (m *ACL) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32(&m.ChannelID, num, typ, b)
		case 2:
			return setBoolOpt(&m.InheritACLs, num, typ, b)
		case 5:
			return setBoolOpt(&m.Query, num, typ, b)
		}
		return 0, nil
	})
}

// QueryUsers resolves registered user IDs to names and back.
type QueryUsers struct {
	IDs   []uint32
	Names []string
}

func (*QueryUsers) MessageType() mumble.MessageType { return mumble.TypeQueryUsers }

func (m *QueryUsers) AppendBody(b []byte) []byte {
	b = appendUint32List(b, 1, m.IDs)
	b = appendStringList(b, 2, m.Names)
	return b
}

func (m *QueryUsers) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return addUint32List(&m.IDs, num, typ, b)
		case 2:
			return addStringList(&m.Names, num, typ, b)
		}
		return 0, nil
	})
}

// ContextActionModify registers or removes a client context action.
type ContextActionModify struct {
	Action    string
	Text      *string
	Context   *uint32
	Operation *uint32
}

func (*ContextActionModify) MessageType() mumble.MessageType { return mumble.TypeContextActionModify }

func (m *ContextActionModify) AppendBody(b []byte) []byte {
	b = appendStringField(b, 1, m.Action)
	b = appendStringOpt(b, 2, m.Text)
	b = appendUint32Opt(b, 3, m.Context)
	b = appendUint32Opt(b, 4, m.Operation)
	return b
}

func (m *ContextActionModify) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setString(&m.Action, num, typ, b)
		case 2:
			return setStringOpt(&m.Text, num, typ, b)
		case 3:
			return setUint32Opt(&m.Context, num, typ, b)
		case 4:
			return setUint32Opt(&m.Operation, num, typ, b)
		}
		return 0, nil
	})
}

// ContextAction fires a registered context action.
type ContextAction struct {
	Session   *uint32
	ChannelID *uint32
	Action    string
}

func (*ContextAction) MessageType() mumble.MessageType { return mumble.TypeContextAction }

func (m *ContextAction) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Session)
	b = appendUint32Opt(b, 2, m.ChannelID)
	b = appendStringField(b, 3, m.Action)
	return b
}

func (m *ContextAction) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Session, num, typ, b)
		case 2:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 3:
			return setString(&m.Action, num, typ, b)
		}
		return 0, nil
	})
}

// UserListEntry is one registered-user record.
type UserListEntry struct {
	UserID      uint32
	Name        *string
	LastSeen    *string
	LastChannel *uint32
}

func (m *UserListEntry) AppendBody(b []byte) []byte {
	b = appendUint32Field(b, 1, m.UserID)
	b = appendStringOpt(b, 2, m.Name)
	b = appendStringOpt(b, 3, m.LastSeen)
	b = appendUint32Opt(b, 4, m.LastChannel)
	return b
}

func (m *UserListEntry) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32(&m.UserID, num, typ, b)
		case 2:
			return setStringOpt(&m.Name, num, typ, b)
		case 3:
			return setStringOpt(&m.LastSeen, num, typ, b)
		case 4:
			return setUint32Opt(&m.LastChannel, num, typ, b)
		}
		return 0, nil
	})
}

// UserList queries or edits the registered-user list.
type UserList struct {
	Users []UserListEntry
}

func (*UserList) MessageType() mumble.MessageType { return mumble.TypeUserList }

func (m *UserList) AppendBody(b []byte) []byte {
	for i := range m.Users {
		b = appendMessageField(b, 1, &m.Users[i])
	}
	return b
}

func (m *UserList) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			var e UserListEntry
			n, err := setMessage(&e, num, typ, b)
			if err == nil {
				m.Users = append(m.Users, e)
			}
			return n, err
		}
		return 0, nil
	})
}

// VoiceTargetEntry is one destination of a whisper target.
type VoiceTargetEntry struct {
	Session   []uint32
	ChannelID *uint32
	Group     *string
	Links     *bool
	Children  *bool
}

func (m *VoiceTargetEntry) AppendBody(b []byte) []byte {
	b = appendUint32List(b, 1, m.Session)
	b = appendUint32Opt(b, 2, m.ChannelID)
	b = appendStringOpt(b, 3, m.Group)
	b = appendBoolOpt(b, 4, m.Links)
	b = appendBoolOpt(b, 5, m.Children)
	return b
}

func (m *VoiceTargetEntry) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return addUint32List(&m.Session, num, typ, b)
		case 2:
			return setUint32Opt(&m.ChannelID, num, typ, b)
		case 3:
			return setStringOpt(&m.Group, num, typ, b)
		case 4:
			return setBoolOpt(&m.Links, num, typ, b)
		case 5:
			return setBoolOpt(&m.Children, num, typ, b)
		}
		return 0, nil
	})
}

// VoiceTarget configures a whisper/shout target slot.
type VoiceTarget struct {
	ID      *uint32
	Targets []VoiceTargetEntry
}

func (*VoiceTarget) MessageType() mumble.MessageType { return mumble.TypeVoiceTarget }

func (m *VoiceTarget) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.ID)
	for i := range m.Targets {
		b = appendMessageField(b, 2, &m.Targets[i])
	}
	return b
}

func (m *VoiceTarget) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.ID, num, typ, b)
		case 2:
			var e VoiceTargetEntry
			n, err := setMessage(&e, num, typ, b)
			if err == nil {
				m.Targets = append(m.Targets, e)
			}
			return n, err
		}
		return 0, nil
	})
}

// CodecVersion advertises the codecs in use. Only opus matters here.
type CodecVersion struct {
	Alpha       int32
	Beta        int32
	PreferAlpha bool
	Opus        *bool
}

func (*CodecVersion) MessageType() mumble.MessageType { return mumble.TypeCodecVersion }

func (m *CodecVersion) AppendBody(b []byte) []byte {
	b = appendInt32Field(b, 1, m.Alpha)
	b = appendInt32Field(b, 2, m.Beta)
	b = appendBoolField(b, 3, m.PreferAlpha)
	b = appendBoolOpt(b, 4, m.Opus)
	return b
}

func (m *CodecVersion) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setInt32(&m.Alpha, num, typ, b)
		case 2:
			return setInt32(&m.Beta, num, typ, b)
		case 3:
			return setBool(&m.PreferAlpha, num, typ, b)
		case 4:
			return setBoolOpt(&m.Opus, num, typ, b)
		}
		return 0, nil
	})
}

// UserStatsCounters is the nested good/late/lost/resync block of UserStats.
type UserStatsCounters struct {
	Good   *uint32
	Late   *uint32
	Lost   *uint32
	Resync *uint32
}

func (m *UserStatsCounters) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Good)
	b = appendUint32Opt(b, 2, m.Late)
	b = appendUint32Opt(b, 3, m.Lost)
	b = appendUint32Opt(b, 4, m.Resync)
	return b
}

func (m *UserStatsCounters) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Good, num, typ, b)
		case 2:
			return setUint32Opt(&m.Late, num, typ, b)
		case 3:
			return setUint32Opt(&m.Lost, num, typ, b)
		case 4:
			return setUint32Opt(&m.Resync, num, typ, b)
		}
		return 0, nil
	})
}

// UserStats reports per-session transport statistics.
type UserStats struct {
	Session    *uint32
	StatsOnly  *bool
	FromClient *UserStatsCounters
	FromServer *UserStatsCounters
	UDPPackets *uint32
	TCPPackets *uint32
	OnlineSecs *uint32
	IdleSecs   *uint32
	Opus       *bool
}

func (*UserStats) MessageType() mumble.MessageType { return mumble.TypeUserStats }

func (m *UserStats) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Session)
	b = appendBoolOpt(b, 2, m.StatsOnly)
	if m.FromClient != nil {
		b = appendMessageField(b, 4, m.FromClient)
	}
	if m.FromServer != nil {
		b = appendMessageField(b, 5, m.FromServer)
	}
	b = appendUint32Opt(b, 6, m.UDPPackets)
	b = appendUint32Opt(b, 7, m.TCPPackets)
	b = appendUint32Opt(b, 16, m.OnlineSecs)
	b = appendUint32Opt(b, 17, m.IdleSecs)
	b = appendBoolOpt(b, 19, m.Opus)
	return b
}

func (m *UserStats) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Session, num, typ, b)
		case 2:
			return setBoolOpt(&m.StatsOnly, num, typ, b)
		case 4:
			m.FromClient = &UserStatsCounters{}
			return setMessage(m.FromClient, num, typ, b)
		case 5:
			m.FromServer = &UserStatsCounters{}
			return setMessage(m.FromServer, num, typ, b)
		case 6:
			return setUint32Opt(&m.UDPPackets, num, typ, b)
		case 7:
			return setUint32Opt(&m.TCPPackets, num, typ, b)
		case 16:
			return setUint32Opt(&m.OnlineSecs, num, typ, b)
		case 17:
			return setUint32Opt(&m.IdleSecs, num, typ, b)
		case 19:
			return setBoolOpt(&m.Opus, num, typ, b)
		}
		return 0, nil
	})
}

// RequestBlob asks for large fields withheld during state sync.
type RequestBlob struct {
	SessionTexture     []uint32
	SessionComment     []uint32
	ChannelDescription []uint32
}

func (*RequestBlob) MessageType() mumble.MessageType { return mumble.TypeRequestBlob }

func (m *RequestBlob) AppendBody(b []byte) []byte {
	b = appendUint32List(b, 1, m.SessionTexture)
	b = appendUint32List(b, 2, m.SessionComment)
	b = appendUint32List(b, 3, m.ChannelDescription)
	return b
}

func (m *RequestBlob) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return addUint32List(&m.SessionTexture, num, typ, b)
		case 2:
			return addUint32List(&m.SessionComment, num, typ, b)
		case 3:
			return addUint32List(&m.ChannelDescription, num, typ, b)
		}
		return 0, nil
	})
}

// ServerConfig announces server limits after sync.
type ServerConfig struct {
	MaxBandwidth       *uint32
	WelcomeText        *string
	AllowHTML          *bool
	MessageLength      *uint32
	ImageMessageLength *uint32
	MaxUsers           *uint32
}

func (*ServerConfig) MessageType() mumble.MessageType { return mumble.TypeServerConfig }

func (m *ServerConfig) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.MaxBandwidth)
	b = appendStringOpt(b, 2, m.WelcomeText)
	b = appendBoolOpt(b, 3, m.AllowHTML)
	b = appendUint32Opt(b, 4, m.MessageLength)
	b = appendUint32Opt(b, 5, m.ImageMessageLength)
	b = appendUint32Opt(b, 6, m.MaxUsers)
	return b
}

func (m *ServerConfig) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.MaxBandwidth, num, typ, b)
		case 2:
			return setStringOpt(&m.WelcomeText, num, typ, b)
		case 3:
			return setBoolOpt(&m.AllowHTML, num, typ, b)
		case 4:
			return setUint32Opt(&m.MessageLength, num, typ, b)
		case 5:
			return setUint32Opt(&m.ImageMessageLength, num, typ, b)
		case 6:
			return setUint32Opt(&m.MaxUsers, num, typ, b)
		}
		return 0, nil
	})
}

// SuggestConfig recommends client settings.
type SuggestConfig struct {
	Version    *uint32
	Positional *bool
	PushToTalk *bool
	VersionV2  *uint64
}

func (*SuggestConfig) MessageType() mumble.MessageType { return mumble.TypeSuggestConfig }

func (m *SuggestConfig) AppendBody(b []byte) []byte {
	b = appendUint32Opt(b, 1, m.Version)
	b = appendBoolOpt(b, 2, m.Positional)
	b = appendBoolOpt(b, 3, m.PushToTalk)
	b = appendUint64Opt(b, 4, m.VersionV2)
	return b
}

func (m *SuggestConfig) UnmarshalBody(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return setUint32Opt(&m.Version, num, typ, b)
		case 2:
			return setBoolOpt(&m.Positional, num, typ, b)
		case 3:
			return setBoolOpt(&m.PushToTalk, num, typ, b)
		case 4:
			return setUint64Opt(&m.VersionV2, num, typ, b)
		}
		return 0, nil
	})
}
