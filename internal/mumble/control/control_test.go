package control

import (
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/mumble"
)

func roundTrip(t *testing.T, in, out mumble.Message) {
	t.Helper()
	frame := mumble.EncodeMessage(in)

	typ, length, err := mumble.ParsePrefix(frame[:mumble.PrefixTotalSize])
	if err != nil {
		t.Fatalf("parse prefix: %v", err)
	}
	if typ != in.MessageType() {
		t.Fatalf("type: got %s, want %s", typ, in.MessageType())
	}
	if length != len(frame)-mumble.PrefixTotalSize {
		t.Fatalf("length: got %d, want %d", length, len(frame)-mumble.PrefixTotalSize)
	}

	if err := out.UnmarshalBody(frame[mumble.PrefixTotalSize:]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	v := mumble.NewVersion(1, 5, 0)
	in := &Version{
		Release:   proto.String(v.String()),
		OS:        proto.String("linux"),
		VersionV2: proto.Uint64(v.ToU64()),
	}
	roundTrip(t, in, &Version{})
}

func TestAuthenticateRoundTrip(t *testing.T) {
	in := &Authenticate{
		Username: proto.String("username"),
		Password: proto.String("password"),
		Tokens:   []string{"a", "b"},
		Opus:     proto.Bool(true),
	}
	roundTrip(t, in, &Authenticate{})
}

func TestPingRoundTrip(t *testing.T) {
	in := &Ping{
		Timestamp:  proto.Uint64(12345),
		Good:       proto.Uint32(10),
		Late:       proto.Uint32(1),
		Lost:       proto.Uint32(2),
		UDPPingAvg: proto.Float32(1.5),
	}
	roundTrip(t, in, &Ping{})
}

func TestCryptSetupRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	in := &CryptSetup{
		Key:         key,
		ClientNonce: make([]byte, 16),
		ServerNonce: make([]byte, 16),
	}
	roundTrip(t, in, &CryptSetup{})
}

func TestChannelStateRoundTrip(t *testing.T) {
	in := &ChannelState{
		ChannelID:   proto.Uint32(1),
		Parent:      proto.Uint32(0),
		Name:        proto.String("SubChannel"),
		Description: proto.String("Description"),
		Position:    proto.Int32(-1),
		Links:       []uint32{2, 3},
	}
	roundTrip(t, in, &ChannelState{})
}

func TestUserStateRoundTrip(t *testing.T) {
	in := &UserState{
		Session:   proto.Uint32(7),
		Actor:     proto.Uint32(7),
		Name:      proto.String("username"),
		ChannelID: proto.Uint32(1),
		SelfMute:  proto.Bool(true),
	}
	roundTrip(t, in, &UserState{})
}

func TestUserRemoveRoundTrip(t *testing.T) {
	in := &UserRemove{
		Session: 7,
		Actor:   proto.Uint32(1),
		Reason:  proto.String("spamming"),
		Ban:     proto.Bool(true),
	}
	roundTrip(t, in, &UserRemove{})
}

func TestTextMessageRoundTrip(t *testing.T) {
	in := &TextMessage{
		Actor:     proto.Uint32(3),
		Session:   []uint32{1, 2},
		ChannelID: []uint32{0},
		Message:   "hello",
	}
	roundTrip(t, in, &TextMessage{})
}

func TestServerSyncRoundTrip(t *testing.T) {
	in := &ServerSync{
		Session:      proto.Uint32(1),
		MaxBandwidth: proto.Uint32(480000),
		WelcomeText:  proto.String("Hello Test user"),
		Permissions:  proto.Uint64(0x0D0E),
	}
	roundTrip(t, in, &ServerSync{})
}

func TestBanListRoundTrip(t *testing.T) {
	in := &BanList{
		Bans: []BanListEntry{
			{
				Address: []byte{127, 0, 0, 1},
				Mask:    32,
				Reason:  proto.String("spamming"),
			},
		},
	}
	roundTrip(t, in, &BanList{})
}

func TestUDPTunnelPassthrough(t *testing.T) {
	payload := []byte{0x00, 0x12, 0x34}
	in := &UDPTunnel{Packet: payload}

	frame := mumble.EncodeMessage(in)
	var out UDPTunnel
	if err := out.UnmarshalBody(frame[mumble.PrefixTotalSize:]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(out.Packet, payload) {
		t.Errorf("got %v, want %v", out.Packet, payload)
	}
}

// Optional fields stay absent across a round trip; presence matters for
// messages like ChannelState where the root channel has no parent.
func TestAbsentFieldsStayAbsent(t *testing.T) {
	in := &ChannelState{
		ChannelID: proto.Uint32(0),
		Name:      proto.String("TestChannel"),
	}
	frame := mumble.EncodeMessage(in)

	var out ChannelState
	if err := out.UnmarshalBody(frame[mumble.PrefixTotalSize:]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Parent != nil {
		t.Errorf("parent should stay absent, got %d", *out.Parent)
	}
	if out.Position != nil {
		t.Errorf("position should stay absent, got %d", *out.Position)
	}
}

// Unknown fields are skipped rather than failing the decode.
func TestUnknownFieldsIgnored(t *testing.T) {
	in := &UserState{Session: proto.Uint32(5), Recording: proto.Bool(true)}
	body := in.AppendBody(nil)

	var out Ping // same wire bytes, different schema: field 19 lands as unknown
	if err := out.UnmarshalBody(body); err != nil {
		t.Fatalf("unmarshal with unknown fields: %v", err)
	}
}
