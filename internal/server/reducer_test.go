package server

import (
	"net/netip"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/handshake"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

// testCrypter implements VoiceCrypter without touching the bytes, so
// reducer tests can follow packets through the datagram rules.
type testCrypter struct {
	key         []byte
	clientNonce []byte
	serverNonce []byte
}

func newTestCrypter() *testCrypter {
	key := make([]byte, 16)
	for i := range key {
		key[i] = 1
	}
	return &testCrypter{
		key:         key,
		clientNonce: make([]byte, 16),
		serverNonce: make([]byte, 16),
	}
}

func (*testCrypter) Encrypt(buf []byte) {}

func (*testCrypter) Decrypt(buf []byte) ([]byte, error) { return buf, nil }

func (c *testCrypter) CryptSetup() CryptMaterial {
	return CryptMaterial{
		Key:         c.key,
		ClientNonce: c.clientNonce,
		ServerNonce: c.serverNonce,
	}
}

func newTestState(maxUsers int) *State {
	return NewState(maxUsers, func() VoiceCrypter { return newTestCrypter() })
}

func testChannel() core.Channel {
	return core.NewChannel(core.RootChannel, "TestChannel", "Description")
}

// performHandshake walks one session through version exchange and
// authentication.
func performHandshake(t *testing.T, s *State, username string) mumble.Session {
	t.Helper()
	session, ok := s.NewSession()
	if !ok {
		t.Fatal("session pool exhausted")
	}

	now := time.Now()
	HandleMessage(s, SessionCreated{Session: session}, now)
	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(ServerVersion())}, now)
	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String(username),
		Password: proto.String("password"),
	})}, now)
	return session
}

// wantMessage decodes one outbox entry into out and compares it and its
// destination against want.
func wantMessage(t *testing.T, want mumble.Message, out mumble.Message, dest Destination, got OutboxMessage) {
	t.Helper()

	sd, ok := got.Dest.(SessionDestination)
	if !ok {
		t.Fatalf("destination: got %T, want SessionDestination", got.Dest)
	}
	if !reflect.DeepEqual(sd.Destination, dest) {
		t.Fatalf("destination: got %+v, want %+v", sd.Destination, dest)
	}

	typ, _, err := mumble.ParsePrefix(got.Data[:mumble.PrefixTotalSize])
	if err != nil {
		t.Fatalf("parse prefix: %v", err)
	}
	if typ != want.MessageType() {
		t.Fatalf("type: got %s, want %s", typ, want.MessageType())
	}
	if err := out.UnmarshalBody(got.Data[mumble.PrefixTotalSize:]); err != nil {
		t.Fatalf("unmarshal %s: %v", typ, err)
	}
	if !reflect.DeepEqual(want, out) {
		t.Errorf("%s mismatch:\n got %+v\nwant %+v", typ, out, want)
	}
}

func TestHandshake(t *testing.T) {
	s := newTestState(10)
	channel := testChannel()
	s.NewChannel(channel)

	session := performHandshake(t, s, "username")

	next := func() OutboxMessage {
		t.Helper()
		if len(s.Outbox) == 0 {
			t.Fatal("outbox empty")
		}
		m := s.Outbox[0]
		s.Outbox = s.Outbox[1:]
		return m
	}

	wantMessage(t, ServerVersion(), &control.Version{}, Single(session), next())
	wantMessage(t, &control.CryptSetup{
		Key:         bytesOf(1, 16),
		ClientNonce: make([]byte, 16),
		ServerNonce: make([]byte, 16),
	}, &control.CryptSetup{}, Single(session), next())
	wantMessage(t, &control.ChannelState{
		ChannelID:   proto.Uint32(0),
		Name:        proto.String(channel.Name),
		Description: proto.String(channel.Description),
	}, &control.ChannelState{}, Single(session), next())
	wantMessage(t, &control.UserState{
		Session:   proto.Uint32(uint32(session)),
		Name:      proto.String("username"),
		ChannelID: proto.Uint32(0),
	}, &control.UserState{}, Single(session), next())
	wantMessage(t, &control.ServerSync{
		Session:      proto.Uint32(uint32(session)),
		MaxBandwidth: proto.Uint32(s.Config.MaxBandwidth),
		WelcomeText:  proto.String("Hello Test user"),
		Permissions:  proto.Uint64(uint64(mumble.DefaultPermissions())),
	}, &control.ServerSync{}, Single(session), next())
	// Everyone else hears about the new user.
	wantMessage(t, &control.UserState{
		Session:   proto.Uint32(uint32(session)),
		Name:      proto.String("username"),
		ChannelID: proto.Uint32(0),
	}, &control.UserState{}, AllButOne(session), next())

	if len(s.Outbox) != 0 {
		t.Errorf("outbox should be empty, %d entries remain", len(s.Outbox))
	}
}

func bytesOf(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestUDPUnencryptedPing(t *testing.T) {
	s := newTestState(1)
	packet := voice.Encode(&voice.Ping{Timestamp: 1})
	addr := netip.MustParseAddrPort("127.0.0.1:8080")

	HandleMessage(s, UDPMessage{From: addr, Data: packet}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	got := s.Outbox[0]
	if !reflect.DeepEqual(got.Data, packet) {
		t.Errorf("data: got %v, want %v", got.Data, packet)
	}
	if !reflect.DeepEqual(got.Dest, DatagramDestination{Addr: addr}) {
		t.Errorf("dest: got %+v, want datagram to %s", got.Dest, addr)
	}
}

func TestUDPUnencryptedAudioDropped(t *testing.T) {
	s := newTestState(1)
	packet := voice.Encode(&voice.Audio{})
	addr := netip.MustParseAddrPort("127.0.0.1:8080")

	HandleMessage(s, UDPMessage{From: addr, Data: packet}, time.Now())

	if len(s.Outbox) != 0 {
		t.Errorf("outbox entries: got %d, want 0", len(s.Outbox))
	}
}

func TestUDPEncryptedBindsSession(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")

	// The advertised CryptSetup follows the version message.
	if len(s.Outbox) < 2 {
		t.Fatal("outbox missing handshake messages")
	}
	m := s.Outbox[1]
	typ, _, err := mumble.ParsePrefix(m.Data[:mumble.PrefixTotalSize])
	if err != nil || typ != mumble.TypeCryptSetup {
		t.Fatalf("second message: got %s (%v), want CryptSetup", typ, err)
	}
	var setup control.CryptSetup
	if err := setup.UnmarshalBody(m.Data[mumble.PrefixTotalSize:]); err != nil {
		t.Fatalf("unmarshal CryptSetup: %v", err)
	}
	s.Outbox = nil

	// The test crypter passes bytes through, so the "encrypted" packet is
	// the payload itself.
	packet := voice.Encode(&voice.Ping{Timestamp: 1})
	addr := netip.MustParseAddrPort("127.0.0.1:8080")

	HandleMessage(s, UDPMessage{From: addr, Data: packet}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	got := s.Outbox[0]
	if got.Kind != OutboxVoice {
		t.Errorf("kind: got %v, want OutboxVoice", got.Kind)
	}
	if !reflect.DeepEqual(got.Data, packet) {
		t.Errorf("data: got %v, want %v", got.Data, packet)
	}
	if !reflect.DeepEqual(got.Dest, SessionDestination{Single(session)}) {
		t.Errorf("dest: got %+v, want Single(%d)", got.Dest, session)
	}

	info := s.SessionInfo[session]
	want := UDPTransport(addr)
	if info.VoiceTransport != want {
		t.Errorf("transport: got %+v, want %+v", info.VoiceTransport, want)
	}
	if s.AddrToSession[addr] != session {
		t.Errorf("addr map: got %d, want %d", s.AddrToSession[addr], session)
	}
}

func TestChannelSwitch(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	root := core.RootChannel
	s.NewChannel(core.Channel{ID: 1, Name: "SubChannel", Description: "Description", Parent: &root})

	session := performHandshake(t, s, "username")
	s.Outbox = nil

	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf: mumble.NewMessageBuf(&control.UserState{
			Session:   proto.Uint32(uint32(session)),
			ChannelID: proto.Uint32(1),
		}),
	}, time.Now())

	if got := s.SessionInfo[session].User.Channel; got != 1 {
		t.Errorf("stored channel: got %d, want 1", got)
	}

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	wantMessage(t, &control.UserState{
		Session:   proto.Uint32(uint32(session)),
		Actor:     proto.Uint32(uint32(session)),
		ChannelID: proto.Uint32(1),
	}, &control.UserState{}, All(), s.Outbox[0])
}

func TestChannelSwitchToUnknownChannelIgnored(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")
	s.Outbox = nil

	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf: mumble.NewMessageBuf(&control.UserState{
			Session:   proto.Uint32(uint32(session)),
			ChannelID: proto.Uint32(42),
		}),
	}, time.Now())

	if got := s.SessionInfo[session].User.Channel; got != core.RootChannel {
		t.Errorf("stored channel: got %d, want root", got)
	}
	if len(s.Outbox) != 0 {
		t.Errorf("outbox entries: got %d, want 0", len(s.Outbox))
	}
}

func TestPingEcho(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")
	s.Outbox = nil

	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf: mumble.NewMessageBuf(&control.Ping{
			Good:      proto.Uint32(42),
			Timestamp: proto.Uint64(9),
		}),
	}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	wantMessage(t, &control.Ping{Good: proto.Uint32(42)}, &control.Ping{}, Single(session), s.Outbox[0])
}

func TestPermissionQuery(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")
	s.Outbox = nil

	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf: mumble.NewMessageBuf(&control.PermissionQuery{
			ChannelID: proto.Uint32(0),
		}),
	}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	wantMessage(t, &control.PermissionQuery{
		ChannelID:   proto.Uint32(0),
		Permissions: proto.Uint32(mumble.DefaultPermissions()),
	}, &control.PermissionQuery{}, Single(session), s.Outbox[0])
}

func TestTextMessageForwarded(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "alice")
	performHandshake(t, s, "bob")
	s.Outbox = nil

	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf: mumble.NewMessageBuf(&control.TextMessage{
			ChannelID: []uint32{0},
			Message:   "hello",
		}),
	}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	wantMessage(t, &control.TextMessage{
		Actor:     proto.Uint32(uint32(session)),
		ChannelID: []uint32{0},
		Message:   "hello",
	}, &control.TextMessage{}, AllButOne(session), s.Outbox[0])
}

func TestVoiceTunnelFanOut(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "alice")
	performHandshake(t, s, "bob")
	s.Outbox = nil

	audio := &voice.Audio{FrameNumber: 7, OpusData: []byte{1, 2, 3}}
	HandleMessage(s, MumbleMessage{
		Session: session,
		Buf:     mumble.MessageBuf{Type: mumble.TypeUDPTunnel, Data: mumble.EncodeUDPTunnel(voice.Encode(audio))},
	}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	got := s.Outbox[0]
	if got.Kind != OutboxVoice {
		t.Errorf("kind: got %v, want OutboxVoice", got.Kind)
	}
	if !reflect.DeepEqual(got.Dest, SessionDestination{AllButOne(session)}) {
		t.Errorf("dest: got %+v, want AllButOne(%d)", got.Dest, session)
	}

	pkt, err := voice.Decode(got.Data)
	if err != nil {
		t.Fatalf("decode forwarded audio: %v", err)
	}
	forwarded := pkt.(*voice.Audio)
	if forwarded.SenderSession != uint32(session) {
		t.Errorf("sender: got %d, want %d", forwarded.SenderSession, session)
	}
	if forwarded.FrameNumber != 7 {
		t.Errorf("frame number: got %d, want 7", forwarded.FrameNumber)
	}
}

func TestSessionDisconnect(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")
	s.Outbox = nil

	HandleMessage(s, SessionDisconnect{Session: session}, time.Now())

	if len(s.Outbox) != 1 {
		t.Fatalf("outbox entries: got %d, want 1", len(s.Outbox))
	}
	wantMessage(t, &control.UserRemove{
		Session: uint32(session),
	}, &control.UserRemove{}, AllButOne(session), s.Outbox[0])

	if _, ok := s.SessionInfo[session]; ok {
		t.Error("session info should be gone")
	}
	if _, ok := s.SessionHandshake[session]; ok {
		t.Error("handshake state should be gone")
	}
}

func TestDisconnectDuringHandshakeIsQuiet(t *testing.T) {
	s := newTestState(10)
	session, _ := s.NewSession()
	HandleMessage(s, SessionCreated{Session: session}, time.Now())
	s.Outbox = nil

	HandleMessage(s, SessionDisconnect{Session: session}, time.Now())

	if len(s.Outbox) != 0 {
		t.Errorf("outbox entries: got %d, want 0", len(s.Outbox))
	}
	if _, ok := s.SessionHandshake[session]; ok {
		t.Error("handshake state should be gone")
	}
}

// A session lives in exactly one of the handshake or info maps at any
// point of its lifecycle, and in neither after deletion.
func TestSessionInExactlyOneMap(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())

	session, _ := s.NewSession()
	now := time.Now()

	inBoth := func(stage string, wantHandshake, wantInfo bool) {
		t.Helper()
		_, hs := s.SessionHandshake[session]
		_, info := s.SessionInfo[session]
		if hs != wantHandshake || info != wantInfo {
			t.Errorf("%s: handshake=%v info=%v, want %v/%v", stage, hs, info, wantHandshake, wantInfo)
		}
	}

	HandleMessage(s, SessionCreated{Session: session}, now)
	inBoth("after create", true, false)

	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(ServerVersion())}, now)
	inBoth("after version", true, false)

	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("username"),
	})}, now)
	inBoth("after auth", false, true)

	HandleMessage(s, SessionDisconnect{Session: session}, now)
	inBoth("after disconnect", false, false)
}

// A handshake violation leaves the session stalled in its current state.
func TestHandshakeStallsOnUnexpectedMessage(t *testing.T) {
	s := newTestState(10)
	session, _ := s.NewSession()
	now := time.Now()

	HandleMessage(s, SessionCreated{Session: session}, now)
	s.Outbox = nil

	// Authenticate before Version is out of order.
	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("eager"),
	})}, now)

	if len(s.Outbox) != 0 {
		t.Errorf("outbox entries: got %d, want 0", len(s.Outbox))
	}
	hs, ok := s.SessionHandshake[session]
	if !ok {
		t.Fatal("session should still be in handshake")
	}
	if _, ok := hs.State.(handshake.ServerSentVersion); !ok {
		t.Fatalf("handshake state: got %T, want ServerSentVersion", hs.State)
	}

	// The correct sequence still completes afterwards.
	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(ServerVersion())}, now)
	HandleMessage(s, MumbleMessage{Session: session, Buf: mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("eager"),
	})}, now)
	if _, ok := s.SessionInfo[session]; !ok {
		t.Error("session should be connected after recovering")
	}
}

func TestTickDoesNotMutateState(t *testing.T) {
	s := newTestState(10)
	s.NewChannel(testChannel())
	session := performHandshake(t, s, "username")
	s.Outbox = nil

	before := len(s.SessionInfo)
	HandleMessage(s, Tick{}, time.Now())

	if len(s.Outbox) != 0 {
		t.Errorf("tick produced %d outbox entries", len(s.Outbox))
	}
	if len(s.SessionInfo) != before {
		t.Errorf("tick changed session count")
	}
	if _, ok := s.SessionInfo[session]; !ok {
		t.Errorf("tick removed a session")
	}
}
