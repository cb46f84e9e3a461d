package handshake

import (
	"testing"

	"google.golang.org/protobuf/proto"

	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
)

func versionMessage() mumble.MessageBuf {
	v := mumble.NewVersion(1, 5, 0)
	return mumble.NewMessageBuf(&control.Version{
		OS:        proto.String("testOS"),
		Release:   proto.String(v.String()),
		VersionV2: proto.Uint64(v.ToU64()),
	})
}

func TestClientHandshake(t *testing.T) {
	var s ClientState = ClientConnected{}

	s, err := HandleClient(s, versionMessage())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	sv, ok := s.(ClientServerVersion)
	if !ok {
		t.Fatalf("got %T, want ClientServerVersion", s)
	}
	if sv.Version.String() != "1.5.0" {
		t.Errorf("version: got %s, want 1.5.0", sv.Version)
	}

	// The driver flips to SentAuthenticate when it submits credentials.
	s = ClientSentAuthenticate{}

	// A late server Version is tolerated.
	s, err = HandleClient(s, versionMessage())
	if err != nil {
		t.Fatalf("late version: %v", err)
	}
	if _, ok := s.(ClientSentAuthenticate); !ok {
		t.Fatalf("got %T, want ClientSentAuthenticate", s)
	}

	s, err = HandleClient(s, mumble.NewMessageBuf(&control.CryptSetup{
		Key: make([]byte, 16),
	}))
	if err != nil {
		t.Fatalf("crypt setup: %v", err)
	}
	if _, ok := s.(ClientStateSync); !ok {
		t.Fatalf("got %T, want ClientStateSync", s)
	}

	s, err = HandleClient(s, mumble.NewMessageBuf(&control.ChannelState{
		ChannelID: proto.Uint32(0),
		Name:      proto.String("TestChannel"),
	}))
	if err != nil {
		t.Fatalf("channel state: %v", err)
	}
	s, err = HandleClient(s, mumble.NewMessageBuf(&control.UserState{
		Session: proto.Uint32(1),
		Name:    proto.String("username"),
	}))
	if err != nil {
		t.Fatalf("user state: %v", err)
	}

	sync, ok := s.(ClientStateSync)
	if !ok {
		t.Fatalf("got %T, want ClientStateSync", s)
	}
	if len(sync.Channels) != 1 || len(sync.Users) != 1 {
		t.Fatalf("accumulated %d channels, %d users, want 1 and 1", len(sync.Channels), len(sync.Users))
	}

	s, err = HandleClient(s, mumble.NewMessageBuf(&control.ServerSync{
		Session: proto.Uint32(1),
	}))
	if err != nil {
		t.Fatalf("server sync: %v", err)
	}
	done, ok := s.(ClientDone)
	if !ok {
		t.Fatalf("got %T, want ClientDone", s)
	}
	if done.Sync.GetSession() != 1 {
		t.Errorf("session: got %d, want 1", done.Sync.GetSession())
	}
}

func TestClientHandshakeUnexpectedMessage(t *testing.T) {
	s := ClientState(ClientConnected{})
	next, err := HandleClient(s, mumble.NewMessageBuf(&control.TextMessage{Message: "hi"}))
	if err == nil {
		t.Fatal("expected error for TextMessage in Connected state")
	}
	if _, ok := next.(ClientConnected); !ok {
		t.Errorf("state should be unchanged, got %T", next)
	}
}

func TestServerHandshake(t *testing.T) {
	var s ServerState = ServerSentVersion{}

	s, err := HandleServer(s, versionMessage())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	cv, ok := s.(ServerClientVersion)
	if !ok {
		t.Fatalf("got %T, want ServerClientVersion", s)
	}
	if cv.Version.Major() != 1 {
		t.Errorf("major: got %d, want 1", cv.Version.Major())
	}

	s, err = HandleServer(s, mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("username"),
		Password: proto.String("password"),
	}))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	auth, ok := s.(ServerAuthenticate)
	if !ok {
		t.Fatalf("got %T, want ServerAuthenticate", s)
	}
	if auth.Auth.Username != "username" || auth.Auth.Password != "password" {
		t.Errorf("credentials: got %+v", auth.Auth)
	}
}

func TestServerHandshakeMissingPassword(t *testing.T) {
	s := ServerState(ServerClientVersion{})
	next, err := HandleServer(s, mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("username"),
	}))
	if err != nil {
		t.Fatalf("authenticate without password: %v", err)
	}
	auth := next.(ServerAuthenticate)
	if auth.Auth.Password != "" {
		t.Errorf("password: got %q, want empty", auth.Auth.Password)
	}
}

func TestServerHandshakeOutOfOrder(t *testing.T) {
	s := ServerState(ServerSentVersion{})
	next, err := HandleServer(s, mumble.NewMessageBuf(&control.Authenticate{
		Username: proto.String("early"),
	}))
	if err == nil {
		t.Fatal("expected error for Authenticate before Version")
	}
	if _, ok := next.(ServerSentVersion); !ok {
		t.Errorf("state should be unchanged, got %T", next)
	}
}
