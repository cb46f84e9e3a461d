package transport

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/server"
)

// markCrypter marks encrypted buffers so tests can tell the adapter ran
// the recipient's crypter.
type markCrypter struct{}

func (markCrypter) Encrypt(buf []byte) {
	buf[0], buf[1], buf[2], buf[3] = 0xDE, 0xAD, 0xBE, 0xEF
}

func (markCrypter) Decrypt(buf []byte) ([]byte, error) { return buf, nil }

func (markCrypter) CryptSetup() server.CryptMaterial {
	return server.CryptMaterial{
		Key:         make([]byte, 16),
		ClientNonce: make([]byte, 16),
		ServerNonce: make([]byte, 16),
	}
}

func newLoopUnderTest(t *testing.T) (*Loop, *server.State, chan Datagram) {
	t.Helper()
	state := server.NewState(10, func() server.VoiceCrypter { return markCrypter{} })
	state.NewChannel(core.NewChannel(core.RootChannel, "TestChannel", "Description"))
	udpOut := make(chan Datagram, 16)
	return NewLoop(state, 16, udpOut), state, udpOut
}

func addConnected(state *server.State, session mumble.Session, vt server.VoiceTransport) {
	state.SessionInfo[session] = &server.SessionInfo{
		VoiceTransport: vt,
		VoiceCrypter:   markCrypter{},
		User:           core.User{Name: "user", Session: session, Channel: core.RootChannel},
	}
}

func TestDeliverControlSingle(t *testing.T) {
	l, state, _ := newLoopUnderTest(t)
	addConnected(state, 1, server.TCPTransport())
	addConnected(state, 2, server.TCPTransport())
	l.mailboxes[1] = make(chan []byte, 4)
	l.mailboxes[2] = make(chan []byte, 4)

	frame := mumble.EncodeMessage(server.ServerVersion())
	evict := l.deliver(server.OutboxMessage{
		Kind: server.OutboxControl,
		Data: frame,
		Dest: server.SessionDestination{Destination: server.Single(1)},
	})
	if len(evict) != 0 {
		t.Fatalf("evictions: got %v", evict)
	}

	select {
	case got := <-l.mailboxes[1]:
		if !bytes.Equal(got, frame) {
			t.Errorf("mailbox 1: got %v, want frame", got)
		}
	default:
		t.Fatal("mailbox 1 empty")
	}
	select {
	case got := <-l.mailboxes[2]:
		t.Fatalf("mailbox 2 should be empty, got %v", got)
	default:
	}
}

func TestDeliverVoicePerRecipientTransport(t *testing.T) {
	l, state, udpOut := newLoopUnderTest(t)
	addr := netip.MustParseAddrPort("127.0.0.1:9000")
	addConnected(state, 1, server.TCPTransport())
	addConnected(state, 2, server.UDPTransport(addr))
	addConnected(state, 3, server.TCPTransport())
	l.mailboxes[1] = make(chan []byte, 4)
	l.mailboxes[2] = make(chan []byte, 4)
	l.mailboxes[3] = make(chan []byte, 4)

	payload := []byte{0x00, 0x11, 0x22}
	l.deliver(server.OutboxMessage{
		Kind: server.OutboxVoice,
		Data: payload,
		Dest: server.SessionDestination{Destination: server.AllButOne(3)},
	})

	// TCP recipient: payload wrapped in a UDPTunnel stream frame.
	select {
	case got := <-l.mailboxes[1]:
		want := mumble.EncodeUDPTunnel(payload)
		if !bytes.Equal(got, want) {
			t.Errorf("tunnel frame: got %v, want %v", got, want)
		}
	default:
		t.Fatal("mailbox 1 empty")
	}

	// UDP recipient: header reserved, recipient's crypter applied, sent to
	// the bound address.
	select {
	case d := <-udpOut:
		if d.Addr != addr {
			t.Errorf("datagram addr: got %s, want %s", d.Addr, addr)
		}
		if !bytes.Equal(d.Data[:4], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
			t.Errorf("datagram not encrypted: %v", d.Data)
		}
		if !bytes.Equal(d.Data[4:], payload) {
			t.Errorf("datagram body: got %v, want %v", d.Data[4:], payload)
		}
	default:
		t.Fatal("no datagram sent")
	}

	// The speaker hears nothing back.
	select {
	case got := <-l.mailboxes[3]:
		t.Fatalf("speaker mailbox should be empty, got %v", got)
	default:
	}
}

func TestDeliverRawDatagram(t *testing.T) {
	l, _, udpOut := newLoopUnderTest(t)
	addr := netip.MustParseAddrPort("127.0.0.1:8080")
	data := []byte{1, 2, 3}

	l.deliver(server.OutboxMessage{
		Kind: server.OutboxVoice,
		Data: data,
		Dest: server.DatagramDestination{Addr: addr},
	})

	select {
	case d := <-udpOut:
		// Raw address sends go out unencrypted and untouched.
		if !bytes.Equal(d.Data, data) || d.Addr != addr {
			t.Errorf("got %v to %s", d.Data, d.Addr)
		}
	default:
		t.Fatal("no datagram sent")
	}
}

func TestFullMailboxEvictsSession(t *testing.T) {
	l, state, _ := newLoopUnderTest(t)
	addConnected(state, 1, server.TCPTransport())
	addConnected(state, 2, server.TCPTransport())
	l.mailboxes[1] = make(chan []byte) // unbuffered: always full
	l.mailboxes[2] = make(chan []byte, 8)

	state.PushMessage(server.ServerVersion(), server.All())
	l.flushOutbox()

	if _, ok := l.mailboxes[1]; ok {
		t.Error("slow session should have lost its mailbox")
	}
	if _, ok := state.SessionInfo[mumble.Session(1)]; ok {
		t.Error("slow session should be disconnected")
	}
	if _, ok := state.SessionInfo[mumble.Session(2)]; !ok {
		t.Error("healthy session should survive")
	}

	// Session 2 got the original frame and then the UserRemove broadcast.
	if got := len(l.mailboxes[2]); got != 2 {
		t.Errorf("mailbox 2 frames: got %d, want 2", got)
	}
}

func TestLoopRunCreateSession(t *testing.T) {
	l, _, _ := newLoopUnderTest(t)
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	mailbox := make(chan []byte, 4)
	reply := make(chan mumble.Session, 1)
	l.Inputs() <- ActorMessage{CreateSession: &CreateSession{Mailbox: mailbox, Reply: reply}}

	session := <-reply
	if !session.Valid() {
		t.Fatal("no session allocated")
	}

	select {
	case frame := <-mailbox:
		typ, _, err := mumble.ParsePrefix(frame[:mumble.PrefixTotalSize])
		if err != nil || typ != mumble.TypeVersion {
			t.Errorf("first frame: got %s (%v), want Version", typ, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no version frame delivered")
	}

	l.Close()
	<-done

	snap := l.Snapshot()
	if snap == nil || snap.PendingHandshakes != 1 {
		t.Errorf("snapshot: got %+v, want 1 pending handshake", snap)
	}
}

func TestLoopRejectsWhenPoolExhausted(t *testing.T) {
	state := server.NewState(1, func() server.VoiceCrypter { return markCrypter{} })
	l := NewLoop(state, 16, make(chan Datagram, 4))
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	first := make(chan mumble.Session, 1)
	l.Inputs() <- ActorMessage{CreateSession: &CreateSession{Mailbox: make(chan []byte, 4), Reply: first}}
	if s := <-first; !s.Valid() {
		t.Fatal("first session should be allocated")
	}

	second := make(chan mumble.Session, 1)
	l.Inputs() <- ActorMessage{CreateSession: &CreateSession{Mailbox: make(chan []byte, 4), Reply: second}}
	if s := <-second; s.Valid() {
		t.Fatalf("second session should be rejected, got %d", s)
	}

	l.Close()
	<-done
}
