// Package transport contains the server transport adapters: the reducer
// loop, the TLS stream listener, the UDP socket, and the ticker. Adapters
// translate bytes into typed reducer inputs and drain the outbox back into
// bytes; all state mutation stays inside the reducer goroutine.
package transport

import (
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/server"
)

// Datagram is one UDP send: bytes already in their final form.
type Datagram struct {
	Data []byte
	Addr netip.AddrPort
}

// ActorMessage is one item on the reducer's input queue.
type ActorMessage struct {
	// CreateSession, when set, allocates a session for a new connection
	// and registers its outbound mailbox. Reply receives the session, or 0
	// when the pool is exhausted.
	CreateSession *CreateSession
	// Input is a reducer input; ignored when CreateSession is set.
	Input server.Message
}

// CreateSession carries a new connection's mailbox and reply channel.
type CreateSession struct {
	Mailbox chan []byte
	Reply   chan mumble.Session
}

// cryptStats is implemented by crypters that track packet statistics.
type cryptStats interface {
	Good() uint32
	Late() uint32
	Lost() uint32
}

// SessionSnapshot is one session's state as published for observers.
type SessionSnapshot struct {
	Session   mumble.Session `json:"session"`
	Name      string         `json:"name"`
	Channel   core.ChannelID `json:"channel"`
	Transport string         `json:"transport"`
	Good      uint32         `json:"good"`
	Late      uint32         `json:"late"`
	Lost      uint32         `json:"lost"`
}

// Snapshot is a read-only copy of the observable server state, published by
// the reducer loop after every input. HTTP handlers and metrics read it
// without touching State.
type Snapshot struct {
	TakenAt           time.Time         `json:"taken_at"`
	MaxUsers          int               `json:"max_users"`
	PendingHandshakes int               `json:"pending_handshakes"`
	Sessions          []SessionSnapshot `json:"sessions"`
	Channels          []core.Channel    `json:"channels"`
}

// Loop owns the server state and runs the reducer single-threaded over a
// bounded input queue.
type Loop struct {
	state     *server.State
	inputs    chan ActorMessage
	udpOut    chan Datagram
	mailboxes map[mumble.Session]chan []byte
	snapshot  atomic.Pointer[Snapshot]
}

// NewLoop wires a reducer loop around state. queueSize bounds the input
// queue; udpOut is drained by the UDP writer.
func NewLoop(state *server.State, queueSize int, udpOut chan Datagram) *Loop {
	l := &Loop{
		state:     state,
		inputs:    make(chan ActorMessage, queueSize),
		udpOut:    udpOut,
		mailboxes: make(map[mumble.Session]chan []byte),
	}
	l.publish()
	return l
}

// Inputs is the queue transport adapters feed.
func (l *Loop) Inputs() chan<- ActorMessage { return l.inputs }

// Close stops the loop after the queue drains.
func (l *Loop) Close() { close(l.inputs) }

// Snapshot returns the most recently published state snapshot.
func (l *Loop) Snapshot() *Snapshot { return l.snapshot.Load() }

// Run consumes inputs until the queue closes. It is the only goroutine
// that touches the state.
func (l *Loop) Run() {
	for msg := range l.inputs {
		var input server.Message

		if cs := msg.CreateSession; cs != nil {
			session, ok := l.state.NewSession()
			if !ok {
				// Pool exhausted: reject by never entering handshake.
				slog.Warn("session pool exhausted, rejecting connection")
				cs.Reply <- 0
				continue
			}
			cs.Reply <- session
			l.mailboxes[session] = cs.Mailbox
			input = server.SessionCreated{Session: session}
		} else {
			input = msg.Input
		}

		server.HandleMessage(l.state, input, time.Now())
		l.flushOutbox()
		l.publish()
	}
}

// flushOutbox delivers outbox entries until none remain. Sessions whose
// mailbox is full are evicted, which can itself produce more outbox
// entries.
func (l *Loop) flushOutbox() {
	for len(l.state.Outbox) > 0 {
		msgs := l.state.Outbox
		l.state.Outbox = nil

		var evict []mumble.Session
		for _, m := range msgs {
			evict = append(evict, l.deliver(m)...)
		}
		for _, session := range evict {
			delete(l.mailboxes, session)
			server.HandleMessage(l.state, server.SessionDisconnect{Session: session}, time.Now())
		}
	}
}

// deliver routes one outbox entry and returns any sessions to evict.
func (l *Loop) deliver(m server.OutboxMessage) []mumble.Session {
	switch dest := m.Dest.(type) {
	case server.DatagramDestination:
		// Sent unencrypted when addressed to a socket address rather than
		// a session.
		l.sendDatagram(Datagram{Data: m.Data, Addr: dest.Addr})
		return nil

	case server.SessionDestination:
		var evict []mumble.Session
		for session, mailbox := range l.mailboxes {
			if !dest.Contains(session) {
				continue
			}
			if !l.deliverToSession(session, mailbox, m) {
				evict = append(evict, session)
			}
		}
		return evict
	}
	return nil
}

// deliverToSession sends one entry to one recipient, wrapping or
// encrypting voice per the recipient's transport. It reports false when
// the session's mailbox is full.
func (l *Loop) deliverToSession(session mumble.Session, mailbox chan []byte, m server.OutboxMessage) bool {
	switch m.Kind {
	case server.OutboxControl:
		return trySend(mailbox, m.Data)

	case server.OutboxVoice:
		info, ok := l.state.SessionInfo[session]
		if !ok {
			// Still in handshake; voice is not for them yet.
			return true
		}
		switch info.VoiceTransport.Kind {
		case server.VoiceOverTCP:
			return trySend(mailbox, mumble.EncodeUDPTunnel(m.Data))
		case server.VoiceOverUDP:
			buf := make([]byte, 4+len(m.Data))
			copy(buf[4:], m.Data)
			info.VoiceCrypter.Encrypt(buf)
			l.sendDatagram(Datagram{Data: buf, Addr: info.VoiceTransport.Addr})
			return true
		}
	}
	return true
}

// trySend enqueues without blocking; a full mailbox means the session is
// too slow and gets evicted.
func trySend(mailbox chan []byte, data []byte) bool {
	select {
	case mailbox <- data:
		return true
	default:
		return false
	}
}

// sendDatagram enqueues a UDP send without blocking the reducer. Voice is
// loss-tolerant, so a full queue drops the datagram.
func (l *Loop) sendDatagram(d Datagram) {
	select {
	case l.udpOut <- d:
	default:
		slog.Debug("udp send queue full, dropping datagram", "addr", d.Addr)
	}
}

// publish refreshes the observer snapshot.
func (l *Loop) publish() {
	snap := &Snapshot{
		TakenAt:           time.Now(),
		MaxUsers:          l.state.Config.MaxUsers,
		PendingHandshakes: len(l.state.SessionHandshake),
		Channels:          append([]core.Channel(nil), l.state.Channels()...),
	}
	for session, info := range l.state.SessionInfo {
		entry := SessionSnapshot{
			Session:   session,
			Name:      info.User.Name,
			Channel:   info.User.Channel,
			Transport: "tcp",
		}
		if info.VoiceTransport.Kind == server.VoiceOverUDP {
			entry.Transport = "udp"
		}
		if stats, ok := info.VoiceCrypter.(cryptStats); ok {
			entry.Good = stats.Good()
			entry.Late = stats.Late()
			entry.Lost = stats.Lost()
		}
		snap.Sessions = append(snap.Sessions, entry)
	}
	l.snapshot.Store(snap)
}
