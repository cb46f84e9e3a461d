package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/server"
)

const (
	// mailboxSize bounds each connection's outbound queue.
	mailboxSize = 20
	// readPollTimeout keeps shutdown checks prompt while blocked on a
	// read.
	readPollTimeout = 5 * time.Millisecond
)

// BanChecker is consulted before a connection enters the handshake.
type BanChecker interface {
	IsBanned(ip netip.Addr) (bool, error)
}

// StreamListener accepts TLS control connections and runs one handler per
// connection.
type StreamListener struct {
	Listener net.Listener
	Inputs   chan<- ActorMessage

	// Bans, when set, rejects banned addresses at accept time.
	Bans BanChecker
	// MessageRate caps control messages per second per connection;
	// 0 means unlimited.
	MessageRate int
}

// Run accepts connections until the context is cancelled.
func (l *StreamListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Listener.Close()
	}()

	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if l.rejectBanned(conn) {
			continue
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *StreamListener) rejectBanned(conn net.Conn) bool {
	if l.Bans == nil {
		return false
	}
	addr, ok := remoteAddrPort(conn)
	if !ok {
		return false
	}
	banned, err := l.Bans.IsBanned(addr.Addr())
	if err != nil {
		slog.Error("ban lookup failed", "addr", addr, "err", err)
		return false
	}
	if banned {
		slog.Info("rejecting banned address", "addr", addr)
		conn.Close()
		return true
	}
	return false
}

func remoteAddrPort(conn net.Conn) (netip.AddrPort, bool) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return tcp.AddrPort(), true
}

// handleConn runs one connection: it allocates a session, then reads
// frames into the reducer while a second goroutine drains the session
// mailbox into the socket. Any I/O error tears the session down.
func (l *StreamListener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	mailbox := make(chan []byte, mailboxSize)
	reply := make(chan mumble.Session, 1)
	select {
	case l.Inputs <- ActorMessage{CreateSession: &CreateSession{Mailbox: mailbox, Reply: reply}}:
	case <-ctx.Done():
		return
	}

	var session mumble.Session
	select {
	case session = <-reply:
	case <-ctx.Done():
		return
	}
	if !session.Valid() {
		// Pool exhausted; the reducer never saw this connection.
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			select {
			case data := <-mailbox:
				if _, err := conn.Write(data); err != nil {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	err := l.readLoop(connCtx, conn, session)
	cancel()

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		// Server shutdown; no disconnect input, the whole state goes away.
		return
	}
	slog.Debug("connection closed", "session", session, "err", err)
	l.Inputs <- ActorMessage{Input: server.SessionDisconnect{Session: session}}
}

// readLoop block-reads exactly one prefix and body per frame and forwards
// each to the reducer.
func (l *StreamListener) readLoop(ctx context.Context, conn net.Conn, session mumble.Session) error {
	var limiter *rate.Limiter
	if l.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(l.MessageRate), l.MessageRate)
	}

	prefix := make([]byte, mumble.PrefixTotalSize)
	for {
		if err := readFullDeadline(ctx, conn, prefix); err != nil {
			return err
		}
		typ, size, err := mumble.ParsePrefix(prefix)
		if err != nil {
			return err
		}
		if size > mumble.MaxMessageSize {
			return fmt.Errorf("frame body of %d bytes exceeds limit", size)
		}

		data := make([]byte, mumble.PrefixTotalSize+size)
		copy(data, prefix)
		if err := readFullDeadline(ctx, conn, data[mumble.PrefixTotalSize:]); err != nil {
			return err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		msg := server.MumbleMessage{
			Session: session,
			Buf:     mumble.MessageBuf{Type: typ, Data: data},
		}
		select {
		case l.Inputs <- ActorMessage{Input: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readFullDeadline fills buf, polling the context between short read
// deadlines so shutdown is prompt.
func readFullDeadline(ctx context.Context, conn net.Conn, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readPollTimeout))
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && read < len(buf) {
				continue
			}
			return err
		}
	}
	return nil
}
