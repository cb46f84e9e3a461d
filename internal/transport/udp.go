package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/zhamlin/speakez/internal/mumble/voice"
	"github.com/zhamlin/speakez/internal/server"
)

// UDPListener owns the voice socket: it reads datagrams into the reducer
// and drains the outbound datagram queue.
type UDPListener struct {
	Conn   *net.UDPConn
	Inputs chan<- ActorMessage
	Out    <-chan Datagram
}

// Run reads and writes until the context is cancelled.
func (l *UDPListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Conn.Close()
	}()

	go func() {
		for {
			select {
			case d := <-l.Out:
				if _, err := l.Conn.WriteToUDPAddrPort(d.Data, d.Addr); err != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Debug("udp write failed", "addr", d.Addr, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	buf := make([]byte, voice.MaxUDPPacketSize)
	for {
		n, from, err := l.Conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		msg := server.UDPMessage{From: from, Data: data}
		select {
		case l.Inputs <- ActorMessage{Input: msg}:
		case <-ctx.Done():
			return nil
		}
	}
}
