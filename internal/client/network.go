package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/zhamlin/speakez/internal/crypt"
	"github.com/zhamlin/speakez/internal/mumble"
	"github.com/zhamlin/speakez/internal/mumble/control"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

const connectTimeout = 200 * time.Millisecond

// ControlConn is the TLS control stream: exact-framed reads, flushed
// writes.
type ControlConn struct {
	conn *tls.Conn
	buf  []byte
}

// DialControl opens the control stream.
func DialControl(addr string, cfg *tls.Config) (*ControlConn, error) {
	raw, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn := tls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return &ControlConn{conn: conn, buf: make([]byte, 4096)}, nil
}

// ReadMessage block-reads exactly one frame: 6 prefix bytes, then the
// declared body.
func (c *ControlConn) ReadMessage() (mumble.MessageBuf, error) {
	prefix := c.buf[:mumble.PrefixTotalSize]
	if _, err := readFull(c.conn, prefix); err != nil {
		return mumble.MessageBuf{}, err
	}
	typ, size, err := mumble.ParsePrefix(prefix)
	if err != nil {
		return mumble.MessageBuf{}, err
	}
	if size > mumble.MaxMessageSize {
		return mumble.MessageBuf{}, fmt.Errorf("frame body of %d bytes exceeds limit", size)
	}

	total := mumble.PrefixTotalSize + size
	if total > len(c.buf) {
		grown := make([]byte, total)
		copy(grown, prefix)
		c.buf = grown
	}
	if _, err := readFull(c.conn, c.buf[mumble.PrefixTotalSize:total]); err != nil {
		return mumble.MessageBuf{}, err
	}

	data := make([]byte, total)
	copy(data, c.buf[:total])
	return mumble.MessageBuf{Type: typ, Data: data}, nil
}

// WriteFrame writes one already-framed message atomically.
func (c *ControlConn) WriteFrame(data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteMessage frames and writes a control message.
func (c *ControlConn) WriteMessage(m mumble.Message) error {
	return c.WriteFrame(mumble.EncodeMessage(m))
}

// WriteVoice tunnels a voice payload over the stream in a UDPTunnel frame,
// for use until (or instead of) a datagram path is established.
func (c *ControlConn) WriteVoice(p voice.Packet) error {
	return c.WriteFrame(mumble.EncodeUDPTunnel(voice.Encode(p)))
}

func (c *ControlConn) Close() error { return c.conn.Close() }

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// VoiceConn is the datagram voice path: an OCB2 context over one UDP
// socket.
type VoiceConn struct {
	conn  *net.UDPConn
	crypt *crypt.CryptState
}

// DialVoice opens the voice socket and derives the crypt context from the
// server's CryptSetup. The client's encrypt counter is the server's client
// nonce; its decrypt counter is the server nonce.
func DialVoice(addr string, setup *control.CryptSetup) (*VoiceConn, error) {
	if len(setup.Key) != crypt.KeySize ||
		len(setup.ClientNonce) != crypt.BlockSize ||
		len(setup.ServerNonce) != crypt.BlockSize {
		return nil, fmt.Errorf("crypt setup material has wrong sizes")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}

	var key, encryptNonce, decryptNonce [crypt.KeySize]byte
	copy(key[:], setup.Key)
	copy(encryptNonce[:], setup.ClientNonce)
	copy(decryptNonce[:], setup.ServerNonce)

	return &VoiceConn{
		conn:  conn,
		crypt: crypt.NewFrom(key, encryptNonce, decryptNonce),
	}, nil
}

// Send encrypts and transmits one voice payload.
func (v *VoiceConn) Send(p voice.Packet) error {
	payload := voice.Encode(p)
	buf := make([]byte, crypt.HeaderSize+len(payload))
	copy(buf[crypt.HeaderSize:], payload)
	v.crypt.Encrypt(buf)

	if _, err := v.conn.Write(buf); err != nil {
		return fmt.Errorf("send voice packet: %w", err)
	}
	return nil
}

// ReadLoop reads datagrams until the socket closes, decrypting each and
// handing the payload to recv. Crypto failures drop the datagram and keep
// reading.
func (v *VoiceConn) ReadLoop(recv func(voice.Packet)) {
	buf := make([]byte, voice.MaxUDPPacketSize)
	for {
		n, err := v.conn.Read(buf)
		if err != nil {
			return
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		body, err := v.crypt.Decrypt(pkt)
		if err != nil {
			slog.Debug("dropping voice datagram", "err", err)
			continue
		}
		p, err := voice.Decode(body)
		if err != nil {
			slog.Debug("dropping undecodable voice datagram", "err", err)
			continue
		}
		recv(p)
	}
}

func (v *VoiceConn) Close() error { return v.conn.Close() }

// Connect dials the server, performs the full handshake with the given
// credentials, and returns the control stream, the connected state, and
// the crypt material for the voice path.
func Connect(addr string, cfg *tls.Config, username, password string) (*ControlConn, *State, *control.CryptSetup, error) {
	conn, err := DialControl(addr, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	fail := func(err error) (*ControlConn, *State, *control.CryptSetup, error) {
		conn.Close()
		return nil, nil, nil, err
	}

	if err := conn.WriteMessage(ClientVersion()); err != nil {
		return fail(err)
	}
	if err := conn.WriteMessage(AuthenticateMessage(username, password)); err != nil {
		return fail(err)
	}

	hs := NewHandshake()
	hs.SentAuthenticate()
	for {
		m, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("handshake read: %w", err))
		}
		state, setup, err := hs.HandleMessage(m)
		if err != nil {
			return fail(fmt.Errorf("handshake: %w", err))
		}
		if state != nil {
			return conn, state, setup, nil
		}
	}
}
