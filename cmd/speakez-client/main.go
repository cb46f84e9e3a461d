// Command speakez-client is a line-oriented protocol client: it connects,
// completes the handshake, prints server events, and sends chat or channel
// switches from stdin.
package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhamlin/speakez/internal/client"
	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/mumble/voice"
)

func main() {
	addr := flag.String("addr", "localhost:64738", "server control address")
	udpAddr := flag.String("udp-addr", "", "server voice address (defaults to -addr)")
	username := flag.String("username", "user", "username to authenticate as")
	password := flag.String("password", "", "server password")
	insecure := flag.Bool("insecure", true, "skip TLS certificate verification (self-signed servers)")
	flag.Parse()

	tlsConfig := &tls.Config{InsecureSkipVerify: *insecure}

	conn, state, setup, err := client.Connect(*addr, tlsConfig, *username, *password)
	if err != nil {
		log.Fatalf("[client] %v", err)
	}
	defer conn.Close()

	self, _ := state.Self()
	log.Printf("[client] connected as %q, session %d", self.Name, self.Session)
	for _, c := range state.Channels {
		log.Printf("[client] channel %d: %s", c.ID, c.Name)
	}
	for _, u := range state.Users {
		log.Printf("[client] user %d: %s (channel %d)", u.Session, u.Name, u.Channel)
	}

	// Establish the voice path: an encrypted ping binds this client's
	// address on the server.
	voiceAddr := *udpAddr
	if voiceAddr == "" {
		voiceAddr = *addr
	}
	vc, err := client.DialVoice(voiceAddr, setup)
	if err != nil {
		log.Printf("[voice] udp unavailable, tunneling over the stream: %v", err)
		if err := conn.WriteVoice(&voice.Ping{Timestamp: uint64(time.Now().UnixMilli())}); err != nil {
			log.Printf("[voice] tunnel ping: %v", err)
		}
	} else {
		defer vc.Close()
		go vc.ReadLoop(func(p voice.Packet) {
			if ping, ok := p.(*voice.Ping); ok {
				log.Printf("[voice] pong ts=%d", ping.Timestamp)
			}
		})
		if err := vc.Send(&voice.Ping{Timestamp: uint64(time.Now().UnixMilli())}); err != nil {
			log.Printf("[voice] ping: %v", err)
		}
	}

	// The reader goroutine updates the state and the stdin loop reads it;
	// mu guards both.
	var mu sync.Mutex

	go func() {
		for {
			m, err := conn.ReadMessage()
			if err != nil {
				log.Printf("[client] disconnected: %v", err)
				os.Exit(0)
			}
			mu.Lock()
			client.HandleMessage(state, m)
			events := state.DrainOutbox()
			mu.Unlock()
			for _, e := range events {
				printEvent(e)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/join "):
			id, err := strconv.ParseUint(strings.TrimPrefix(line, "/join "), 10, 32)
			if err != nil {
				fmt.Println("usage: /join <channel-id>")
				continue
			}
			mu.Lock()
			self, _ := state.Self()
			frame := client.SwitchChannel(self.Session, self.Channel, core.ChannelID(id))
			mu.Unlock()
			if err := conn.WriteFrame(frame); err != nil {
				log.Fatalf("[client] %v", err)
			}
		default:
			mu.Lock()
			self, _ := state.Self()
			msg := client.TextMessageTo(self.Session, []core.ChannelID{self.Channel}, line)
			mu.Unlock()
			if err := conn.WriteMessage(msg); err != nil {
				log.Fatalf("[client] %v", err)
			}
		}
	}
}

func printEvent(e core.Event) {
	switch e := e.(type) {
	case core.UserJoinedServer:
		log.Printf("[event] %s joined (session %d)", e.Name, e.User)
	case core.UserRemoved:
		log.Printf("[event] session %d left", e.User)
	case core.UserSwitchedChannel:
		log.Printf("[event] session %d moved %d -> %d", e.User, e.FromChannel, e.ToChannel)
	case core.UserSentMessage:
		log.Printf("[chat] session %d: %s", e.User, e.Message)
	case core.UserSentAudio:
		// Audio frames are opaque here; a real frontend would decode.
	}
}
