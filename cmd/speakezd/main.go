// Command speakezd is the voice-chat server daemon: a TLS control listener
// and a UDP voice socket in front of the single-threaded reducer, plus an
// HTTP API for observation and ban management.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zhamlin/speakez/internal/core"
	"github.com/zhamlin/speakez/internal/crypt"
	"github.com/zhamlin/speakez/internal/httpapi"
	"github.com/zhamlin/speakez/internal/server"
	"github.com/zhamlin/speakez/internal/store"
	"github.com/zhamlin/speakez/internal/transport"
)

func main() {
	addr := flag.String("addr", ":64738", "TLS control listen address")
	udpAddr := flag.String("udp-addr", ":64738", "UDP voice listen address")
	apiAddr := flag.String("api-addr", ":8080", "HTTP API listen address (empty to disable)")
	dbPath := flag.String("db", "speakez.db", "SQLite database path")
	maxUsers := flag.Int("max-users", 100, "maximum concurrent sessions")
	welcomeText := flag.String("welcome-text", "Hello Test user", "welcome text sent in ServerSync")
	rateLimit := flag.Int("rate-limit", 50, "maximum control messages per second per connection (0 = unlimited)")
	certFile := flag.String("cert", "", "TLS certificate PEM file (empty for self-signed)")
	keyFile := flag.String("key", "", "TLS key PEM file")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	tickInterval := flag.Duration("tick-interval", transport.DefaultTickInterval, "reducer tick cadence")
	flag.Parse()

	// Open persistent store; the ban list and settings live here.
	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	// A stored welcome text wins over the flag default; the flag value is
	// persisted on first run.
	welcome := *welcomeText
	if stored, ok, err := st.GetSetting("welcome_text"); err == nil && ok {
		welcome = stored
	} else if err == nil {
		if err := st.SetSetting("welcome_text", welcome); err != nil {
			log.Printf("[store] persist welcome text: %v", err)
		}
	}

	tlsConfig, err := buildTLSConfig(*certFile, *keyFile, *certValidity, *addr)
	if err != nil {
		log.Fatalf("[tls] %v", err)
	}

	newCrypter := func() server.VoiceCrypter {
		cs, err := crypt.Generate()
		if err != nil {
			log.Fatalf("[crypt] %v", err)
		}
		return cs
	}

	state := server.NewState(*maxUsers, newCrypter)
	state.Config.WelcomeText = welcome
	seedChannels(state)

	udpOut := make(chan transport.Datagram, 256)
	loop := transport.NewLoop(state, 100, udpOut)

	loopDone := make(chan struct{})
	go func() {
		loop.Run()
		close(loopDone)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcpListener, err := tls.Listen("tcp", *addr, tlsConfig)
	if err != nil {
		log.Fatalf("[server] listen %s: %v", *addr, err)
	}
	log.Printf("[server] control listening on %s", *addr)

	udpLocal, err := net.ResolveUDPAddr("udp", *udpAddr)
	if err != nil {
		log.Fatalf("[server] resolve %s: %v", *udpAddr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpLocal)
	if err != nil {
		log.Fatalf("[server] listen udp %s: %v", *udpAddr, err)
	}
	log.Printf("[server] voice listening on %s", *udpAddr)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		stream := &transport.StreamListener{
			Listener:    tcpListener,
			Inputs:      loop.Inputs(),
			Bans:        st,
			MessageRate: *rateLimit,
		}
		if err := stream.Run(ctx); err != nil {
			log.Printf("[server] stream listener: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		udp := &transport.UDPListener{Conn: udpConn, Inputs: loop.Inputs(), Out: udpOut}
		if err := udp.Run(ctx); err != nil {
			log.Printf("[server] udp listener: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		transport.RunTicker(ctx, *tickInterval, loop.Inputs())
	}()

	if *apiAddr != "" {
		api := httpapi.New(loop, st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[api] listening on %s", *apiAddr)
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Printf("[api] %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Printf("[server] shutting down")

	// Bounded grace for in-flight work before the reducer stops.
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(5 * time.Second):
		log.Printf("[server] shutdown timed out")
	}

	loop.Close()
	<-loopDone
	log.Printf("[server] state loop stopped")
}

// buildTLSConfig loads the given pair, or self-signs one and logs its
// fingerprint so clients can pin it.
func buildTLSConfig(certFile, keyFile string, validity time.Duration, addr string) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		return transport.LoadTLSConfig(certFile, keyFile)
	}

	hostname := ""
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		hostname = host
	}
	cfg, fingerprint, err := transport.GenerateTLSConfig(validity, hostname)
	if err != nil {
		return nil, err
	}
	log.Printf("[tls] certificate fingerprint: %s", fingerprint)
	return cfg, nil
}

// seedChannels creates the startup channel tree. Channel persistence is
// deliberately out of scope; the tree is rebuilt on every start.
func seedChannels(state *server.State) {
	state.NewChannel(core.NewChannel(core.RootChannel, "TestChannel", "Description"))

	root := core.RootChannel
	state.NewChannel(core.Channel{
		ID:          1,
		Name:        "SubChannel",
		Description: "Description",
		Position:    -1,
		Parent:      &root,
	})
}
