// Package httpapi is the observer and admin surface: a REST API over the
// reducer loop's published snapshots, a live event feed over websocket, a
// ban-list editor over the store, and the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhamlin/speakez/internal/metrics"
	"github.com/zhamlin/speakez/internal/store"
	"github.com/zhamlin/speakez/internal/transport"
)

// feedInterval is how often the websocket feed pushes a snapshot.
const feedInterval = time.Second

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	loop     *transport.Loop
	store    *store.Store
	upgrader websocket.Upgrader
}

// New constructs the Echo app. st may be nil, which disables the ban
// endpoints.
func New(loop *transport.Loop, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:  e,
		loop:  loop,
		store: st,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via
// slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			// Skip noisy endpoints at debug level.
			if path == "/health" || path == "/metrics" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/channels", s.handleChannels)
	s.echo.GET("/ws/events", s.handleEvents)

	if s.store != nil {
		s.echo.GET("/api/bans", s.handleListBans)
		s.echo.POST("/api/bans", s.handleAddBan)
		s.echo.DELETE("/api/bans/:id", s.handleRemoveBan)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(s.loop))
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.loop.Snapshot())
}

func (s *Server) handleChannels(c echo.Context) error {
	snap := s.loop.Snapshot()
	return c.JSON(http.StatusOK, snap.Channels)
}

// handleEvents upgrades to websocket and streams state snapshots until the
// client goes away.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", c.RealIP(), "err", err)
		return err
	}
	defer conn.Close()

	// Reads are only used to notice the peer closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	var last time.Time
	for range ticker.C {
		snap := s.loop.Snapshot()
		if snap == nil || !snap.TakenAt.After(last) {
			continue
		}
		last = snap.TakenAt

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			return nil
		}
	}
	return nil
}

type addBanRequest struct {
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	DurationS int64  `json:"duration_s"`
}

func (s *Server) handleListBans(c echo.Context) error {
	bans, err := s.store.ListBans()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bans == nil {
		bans = []store.Ban{}
	}
	return c.JSON(http.StatusOK, bans)
}

func (s *Server) handleAddBan(c echo.Context) error {
	var req addBanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.IP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ip is required")
	}

	id, err := s.store.AddBan(req.IP, req.Reason, req.BannedBy, time.Duration(req.DurationS)*time.Second)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleRemoveBan(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := s.store.RemoveBan(id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Run serves the API and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown", "err", err)
		}
	}()

	err := s.echo.Start(addr)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }
