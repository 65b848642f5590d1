package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/mendebian/p2p-game/internal/config"
	"github.com/mendebian/p2p-game/internal/logging"
	"github.com/mendebian/p2p-game/internal/transport/relay"
)

const (
	maxFrameSize = 64 << 10
	qrSize       = 256
)

type Server struct {
	config         *config.Config
	hub            *Hub
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
}

func NewServer(cfg *config.Config, hub *Hub) *Server {
	s := &Server{
		config:         cfg,
		hub:            hub,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            logging.Component("http"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() *httprouter.Router {
	mux := httprouter.New()
	mux.GET("/ws", s.handleWS)
	mux.GET("/api/peers", s.handlePeers)
	mux.GET("/api/rooms/:id/qr", s.handleRoomQR)
	mux.GET("/api/stats", s.handleStats)
	mux.GET("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c, err := s.hub.Register(conn, r.URL.Query().Get("id"))
	if err != nil {
		code := relay.CodeBadFrame
		if errors.Is(err, ErrIDTaken) {
			code = relay.CodeIDTaken
		}
		if data, encErr := relay.EncodeFrame(relay.Frame{Op: relay.OpError, Error: code}); encErr == nil {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.BinaryMessage, data)
		}
		conn.Close()
		s.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("peer rejected")
		return
	}

	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.hub.Unregister(c)

	pongTimeout := s.config.Broker.PongTimeout
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		f, err := relay.DecodeFrame(data)
		if err != nil {
			s.log.Debug().Err(err).Str("peer", c.id).Msg("dropping frame")
			continue
		}
		s.hub.Handle(c, f)
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Peers())
}

// handleRoomQR renders the room id of a connected host as a PNG QR code so
// another player can scan it instead of typing.
func (s *Server) handleRoomQR(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !s.hub.Has(id) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(id, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CollectStats(s.hub))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg := logging.Component("http")
		lg.Info().Str("addr", addr).Msg("broker listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
