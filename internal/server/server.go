// ABOUTME: HTTP server for the renderer: /events websocket feed and /metrics
// ABOUTME: Broadcasts pipeline notifications and applies transport commands from clients
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-renderer/internal/version"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

const (
	sendQueueDepth = 64
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	shutdownGrace  = 5 * time.Second
)

// replayOrder is the order in which a new client receives the latest events
var replayOrder = []string{TypeState, TypeMode, TypeTrack, TypeStream, TypeMetaText, TypeTime}

// Controller applies client commands to the renderer
type Controller interface {
	Play()
	Pause()
	Stop()
	Skip()
	SetVolume(volume int) error
	SetMuted(muted bool)
	Open(uri, metadata string) error
}

// Config holds server configuration
type Config struct {
	Addr string
	Name string
	// Metrics is served at /metrics when set
	Metrics http.Handler
}

// Server implements pipeline.Observer by forwarding every notification to
// the connected websocket clients
type Server struct {
	config     Config
	controller Controller
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	mux        *http.ServeMux

	mu      sync.RWMutex
	clients map[string]*client
	latest  map[string]Message
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

func New(config Config, controller Controller, logger zerolog.Logger) *Server {
	s := &Server{
		config:     config,
		controller: controller,
		logger:     logger.With().Str("component", "server").Logger(),
		mux:        http.NewServeMux(),
		clients:    make(map[string]*client),
		latest:     make(map[string]Message),
	}
	s.upgrader = websocket.Upgrader{
		// local network control surface; browsers on other origins are allowed
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.mux.HandleFunc("/events", s.handleWebSocket)
	if config.Metrics != nil {
		s.mux.Handle("/metrics", config.Metrics)
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", s.config.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown")
		}
		return nil
	})
	return g.Wait()
}

// Clients returns how many websocket clients are connected
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := &client{id: uuid.New().String(), conn: conn, send: make(chan Message, sendQueueDepth)}
	if !s.register(c) {
		conn.Close()
		return
	}
	log := s.logger.With().Str("client", c.id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writer(c)
	}()
	defer func() {
		s.unregister(c)
		<-done
		conn.Close()
		log.Info().Msg("client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read")
			}
			return
		}
		s.handleCommand(c, data)
	}
}

// register adds c and queues the hello and latest events for it
func (s *Server) register(c *client) bool {
	hello, err := newMessage(TypeHello, Hello{
		ClientID:     c.id,
		Name:         s.config.Name,
		Product:      version.Product,
		Manufacturer: version.Manufacturer,
		Version:      version.Version,
	})
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	c.send <- hello
	for _, typ := range replayOrder {
		if m, ok := s.latest[typ]; ok {
			c.send <- m
		}
	}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
	}
}

// writer sends queued messages and keepalive pings until the queue closes
func (s *Server) writer(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(m); err != nil {
				s.logger.Debug().Err(err).Str("client", c.id).Msg("websocket write")
				// unblock the reader so the handler unregisters us
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) handleCommand(c *client, data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.reply(c, "", fmt.Errorf("malformed message: %w", err))
		return
	}

	var err error
	switch m.Type {
	case CmdPlay:
		s.controller.Play()
	case CmdPause:
		s.controller.Pause()
	case CmdStop:
		s.controller.Stop()
	case CmdSkip:
		s.controller.Skip()
	case CmdVolume:
		var v VolumeCommand
		if err = json.Unmarshal(m.Payload, &v); err == nil {
			err = s.controller.SetVolume(v.Volume)
		}
	case CmdMute:
		var v MuteCommand
		if err = json.Unmarshal(m.Payload, &v); err == nil {
			s.controller.SetMuted(v.Muted)
		}
	case CmdOpen:
		var v OpenCommand
		if err = json.Unmarshal(m.Payload, &v); err == nil {
			err = s.controller.Open(v.URI, v.Metadata)
		}
	default:
		err = fmt.Errorf("unknown command %q", m.Type)
	}
	if err != nil {
		s.reply(c, m.Type, err)
	}
}

func (s *Server) reply(c *client, command string, err error) {
	m, merr := newMessage(TypeError, Error{Command: command, Message: err.Error()})
	if merr != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[c.id]; ok {
		select {
		case c.send <- m:
		default:
		}
	}
}

// broadcast queues an event for every client. Slow clients miss events
// rather than holding up the observer goroutine.
func (s *Server) broadcast(typ string, payload any) {
	m, err := newMessage(typ, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", typ).Msg("encode event")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[typ] = m
	for _, c := range s.clients {
		select {
		case c.send <- m:
		default:
			s.logger.Warn().Str("client", c.id).Str("type", typ).Msg("client send queue full")
		}
	}
}

func (s *Server) NotifyPipelineState(state pipeline.State, buffering bool) {
	s.broadcast(TypeState, stateEvent(state, buffering))
}

func (s *Server) NotifyMode(mode string, info msg.ModeInfo) {
	s.broadcast(TypeMode, modeEvent(mode, info))
}

func (s *Server) NotifyTrack(track msg.Track, mode string, startOfStream bool) {
	s.broadcast(TypeTrack, Track{
		ID:            track.ID,
		URI:           track.URI,
		Metadata:      track.Metadata,
		Mode:          mode,
		StartOfStream: startOfStream,
	})
}

func (s *Server) NotifyMetaText(text string) {
	s.broadcast(TypeMetaText, MetaText{Text: text})
}

func (s *Server) NotifyTime(seconds, trackSeconds uint32) {
	s.broadcast(TypeTime, Time{Seconds: seconds, TrackSeconds: trackSeconds})
}

func (s *Server) NotifyStreamInfo(info msg.DecodedStreamInfo) {
	s.broadcast(TypeStream, streamEvent(info))
}
