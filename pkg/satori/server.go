// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebSocket signal opcodes.
const (
	OpEvent    = 0
	OpPing     = 1
	OpPong     = 2
	OpIdentify = 3
	OpReady    = 4
)

// signal is the WebSocket frame envelope.
type signal struct {
	Op   int                `json:"op"`
	Body stdjson.RawMessage `json:"body,omitempty"`
}

type identifyBody struct {
	Token    string `json:"token,omitempty"`
	Sequence int64  `json:"sn,omitempty"`
}

type readyBody struct {
	Logins []*Login `json:"logins"`
}

// StatusError is a protocol-level error carrying the HTTP status the action
// API should answer with. Handlers return it (possibly wrapped) to control
// the response code; any other error becomes a 500.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("satori: %d %s", e.Code, e.Message)
}

// NewStatusError creates a StatusError with the given HTTP status code.
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// Request is one decoded action call.
type Request struct {
	Method   string
	Params   stdjson.RawMessage
	Platform string
	SelfID   string
}

// Bind decodes the request parameters into v.
func (r *Request) Bind(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// Handler serves one action method. The returned value is encoded as the
// JSON response body; nil produces an empty object.
type Handler func(ctx context.Context, req *Request) (any, error)

// ProxyFunc streams an internal resource (e.g. a native file reference) to a
// gateway client. It returns the content reader and MIME type.
type ProxyFunc func(ctx context.Context, ref string) (io.ReadCloser, string, error)

// ServerConfig holds the listen and protocol settings of the Satori server.
type ServerConfig struct {
	Host        string
	Port        int
	Path        string
	Token       string
	HistorySize int
}

// Server is a Satori protocol server: action API over HTTP POST, event feed
// over WebSocket with sequence-based resumption. Events pushed via PushEvent
// are delivered to every identified connection in id order; a bounded
// history ring serves `sn` replay for reconnecting clients.
type Server struct {
	log zerolog.Logger
	cfg ServerConfig

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	getLogins func() []*Login
	proxy     ProxyFunc

	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*eventConn]struct{}
	history []*Event

	httpServer *http.Server
}

// NewServer creates a Satori server. Call Register / SetLoginSource /
// SetProxy before Start.
func NewServer(cfg ServerConfig, log zerolog.Logger) *Server {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 512
	}
	return &Server{
		log:      log.With().Str("component", "satori_server").Logger(),
		cfg:      cfg,
		handlers: make(map[string]Handler),
		conns:    make(map[*eventConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Register installs the handler for an action method (e.g. "message.create").
func (s *Server) Register(method string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = h
}

// SetLoginSource installs the callback that reports current logins for the
// READY signal.
func (s *Server) SetLoginSource(fn func() []*Login) {
	s.getLogins = fn
}

// SetProxy installs the internal resource proxy used by /v1/proxy/{ref}.
func (s *Server) SetProxy(fn ProxyFunc) {
	s.proxy = fn
}

// Router builds the HTTP router. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	base := strings.TrimSuffix(s.cfg.Path, "/")
	sub := r.PathPrefix(base + "/v1").Subrouter()
	sub.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	sub.HandleFunc("/proxy/{ref:.*}", s.handleProxy).Methods(http.MethodGet)
	sub.HandleFunc("/{method}", s.handleAction).Methods(http.MethodPost)
	return r
}

// Start begins serving and blocks until the listener fails or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Str("path", s.cfg.Path).Msg("Satori server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// PushEvent records the event in the resume history and fans it out to all
// identified WebSocket connections. Events must be pushed in increasing id
// order by a single producer.
func (s *Server) PushEvent(evt *Event) {
	s.mu.Lock()
	s.history = append(s.history, evt)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	conns := make([]*eventConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.enqueue(evt)
	}
}

// historyAfter returns buffered events with id greater than seq, oldest first.
func (s *Server) historyAfter(seq int64) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, evt := range s.history {
		if evt.ID > seq {
			out = append(out, evt)
		}
	}
	return out
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.Token
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	method := mux.Vars(r)["method"]

	s.handlersMu.RLock()
	handler, ok := s.handlers[method]
	s.handlersMu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown method: "+method)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req := &Request{
		Method:   method,
		Params:   body,
		Platform: r.Header.Get("X-Platform"),
		SelfID:   r.Header.Get("X-Self-ID"),
	}

	result, err := handler(r.Context(), req)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			writeJSONError(w, statusErr.Code, statusErr.Message)
		} else {
			s.log.Error().Err(err).Str("method", method).Msg("Action handler failed")
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result == nil {
		_, _ = w.Write([]byte("{}"))
		return
	}
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log.Warn().Err(err).Str("method", method).Msg("Failed to write action response")
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if s.proxy == nil {
		writeJSONError(w, http.StatusNotFound, "proxy not available")
		return
	}
	ref := mux.Vars(r)["ref"]
	reader, mime, err := s.proxy(r.Context(), ref)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			writeJSONError(w, statusErr.Code, statusErr.Message)
			return
		}
		writeJSONError(w, http.StatusNotFound, "resource not found")
		return
	}
	defer reader.Close()
	if mime != "" {
		w.Header().Set("Content-Type", mime)
	}
	if _, err := io.Copy(w, reader); err != nil {
		s.log.Debug().Err(err).Str("ref", ref).Msg("Proxy stream interrupted")
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// eventConn is one WebSocket event-feed connection.
type eventConn struct {
	server *Server
	ws     *websocket.Conn
	log    zerolog.Logger

	writeMu sync.Mutex
	lastSeq atomic.Int64

	sendCh   chan *Event
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := &eventConn{
		server: s,
		ws:     ws,
		log:    s.log.With().Str("remote_addr", r.RemoteAddr).Logger(),
		sendCh: make(chan *Event, 256),
		stopCh: make(chan struct{}),
	}
	go conn.writeLoop()
	conn.readLoop()
}

func (c *eventConn) close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.server.mu.Lock()
		delete(c.server.conns, c)
		c.server.mu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *eventConn) enqueue(evt *Event) {
	select {
	case c.sendCh <- evt:
	case <-c.stopCh:
	default:
		// Slow consumer: drop the connection rather than block the feed.
		// The client resumes from its last seen sn on reconnect.
		c.log.Warn().Msg("Event feed consumer too slow, closing connection")
		c.close()
	}
}

func (c *eventConn) writeSignal(op int, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var raw stdjson.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = data
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(&signal{Op: op, Body: raw})
}

func (c *eventConn) writeLoop() {
	defer c.close()
	for {
		select {
		case evt := <-c.sendCh:
			// lastSeq guards against replay/subscribe overlap duplicates.
			if evt.ID <= c.lastSeq.Load() {
				continue
			}
			c.lastSeq.Store(evt.ID)
			if err := c.writeSignal(OpEvent, evt); err != nil {
				c.log.Debug().Err(err).Msg("Event write failed")
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *eventConn) readLoop() {
	defer c.close()
	for {
		var sig signal
		if err := c.ws.ReadJSON(&sig); err != nil {
			c.log.Debug().Err(err).Msg("Event feed connection closed")
			return
		}
		switch sig.Op {
		case OpPing:
			if err := c.writeSignal(OpPong, nil); err != nil {
				return
			}
		case OpIdentify:
			if err := c.handleIdentify(sig.Body); err != nil {
				c.log.Warn().Err(err).Msg("IDENTIFY rejected")
				return
			}
		default:
			c.log.Debug().Int("op", sig.Op).Msg("Ignoring unexpected signal")
		}
	}
}

func (c *eventConn) handleIdentify(body stdjson.RawMessage) error {
	var ident identifyBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ident); err != nil {
			return fmt.Errorf("malformed IDENTIFY body: %w", err)
		}
	}
	if c.server.cfg.Token != "" && ident.Token != c.server.cfg.Token {
		return errors.New("invalid token")
	}

	var logins []*Login
	if c.server.getLogins != nil {
		logins = c.server.getLogins()
	}
	if err := c.writeSignal(OpReady, &readyBody{Logins: logins}); err != nil {
		return err
	}

	// Replay buffered events after the client's cursor, then subscribe.
	// The writeLoop drops anything at or below lastSeq, so events that
	// land in both the replay and the live feed are delivered once.
	for _, evt := range c.server.historyAfter(ident.Sequence) {
		if err := c.writeSignal(OpEvent, evt); err != nil {
			return err
		}
		c.lastSeq.Store(evt.ID)
	}

	// Membership in conns is what marks the connection identified.
	c.server.mu.Lock()
	c.server.conns[c] = struct{}{}
	c.server.mu.Unlock()

	for _, evt := range c.server.historyAfter(c.lastSeq.Load()) {
		c.enqueue(evt)
	}
	return nil
}
