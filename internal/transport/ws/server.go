// Package ws bridges websocket clients to swap sessions. Every connection owns
// exactly one session, so pending swaps are never shared between clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Session is the per-connection swap conversation, satisfied by
// *orchestrator.Orchestrator.
type Session interface {
	HandleMessage(ctx context.Context, text string) error
	Confirm(ctx context.Context) error
	Cancel() error
	Tick(now time.Time) bool
}

// SessionFactory builds a fresh session whose events go to sink.
type SessionFactory func(sessionID string, sink func(model.Event)) Session

// ClientMessage is what a client sends: {"type":"message","text":"..."},
// {"type":"confirm"} or {"type":"cancel"}.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Server struct {
	newSession   SessionFactory
	upgrader     websocket.Upgrader
	tickInterval time.Duration
	log          logrus.FieldLogger
}

type Option func(*Server)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithAllowedOrigins restricts browser origins. Requests without an Origin
// header are always accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		}
	}
}

func NewServer(factory SessionFactory, opts ...Option) *Server {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Server{
		newSession:   factory,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		tickInterval: time.Second,
		log:          discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := newClient(conn, uuid.NewString(), s.log)
	c.session = s.newSession(c.id, c.send)
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	c.run(r.Context(), s.tickInterval)
}

// Serve listens on addr and serves sessions at /ws until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", addr).Info("serving websocket sessions")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type client struct {
	id      string
	conn    *websocket.Conn
	session Session
	log     logrus.FieldLogger

	out     chan model.Event
	done    chan struct{}
	closeMu sync.Once
	wg      sync.WaitGroup
}

func newClient(conn *websocket.Conn, id string, log logrus.FieldLogger) *client {
	return &client{
		id:   id,
		conn: conn,
		log:  log.WithField("session_id", id),
		out:  make(chan model.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

// send queues an event for the writer. Events emitted after the connection
// closed are dropped.
func (c *client) send(ev model.Event) {
	select {
	case c.out <- ev:
	case <-c.done:
	}
}

func (c *client) close() {
	c.closeMu.Do(func() { close(c.done) })
}

func (c *client) run(parent context.Context, tickInterval time.Duration) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()
	c.log.Info("session opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		c.tickLoop(tickInterval)
	}()

	c.readLoop(ctx)
	c.close()
	// An in-flight confirmation keeps running so its outcome reaches the journal.
	c.wg.Wait()
	<-tickerDone
	<-writerDone
	_ = c.conn.Close()
	c.log.Info("session closed")
}

func (c *client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(ctx, msg)
	}
}

func (c *client) dispatch(ctx context.Context, msg ClientMessage) {
	var err error
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "message":
		if strings.TrimSpace(msg.Text) == "" {
			err = clierr.New(clierr.CodeUsage, "message text is required")
			break
		}
		err = c.session.HandleMessage(ctx, msg.Text)
	case "confirm":
		// Confirmation waits on the chain; keep reading so the client can
		// still talk to the session meanwhile.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.session.Confirm(ctx); err != nil {
				c.sendError(err)
			}
		}()
	case "cancel":
		err = c.session.Cancel()
	default:
		err = clierr.New(clierr.CodeUsage, "unknown message type "+msg.Type)
	}
	if err != nil {
		c.sendError(err)
	}
}

func (c *client) sendError(err error) {
	c.send(model.Event{Type: model.EventError, Code: clierr.CodeOf(err).String(), Message: err.Error(), At: time.Now()})
}

// tickLoop expires unconfirmed quotes. Tick emits through send, so it must
// not run on the writer goroutine.
func (c *client) tickLoop(every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-tick.C:
			c.session.Tick(now)
		}
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev := <-c.out:
			if err := c.write(ev); err != nil {
				c.log.WithError(err).Warn("websocket write failed")
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes events already queued when the read side closed.
func (c *client) drain() {
	for {
		select {
		case ev := <-c.out:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(ev model.Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, buf)
}
