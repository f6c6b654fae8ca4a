// Package transport is the master side of the control plane: it accepts panel
// connections, keeps the position registry and delivers messages to panels.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledgrid/internal/wire"
)

var (
	ErrNoClient = errors.New("transport: no client at position")
	ErrTimeout  = errors.New("transport: request timed out")
)

// Handler receives messages a panel sent without being asked.
type Handler func(pos wire.Position, m wire.Message)

type EventKind string

const (
	Registered EventKind = "registered"
	Replaced   EventKind = "replaced"
	Removed    EventKind = "removed"
)

type Event struct {
	Kind      EventKind
	Position  wire.Position
	SessionID string
	ClientID  string
	Remote    string
	Err       error
}

type Config struct {
	Addr         string
	WriteTimeout time.Duration
	Logger       *zerolog.Logger
	OnMessage    Handler
	OnEvent      func(Event)
}

type Server struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	clients map[wire.Position]*client
	conns   map[net.Conn]struct{}
	ln      net.Listener
	closed  bool

	wg sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Server{
		cfg:     cfg,
		log:     l.With().Str("component", "transport").Logger(),
		clients: map[wire.Position]*client{},
		conns:   map[net.Conn]struct{}{},
	}
}

// Listen binds the control port. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts panel connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control server listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn().Err(err).Msg("accept")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(conn)
		}()
	}
}

// HandleConn runs the read loop for one panel connection until it fails or closes.
func (s *Server) HandleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	l := s.log.With().Str("remote", remote).Logger()
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	l.Info().Msg("panel connected")

	var cur *client
	defer func() {
		if cur != nil {
			s.remove(cur, nil)
			cur.close()
		}
		s.untrack(conn)
		_ = conn.Close()
	}()

	dec := wire.NewDecoder(conn)
	dec.Malformed = func(frame []byte, err error) {
		l.Warn().Err(err).Int("bytes", len(frame)).Msg("discarding malformed frame")
	}
	for {
		m, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.Warn().Err(err).Msg("read")
			}
			return
		}
		switch m.Type {
		case wire.Init:
			pos := *m.Position
			if cur != nil && cur.pos != pos {
				s.forget(cur)
			}
			cur = s.register(pos, conn, m.ClientID)
		case wire.SensorData:
			if cur == nil {
				l.Warn().Msg("sensor_data before init")
				continue
			}
			if !cur.deliver(m) && s.cfg.OnMessage != nil {
				s.cfg.OnMessage(cur.pos, m)
			}
		default:
			l.Debug().Str("type", string(m.Type)).Msg("ignoring message")
		}
	}
}

// RegisterClient stores conn as the live connection for pos, closing any stale one.
func (s *Server) RegisterClient(pos wire.Position, conn net.Conn, clientID string) {
	s.register(pos, conn, clientID)
}

func (s *Server) register(pos wire.Position, conn net.Conn, clientID string) *client {
	c := newClient(pos, conn, clientID)
	s.mu.Lock()
	old := s.clients[pos]
	s.clients[pos] = c
	s.mu.Unlock()

	ev := Event{Kind: Registered, Position: pos, SessionID: c.session, ClientID: clientID, Remote: c.remote}
	if old != nil && old.conn != conn {
		ev.Kind = Replaced
		_ = old.conn.Close()
	}
	s.log.Info().Str("position", pos.String()).Str("session", c.session).Str("client_id", clientID).
		Str("event", string(ev.Kind)).Msg("panel registered")
	s.emit(ev)
	return c
}

// track records conn so Shutdown can close it before it registers.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// remove drops c only if it is still the live entry for its position.
func (s *Server) remove(c *client, cause error) {
	if !s.drop(c) {
		return
	}
	_ = c.conn.Close()
	c.close()
	s.log.Info().Err(cause).Str("position", c.pos.String()).Str("session", c.session).Msg("panel removed")
	s.emit(Event{Kind: Removed, Position: c.pos, SessionID: c.session, ClientID: c.clientID, Remote: c.remote, Err: cause})
}

// forget drops c when its connection moves to another position. The
// connection stays open.
func (s *Server) forget(c *client) {
	if !s.drop(c) {
		return
	}
	c.close()
	s.log.Info().Str("position", c.pos.String()).Str("session", c.session).Msg("panel moved")
	s.emit(Event{Kind: Removed, Position: c.pos, SessionID: c.session, ClientID: c.clientID, Remote: c.remote})
}

func (s *Server) drop(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.clients[c.pos]; !ok || cur != c {
		return false
	}
	delete(s.clients, c.pos)
	return true
}

func (s *Server) lookup(pos wire.Position) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[pos]
}

func (s *Server) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Positions lists registered panels sorted by row then col.
func (s *Server) Positions() []wire.Position {
	cs := s.snapshot()
	out := make([]wire.Position, len(cs))
	for i, c := range cs {
		out[i] = c.pos
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// SendToPosition delivers m to the panel at pos. A missing panel is logged and
// reported as ErrNoClient; a failed write removes the panel.
func (s *Server) SendToPosition(pos wire.Position, m wire.Message) error {
	c := s.lookup(pos)
	if c == nil {
		s.log.Debug().Str("position", pos.String()).Str("type", string(m.Type)).Msg("no client at position")
		return fmt.Errorf("%w %s", ErrNoClient, pos)
	}
	if err := c.send(m, s.cfg.WriteTimeout); err != nil {
		s.remove(c, err)
		return fmt.Errorf("transport: send %s to %s: %w", m.Type, pos, err)
	}
	return nil
}

// Broadcast sends m to every registered panel. Failing panels are removed
// without affecting delivery to the others. It returns the number delivered.
func (s *Server) Broadcast(m wire.Message) int {
	sent := 0
	for _, c := range s.snapshot() {
		if err := c.send(m, s.cfg.WriteTimeout); err != nil {
			s.log.Warn().Err(err).Str("position", c.pos.String()).Msg("broadcast failed")
			s.remove(c, err)
			continue
		}
		sent++
	}
	return sent
}

// Request sends m to pos and waits up to timeout for its sensor_data reply.
func (s *Server) Request(ctx context.Context, pos wire.Position, m wire.Message, timeout time.Duration) (wire.Message, error) {
	c := s.lookup(pos)
	if c == nil {
		return wire.Message{}, fmt.Errorf("%w %s", ErrNoClient, pos)
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.arm()
	defer c.disarm()
	if err := c.send(m, s.cfg.WriteTimeout); err != nil {
		s.remove(c, err)
		return wire.Message{}, fmt.Errorf("transport: request %s: %w", pos, err)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-c.reply:
		return r, nil
	case <-c.done:
		return wire.Message{}, fmt.Errorf("transport: %s disconnected: %w", pos, net.ErrClosed)
	case <-t.C:
		return wire.Message{}, fmt.Errorf("%w after %s (%s)", ErrTimeout, timeout, pos)
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

// Shutdown closes every panel connection and the listener.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cs := make([]*client, 0, len(s.clients))
	for pos, c := range s.clients {
		cs = append(cs, c)
		delete(s.clients, pos)
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	ln := s.ln
	s.mu.Unlock()

	for _, c := range cs {
		_ = c.conn.Close()
		c.close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}
