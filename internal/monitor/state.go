// Package monitor serves a live view of the canvas, registry diagnostics and
// a small control socket over HTTP and websockets.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	diag "github.com/coreman2200/ledgrid/internal/diagnostics"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/transport"
	"github.com/coreman2200/ledgrid/internal/wire"
)

const (
	writeWait  = 200 * time.Millisecond
	keepRecent = 32
)

type Config struct {
	Grid layout.Grid
	FPS  int
	// Mode and SetMode back the control socket; nil disables mode switching.
	Mode      func() string
	SetMode   func(mode string) error
	Positions func() []wire.Position
	Logger    *zerolog.Logger
}

type State struct {
	cfg Config
	log zerolog.Logger
	up  websocket.Upgrader

	mu        sync.RWMutex
	rgb       []byte
	frameID   uint64
	dirty     bool
	startTime time.Time

	clients     map[*peer]bool
	diagClients map[*peer]bool
	recent      []diag.Diagnostic
}

// peer serializes writes to one websocket.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

func NewState(cfg Config) *State {
	if cfg.FPS <= 0 {
		cfg.FPS = 20
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &State{
		cfg:         cfg,
		log:         l.With().Str("component", "monitor").Logger(),
		up:          websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		rgb:         make([]byte, cfg.Grid.Width()*cfg.Grid.Height()*3),
		startTime:   time.Now(),
		clients:     map[*peer]bool{},
		diagClients: map[*peer]bool{},
	}
}

// Paint records canvas pixels; its signature matches animation.Observer.
func (s *State) Paint(pts []layout.Point, c led.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.cfg.Grid.Width()
	for _, p := range pts {
		if !s.cfg.Grid.Contains(p) {
			continue
		}
		i := (p.Y*w + p.X) * 3
		s.rgb[i], s.rgb[i+1], s.rgb[i+2] = c.R, c.G, c.B
	}
	s.dirty = true
}

// Run pushes changed frames to canvas clients at the configured rate.
func (s *State) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if !s.dirty {
			s.mu.Unlock()
			continue
		}
		s.dirty = false
		s.frameID++
		buf := append([]byte(nil), s.rgb...)
		id := s.frameID
		s.mu.Unlock()
		s.broadcastFrame(id, buf)
	}
}

func (s *State) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func (s *State) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	go s.Run(ctx)
	s.log.Info().Str("addr", ln.Addr().String()).Msg("monitor listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *State) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	if err := p.write(s.topology()); err != nil {
		conn.Close()
		return
	}
	s.track(s.clients, p, true)
	go s.drain(s.clients, p)
}

func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	s.mu.Lock()
	backlog := append([]diag.Diagnostic(nil), s.recent...)
	s.diagClients[p] = true
	s.mu.Unlock()
	for _, d := range backlog {
		b, _ := json.Marshal(d)
		_ = p.write(b)
	}
	go s.drain(s.diagClients, p)
}

type controlMsg struct {
	Mode string `json:"mode,omitempty"`
}

type status struct {
	Mode   string          `json:"mode,omitempty"`
	Panels []wire.Position `json:"panels"`
	Error  string          `json:"error,omitempty"`
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	p := &peer{conn: conn}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		var cerr error
		if err := json.Unmarshal(data, &msg); err != nil {
			cerr = err
		} else if msg.Mode != "" {
			cerr = s.applyMode(msg.Mode)
		}
		st := s.status()
		if cerr != nil {
			st.Error = cerr.Error()
			s.Push(diag.Diagnostic{Severity: diag.Warn, Code: "CONTROL.REJECTED", Summary: "Control message rejected", Detail: cerr.Error()})
		}
		b, _ := json.Marshal(st)
		if err := p.write(b); err != nil {
			return
		}
	}
}

func (s *State) applyMode(mode string) error {
	if s.cfg.SetMode == nil {
		return errors.New("mode switching unavailable")
	}
	if err := s.cfg.SetMode(mode); err != nil {
		return err
	}
	s.Push(diag.Diagnostic{Severity: diag.Info, Code: "MODE.CHANGED", Summary: "Operating mode changed", Detail: mode})
	return nil
}

func (s *State) status() status {
	st := status{Panels: []wire.Position{}}
	if s.cfg.Mode != nil {
		st.Mode = s.cfg.Mode()
	}
	if s.cfg.Positions != nil {
		st.Panels = s.cfg.Positions()
	}
	return st
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"frame_id": s.frameID,
		"uptime_s": time.Since(s.startTime).Seconds(),
		"width":    s.cfg.Grid.Width(),
		"height":   s.cfg.Grid.Height(),
	}
	s.mu.RUnlock()
	st := s.status()
	resp["panels"] = st.Panels
	if st.Mode != "" {
		resp["mode"] = st.Mode
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// OnTransportEvent turns registry changes into diagnostics.
func (s *State) OnTransportEvent(ev transport.Event) {
	d := diag.Diagnostic{
		Evidence: map[string]any{
			"position":  ev.Position.String(),
			"session":   ev.SessionID,
			"client_id": ev.ClientID,
			"remote":    ev.Remote,
		},
	}
	switch ev.Kind {
	case transport.Registered:
		d.Severity, d.Code, d.Summary = diag.Info, "PANEL.REGISTERED", "Panel registered"
	case transport.Replaced:
		d.Severity, d.Code, d.Summary = diag.Warn, "PANEL.REPLACED", "Panel reconnected; stale connection closed"
		d.LikelyCauses = []string{"slave restarted", "network flap"}
	case transport.Removed:
		d.Severity, d.Code, d.Summary = diag.Warn, "PANEL.REMOVED", "Panel disconnected"
		if ev.Err != nil {
			d.Detail = ev.Err.Error()
			d.SuggestedFixes = []string{"check the slave's power and network link"}
		}
	default:
		return
	}
	s.Push(d)
}

// Push sends d to every diagnostics client and keeps it for late joiners.
func (s *State) Push(d diag.Diagnostic) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	d.Log(s.log)
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.recent = append(s.recent, d)
	if len(s.recent) > keepRecent {
		s.recent = s.recent[len(s.recent)-keepRecent:]
	}
	peers := make([]*peer, 0, len(s.diagClients))
	for p := range s.diagClients {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.write(b)
	}
}

func (s *State) topology() []byte {
	top := map[string]any{
		"width":      s.cfg.Grid.Width(),
		"height":     s.cfg.Grid.Height(),
		"rows":       s.cfg.Grid.Rows,
		"cols":       s.cfg.Grid.Cols,
		"panel_size": s.cfg.Grid.PanelSize,
	}
	b, _ := json.Marshal(top)
	return b
}

type frame struct {
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	RGB     []byte `json:"rgb"`
}

func (s *State) broadcastFrame(id uint64, rgb []byte) {
	b, _ := json.Marshal(frame{T: time.Now().UnixNano(), FrameID: id, RGB: rgb})
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.clients))
	for p := range s.clients {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		if err := p.write(b); err != nil {
			s.log.Debug().Err(err).Msg("write frame")
		}
	}
}

func (s *State) track(set map[*peer]bool, p *peer, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		set[p] = true
	} else {
		delete(set, p)
	}
}

// drain reads until the client goes away, then forgets it.
func (s *State) drain(set map[*peer]bool, p *peer) {
	defer func() {
		s.track(set, p, false)
		p.conn.Close()
	}()
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}
