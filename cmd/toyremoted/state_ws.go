package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket
// ============================================================================
//
// UIs connect here to follow the session and, when state_ws.allow_control is
// set, to drive it. Frames are JSON text messages {type, ts, data}.
//
//   - Every client gets a "state_init" snapshot right after joining. Events
//     broadcast while the snapshot is taken may arrive before it; clients
//     replace their whole view on state_init.
//   - "status_changed" is coalesced to one per wsStatusCoalesceWindow.
//   - Inbound frames are event envelopes, same as IPC. A frame the daemon
//     cannot accept is answered with "command_rejected" to that client only;
//     session rejections are broadcast later as "command_failed".
//   - A client whose queue fills up is dropped.
//
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxInboundFrame bounds one control frame; a stream batch is the largest.
	maxInboundFrame = 1 << 20
)

// wsStatusCoalesceWindow bounds how often status_changed reaches clients while a
// pattern or stream keeps changing the status every tick.
const wsStatusCoalesceWindow = 50 * time.Millisecond

// wsOutboundEvent is a typed frame before serialization.
type wsOutboundEvent struct {
	Type string
	Data any
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func encodeFrame(ev wsOutboundEvent) ([]byte, error) {
	ts := time.Now().UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

type wsPowerData struct {
	On      bool   `json:"on"`
	Enactor string `json:"enactor,omitempty"`
}

type wsAccessData struct {
	Preset string `json:"preset"`
}

type wsPlaybackData struct {
	PatternID string `json:"pattern_id"`
	Enactor   string `json:"enactor,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type wsStreamData struct {
	Active  bool   `json:"active"`
	Enactor string `json:"enactor,omitempty"`
}

type wsPatternSavedData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type wsCommandFailedData struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// ============================================================================
// Hub
// ============================================================================

// Hub owns the set of connected clients. Only Run writes to a client's queue,
// so a queue is never written after it is closed.
type Hub struct {
	logger *slog.Logger

	frames chan []byte      // to every client
	direct chan directFrame // to one client
	joins  chan *Client
	leaves chan *Client
	done   chan struct{} // closed when Run returns

	mu      sync.Mutex // guards clients for ClientCount
	clients map[*Client]struct{}

	queueLen int
}

type directFrame struct {
	to    *Client
	frame []byte
}

type HubConfig struct {
	// SendBuf is the per-client queue size. Zero means 32.
	SendBuf int

	// BroadcastBuf is the hub's inbound frame queue size. Zero means 128.
	BroadcastBuf int
}

// NewHub builds a hub. Nothing is delivered until Run is started.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	frameBuf := cfg.BroadcastBuf
	if frameBuf <= 0 {
		frameBuf = 128
	}
	queueLen := cfg.SendBuf
	if queueLen <= 0 {
		queueLen = 32
	}
	return &Hub{
		logger:   logger,
		frames:   make(chan []byte, frameBuf),
		direct:   make(chan directFrame, 16),
		joins:    make(chan *Client), // unbuffered: a joined client sees every later frame
		leaves:   make(chan *Client, 16),
		done:     make(chan struct{}),
		clients:  make(map[*Client]struct{}),
		queueLen: queueLen,
	}
}

// Run delivers frames until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Debug("state hub running")

	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			h.logger.Debug("state hub stopped")
			return

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("state client joined", "remote_addr", c.remoteAddr, "control", c.events != nil, "clients", n)

		case c := <-h.leaves:
			h.drop(c, "closed")

		case d := <-h.direct:
			h.mu.Lock()
			_, ok := h.clients[d.to]
			h.mu.Unlock()
			if ok && !d.to.offer(d.frame) {
				h.drop(d.to, "lagging")
			}

		case f := <-h.frames:
			h.mu.Lock()
			var lagging []*Client
			for c := range h.clients {
				if !c.offer(f) {
					lagging = append(lagging, c)
				}
			}
			h.mu.Unlock()
			for _, c := range lagging {
				h.drop(c, "lagging")
			}
		}
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.shutdown()
	h.logger.Info("state client left", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
}

// ClientCount returns the number of joined clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues a frame for every client. It drops the frame when the hub is backed up.
func (h *Hub) Publish(frame []byte) {
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("state hub queue full, dropping frame", "bytes", len(frame))
	}
}

// sendTo queues a frame for one client. It gives up once the hub has stopped.
func (h *Hub) sendTo(c *Client, frame []byte) {
	select {
	case h.direct <- directFrame{to: c, frame: frame}:
	case <-h.done:
	}
}

func (h *Hub) join(c *Client) {
	select {
	case h.joins <- c:
	case <-h.done:
		c.shutdown()
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	// events is set when the client may drive the session.
	events chan<- Event

	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.queueLen),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// offer queues a frame without blocking. Called by the hub only.
func (c *Client) offer(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the queue, which ends writePump, and the socket, which ends readPump.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("state client "+pump+" closed", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Info("state client "+pump+" failed", "remote_addr", c.remoteAddr, "error", err)
}

func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logExit("write", err)
				_ = c.conn.Close()
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("write", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

// readPump keeps the read deadline fresh on pongs and forwards control frames.
// It leaves the hub when the connection ends.
func (c *Client) readPump() {
	defer c.hub.leave(c)

	c.conn.SetReadLimit(maxInboundFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("read", err)
			return
		}
		if err := c.forward(msg); err != nil {
			c.reject(err)
		}
	}
}

var errReadOnly = errors.New("state websocket is read-only")

// forward decodes one control frame and hands it to the daemon loop.
func (c *Client) forward(msg []byte) error {
	if c.events == nil {
		return errReadOnly
	}
	ev, err := UnmarshalEvent(msg)
	if err != nil {
		return err
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return errors.New("event queue full")
	}
}

func (c *Client) reject(err error) {
	c.logger.Debug("state client frame rejected", "remote_addr", c.remoteAddr, "error", err)
	frame, mErr := encodeFrame(wsOutboundEvent{Type: "command_rejected", Data: wsCommandFailedData{Error: err.Error()}})
	if mErr != nil {
		return
	}
	c.hub.sendTo(c, frame)
}

// ============================================================================
// HTTP handler
// ============================================================================

type StateServerConfig struct {
	Hub          HubConfig
	AllowControl bool
}

type Server struct {
	logger       *slog.Logger
	hub          *Hub
	allowControl bool

	// Snapshots for state_init and control frames both go through the daemon loop.
	events chan<- Event
}

// NewServer builds the state server. Mount it with NewRouter and run Hub().Run and
// RunBroadcaster alongside it.
func NewServer(logger *slog.Logger, events chan<- Event, cfg StateServerConfig) *Server {
	return &Server{
		logger:       logger,
		hub:          NewHub(logger, cfg.Hub),
		allowControl: cfg.AllowControl,
		events:       events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Register(r chi.Router, path string) {
	r.Get(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("state websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn, r.RemoteAddr, s.logger)
	if s.allowControl {
		c.events = s.events
	}
	s.hub.join(c)

	// Both pumps outlive this handler.
	go c.writePump()
	go c.readPump()

	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("state_init snapshot failed", "remote_addr", r.RemoteAddr, "error", err)
		}
		return
	}
	frame, err := encodeFrame(wsOutboundEvent{Type: "state_init", Data: snap})
	if err != nil {
		s.logger.Warn("state_init marshal failed", "error", err)
		return
	}
	s.hub.sendTo(c, frame)
}

func (s *Server) requestSnapshot(ctx context.Context) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case s.events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// statusCoalescer holds back status_changed frames that arrive within the window
// of the previous one. Only the latest held frame is ever sent.
type statusCoalescer struct {
	publish func(wsOutboundEvent)
	held    *wsOutboundEvent
	window  *time.Timer
}

// C is nil while no window is open.
func (s *statusCoalescer) C() <-chan time.Time {
	if s.window == nil {
		return nil
	}
	return s.window.C
}

func (s *statusCoalescer) status(ev wsOutboundEvent) {
	if s.window == nil {
		s.publish(ev)
		s.window = time.NewTimer(wsStatusCoalesceWindow)
		return
	}
	s.held = &ev
}

// windowClosed sends the held frame and reopens the window only if there was one.
func (s *statusCoalescer) windowClosed() {
	s.window = nil
	if s.held != nil {
		s.flush()
		s.window = time.NewTimer(wsStatusCoalesceWindow)
	}
}

func (s *statusCoalescer) flush() {
	if s.held != nil {
		s.publish(*s.held)
		s.held = nil
	}
}

func (s *statusCoalescer) stop() {
	s.flush()
	if s.window != nil {
		s.window.Stop()
		s.window = nil
	}
}

// RunBroadcaster serializes StateBroadcasts from the daemon loop and publishes
// them through the hub. Run a single instance.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	co := &statusCoalescer{publish: func(ev wsOutboundEvent) {
		frame, err := encodeFrame(ev)
		if err != nil {
			logger.Warn("broadcast marshal failed", "type", ev.Type, "error", err)
			return
		}
		hub.Publish(frame)
	}}
	defer co.stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-co.C():
			co.windowClosed()

		case b, ok := <-src:
			if !ok {
				logger.Debug("broadcast source closed")
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if ev.Type == "status_changed" {
				co.status(ev)
				continue
			}
			// A held status is older than ev.
			co.flush()
			co.publish(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastStatusChanged:
		return wsOutboundEvent{Type: "status_changed", Data: ev.Status}, true
	case BroadcastPowerChanged:
		return wsOutboundEvent{Type: "power_changed", Data: wsPowerData{On: ev.On, Enactor: ev.Enactor}}, true
	case BroadcastAccessChanged:
		return wsOutboundEvent{Type: "access_changed", Data: wsAccessData{Preset: ev.Preset}}, true
	case BroadcastPlaybackBegan:
		return wsOutboundEvent{Type: "playback_began", Data: wsPlaybackData{PatternID: ev.PatternID, Enactor: ev.Enactor}}, true
	case BroadcastPlaybackEnded:
		return wsOutboundEvent{Type: "playback_ended", Data: wsPlaybackData{PatternID: ev.PatternID, Reason: ev.Reason}}, true
	case BroadcastPlaybackStopped:
		return wsOutboundEvent{Type: "playback_stopped", Data: wsPlaybackData{PatternID: ev.PatternID}}, true
	case BroadcastStreamChanged:
		return wsOutboundEvent{Type: "stream_changed", Data: wsStreamData{Active: ev.Active, Enactor: ev.Enactor}}, true
	case BroadcastPatternSaved:
		return wsOutboundEvent{Type: "pattern_saved", Data: wsPatternSavedData{ID: ev.ID, Name: ev.Name, Path: ev.Path}}, true
	case BroadcastCommandFailed:
		return wsOutboundEvent{Type: "command_failed", Data: wsCommandFailedData{Event: ev.Event, Error: ev.Error}}, true
	default:
		return wsOutboundEvent{}, false
	}
}
