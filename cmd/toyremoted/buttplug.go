package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"toyremote/remote"
)

// ============================================================================
// Buttplug (Intiface) client
// ============================================================================
//
// The client speaks Buttplug message spec v3 over a websocket. Every frame is a
// JSON array of single-key objects, e.g. [{"ScalarCmd":{"Id":4,...}}].
//
//   - Device arrival/removal is turned into DeviceAdded/DeviceRemoved events.
//   - Actuation is fire-and-forget: Actuator calls enqueue a frame and return.
//   - On shutdown StopAllDevices is written directly before the socket closes.
//
// ============================================================================

// Wire bodies. Field names follow the Buttplug spec (PascalCase, "Id").
type bpRequestServerInfo struct {
	ID             uint32 `json:"Id"`
	ClientName     string `json:"ClientName"`
	MessageVersion int    `json:"MessageVersion"`
}

type bpServerInfo struct {
	ID             uint32 `json:"Id"`
	ServerName     string `json:"ServerName"`
	MessageVersion int    `json:"MessageVersion"`
	MaxPingTime    int    `json:"MaxPingTime"`
}

type bpError struct {
	ID           uint32 `json:"Id"`
	ErrorMessage string `json:"ErrorMessage"`
	ErrorCode    int    `json:"ErrorCode"`
}

type bpIDOnly struct {
	ID uint32 `json:"Id"`
}

type bpFeature struct {
	FeatureDescriptor string `json:"FeatureDescriptor,omitempty"`
	StepCount         int    `json:"StepCount"`
	ActuatorType      string `json:"ActuatorType,omitempty"`
}

type bpDeviceMessages struct {
	ScalarCmd     []bpFeature `json:"ScalarCmd,omitempty"`
	RotateCmd     []bpFeature `json:"RotateCmd,omitempty"`
	StopDeviceCmd *struct{}   `json:"StopDeviceCmd,omitempty"`
}

type bpDevice struct {
	DeviceName        string           `json:"DeviceName"`
	DeviceIndex       int              `json:"DeviceIndex"`
	DeviceDisplayName string           `json:"DeviceDisplayName,omitempty"`
	DeviceMessages    bpDeviceMessages `json:"DeviceMessages"`
}

type bpDeviceList struct {
	ID      uint32     `json:"Id"`
	Devices []bpDevice `json:"Devices"`
}

type bpDeviceAdded struct {
	ID uint32 `json:"Id"`
	bpDevice
}

type bpDeviceRemoved struct {
	ID          uint32 `json:"Id"`
	DeviceIndex int    `json:"DeviceIndex"`
}

type bpScalar struct {
	Index        int     `json:"Index"`
	Scalar       float64 `json:"Scalar"`
	ActuatorType string  `json:"ActuatorType"`
}

type bpScalarCmd struct {
	ID          uint32     `json:"Id"`
	DeviceIndex int        `json:"DeviceIndex"`
	Scalars     []bpScalar `json:"Scalars"`
}

type bpRotation struct {
	Index     int     `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

type bpRotateCmd struct {
	ID          uint32       `json:"Id"`
	DeviceIndex int          `json:"DeviceIndex"`
	Rotations   []bpRotation `json:"Rotations"`
}

type bpDeviceCmd struct {
	ID          uint32 `json:"Id"`
	DeviceIndex int    `json:"DeviceIndex"`
}

// encodeMessage wraps a single message body in a Buttplug frame.
func encodeMessage(name string, body any) ([]byte, error) {
	b, err := json.Marshal([]map[string]any{{name: body}})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return b, nil
}

// bpMessage is one decoded message: its type name and raw body.
type bpMessage struct {
	Name string
	Body json.RawMessage
}

func decodeFrame(frame []byte) ([]bpMessage, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	var out []bpMessage
	for _, m := range raw {
		for name, body := range m {
			out = append(out, bpMessage{Name: name, Body: body})
		}
	}
	return out, nil
}

// splitDeviceName splits "Lovense Edge" into brand "Lovense" and kind "Edge".
func splitDeviceName(name string) (brand, kind string) {
	name = strings.TrimSpace(name)
	brand, kind, _ = strings.Cut(name, " ")
	return brand, strings.TrimSpace(kind)
}

// describeDevice maps a Buttplug device onto a descriptor. Scalar features become
// motors 0..n-1 in feature order; rotate features follow. Scalar actuator types the
// engine cannot drive (e.g. "Position") are skipped.
func describeDevice(d bpDevice) remote.DeviceDescriptor {
	brand, kind := splitDeviceName(d.DeviceName)
	name := d.DeviceDisplayName
	if name == "" {
		name = d.DeviceName
	}
	desc := remote.DeviceDescriptor{Brand: brand, Kind: kind, Name: name}

	interval := func(f bpFeature) float64 {
		if f.StepCount <= 0 {
			return 0
		}
		return 1 / float64(f.StepCount)
	}
	for i, f := range d.DeviceMessages.ScalarCmd {
		mt, err := remote.ParseMotorType(f.ActuatorType)
		if err != nil || mt == remote.MotorRotation {
			continue
		}
		desc.Motors = append(desc.Motors, remote.MotorDescriptor{Index: i, Type: mt, Interval: interval(f)})
	}
	base := len(d.DeviceMessages.ScalarCmd)
	for i, f := range d.DeviceMessages.RotateCmd {
		desc.Motors = append(desc.Motors, remote.MotorDescriptor{Index: base + i, Type: remote.MotorRotation, Interval: interval(f)})
	}
	return desc
}

// ButtplugClient manages the websocket session with a Buttplug server.
type ButtplugClient struct {
	url         string
	clientName  string
	readTimeout time.Duration
	scan        bool
	attempts    int
	retryDelay  time.Duration

	// resolve, when set, picks the server URL before every dial; url is the fallback.
	resolve func(ctx context.Context) (string, error)

	events chan<- Event
	logger *slog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	ids      atomic.Uint32
	outbound chan outboundFrame

	// gen counts connections. Device indexes are only meaningful within the
	// connection that announced them.
	gen atomic.Uint64

	// devices maps server device indexes to session identities. Only the read loop
	// (and dropDevices after it exits) touches it.
	devices map[int]remote.DeviceKey
}

// NewButtplugClient validates cfg and builds an unconnected client. Call Run to connect.
func NewButtplugClient(cfg ButtplugConfig, events chan<- Event, logger *slog.Logger) (*ButtplugClient, error) {
	if _, err := url.Parse(cfg.WsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	queue := cfg.OutboundQueue
	if queue <= 0 {
		queue = defaultOutboundQueue
	}
	c := &ButtplugClient{
		url:         cfg.WsURL,
		clientName:  cfg.ClientName,
		readTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		scan:        cfg.Scan,
		attempts:    defaultConnectAttempts,
		retryDelay:  defaultConnectRetryDelay * time.Millisecond,
		events:      events,
		logger:      logger,
		outbound:    make(chan outboundFrame, queue),
		devices:     make(map[int]remote.DeviceKey),
	}
	if cfg.Discover {
		timeout := time.Duration(cfg.DiscoverTimeoutMS) * time.Millisecond
		c.resolve = func(ctx context.Context) (string, error) {
			return discoverIntiface(ctx, timeout, logger)
		}
	}
	return c, nil
}

// Run connects, serves the session and reconnects after a lost connection. It returns
// nil when ctx is canceled and an error when the server cannot be reached.
func (c *ButtplugClient) Run(ctx context.Context) error {
	for {
		if err := c.connectWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err := c.serve(ctx)
		c.dropDevices(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("buttplug connection lost; reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *ButtplugClient) serverURL(ctx context.Context) string {
	if c.resolve == nil {
		return c.url
	}
	u, err := c.resolve(ctx)
	if err != nil {
		c.logger.Warn("server discovery failed; using configured url", "error", err, "url", c.url)
		return c.url
	}
	return u
}

func (c *ButtplugClient) connect(ctx context.Context) error {
	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}
	target := c.serverURL(ctx)
	conn, _, err := d.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	c.logger.Info("connected to buttplug server", "url", target)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *ButtplugClient) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		err := c.connect(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("connection failed; retrying...", "error", err, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", c.attempts, lastErr)
}

func (c *ButtplugClient) nextID() uint32 { return c.ids.Add(1) }

// sendAndRead writes one frame and waits for the next frame from the server.
// Only used before the read loop starts.
func (c *ButtplugClient) sendAndRead(frame []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.New("no websocket connection")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (c *ButtplugClient) handshake() (bpServerInfo, error) {
	frame, err := encodeMessage("RequestServerInfo", bpRequestServerInfo{
		ID:             c.nextID(),
		ClientName:     c.clientName,
		MessageVersion: buttplugMessageVersion,
	})
	if err != nil {
		return bpServerInfo{}, err
	}
	resp, err := c.sendAndRead(frame, c.readTimeout)
	if err != nil {
		return bpServerInfo{}, fmt.Errorf("request server info: %w", err)
	}
	msgs, err := decodeFrame(resp)
	if err != nil {
		return bpServerInfo{}, err
	}
	for _, m := range msgs {
		switch m.Name {
		case "ServerInfo":
			var info bpServerInfo
			if err := json.Unmarshal(m.Body, &info); err != nil {
				return bpServerInfo{}, fmt.Errorf("unmarshal ServerInfo: %w", err)
			}
			return info, nil
		case "Error":
			var e bpError
			_ = json.Unmarshal(m.Body, &e)
			return bpServerInfo{}, fmt.Errorf("server rejected handshake: %s (code %d)", e.ErrorMessage, e.ErrorCode)
		}
	}
	return bpServerInfo{}, errors.New("handshake: no ServerInfo in response")
}

// serve runs one connected session until the connection fails or ctx is canceled.
func (c *ButtplugClient) serve(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	info, err := c.handshake()
	if err != nil {
		c.closeConn(conn)
		return err
	}
	c.logger.Info("buttplug server ready", "server", info.ServerName, "version", info.MessageVersion, "max_ping_ms", info.MaxPingTime)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(sctx, conn, c.gen.Load(), time.Duration(info.MaxPingTime)*time.Millisecond)
	go func() {
		<-sctx.Done()
		if ctx.Err() != nil {
			c.stopAllAndClose(conn)
			return
		}
		c.closeConn(conn)
	}()

	if err := c.enqueue("RequestDeviceList", func(id uint32) any { return bpIDOnly{ID: id} }); err != nil {
		return err
	}
	if c.scan {
		if err := c.enqueue("StartScanning", func(id uint32) any { return bpIDOnly{ID: id} }); err != nil {
			return err
		}
	}

	return c.readLoop(ctx, conn)
}

func (c *ButtplugClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msgs, err := decodeFrame(frame)
		if err != nil {
			c.logger.Warn("dropping malformed buttplug frame", "error", err)
			continue
		}
		for _, m := range msgs {
			c.handleMessage(ctx, m)
		}
	}
}

func (c *ButtplugClient) handleMessage(ctx context.Context, m bpMessage) {
	switch m.Name {
	case "DeviceList":
		var list bpDeviceList
		if err := json.Unmarshal(m.Body, &list); err != nil {
			c.logger.Warn("bad DeviceList", "error", err)
			return
		}
		for _, d := range list.Devices {
			c.addDevice(ctx, d)
		}

	case "DeviceAdded":
		var added bpDeviceAdded
		if err := json.Unmarshal(m.Body, &added); err != nil {
			c.logger.Warn("bad DeviceAdded", "error", err)
			return
		}
		c.addDevice(ctx, added.bpDevice)

	case "DeviceRemoved":
		var removed bpDeviceRemoved
		if err := json.Unmarshal(m.Body, &removed); err != nil {
			c.logger.Warn("bad DeviceRemoved", "error", err)
			return
		}
		key, ok := c.devices[removed.DeviceIndex]
		if !ok {
			return
		}
		delete(c.devices, removed.DeviceIndex)
		c.logger.Info("buttplug device removed", "device", key.String(), "index", removed.DeviceIndex)
		c.emit(ctx, DeviceRemoved{Key: key})

	case "Error":
		var e bpError
		_ = json.Unmarshal(m.Body, &e)
		c.logger.Warn("buttplug server error", "id", e.ID, "code", e.ErrorCode, "message", e.ErrorMessage)

	case "ScanningFinished":
		c.logger.Info("buttplug scanning finished")

	case "Ok":

	default:
		c.logger.Debug("ignoring buttplug message", "type", m.Name)
	}
}

func (c *ButtplugClient) addDevice(ctx context.Context, d bpDevice) {
	if _, known := c.devices[d.DeviceIndex]; known {
		return
	}
	desc := describeDevice(d)
	if err := desc.Validate(); err != nil {
		c.logger.Warn("ignoring unsupported buttplug device", "name", d.DeviceName, "error", err)
		return
	}
	c.devices[d.DeviceIndex] = desc.Key()
	c.logger.Info("buttplug device added", "device", desc.Key().String(), "index", d.DeviceIndex, "motors", len(desc.Motors))
	c.emit(ctx, DeviceAdded{Descriptor: desc, Actuator: c.actuatorFor(d)})
}

// dropDevices retires the current connection generation, removes every known device
// from the session and discards frames queued for the old connection. Actuators of the
// removed devices refuse further commands, so the cleanup that follows DeviceRemoved
// cannot reach a device the next server assigns the same index.
func (c *ButtplugClient) dropDevices(ctx context.Context) {
	c.gen.Add(1)
	for idx, key := range c.devices {
		delete(c.devices, idx)
		c.emit(ctx, DeviceRemoved{Key: key})
	}
	for {
		select {
		case <-c.outbound:
		default:
			return
		}
	}
}

func (c *ButtplugClient) emit(ctx context.Context, ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

var errStaleDevice = errors.New("device belongs to a closed buttplug connection")

type outboundFrame struct {
	gen  uint64
	data []byte
}

// enqueue builds a frame with a fresh id and queues it for the write pump.
// It never blocks; a full queue is an error.
func (c *ButtplugClient) enqueue(name string, body func(id uint32) any) error {
	return c.enqueueFor(c.gen.Load(), name, body)
}

// enqueueFor queues a frame that is only valid on connection generation gen.
func (c *ButtplugClient) enqueueFor(gen uint64, name string, body func(id uint32) any) error {
	if gen != c.gen.Load() {
		return fmt.Errorf("%s: %w", name, errStaleDevice)
	}
	frame, err := encodeMessage(name, body(c.nextID()))
	if err != nil {
		return err
	}
	select {
	case c.outbound <- outboundFrame{gen: gen, data: frame}:
		return nil
	default:
		return fmt.Errorf("%s: outbound queue full", name)
	}
}

func (c *ButtplugClient) writePump(ctx context.Context, conn *websocket.Conn, gen uint64, maxPing time.Duration) {
	var pingC <-chan time.Time
	if maxPing > 0 {
		ticker := time.NewTicker(maxPing / 2)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-c.outbound:
			if frame.gen != gen {
				c.logger.Debug("dropping frame queued for a previous connection", "gen", frame.gen, "current", gen)
				continue
			}
			if err := c.write(conn, frame.data); err != nil {
				c.logger.Warn("buttplug write failed", "error", err)
				c.closeConn(conn)
				return
			}

		case <-pingC:
			frame, err := encodeMessage("Ping", bpIDOnly{ID: c.nextID()})
			if err != nil {
				continue
			}
			if err := c.write(conn, frame); err != nil {
				c.logger.Warn("buttplug ping failed", "error", err)
				c.closeConn(conn)
				return
			}
		}
	}
}

func (c *ButtplugClient) write(conn *websocket.Conn, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// stopAllAndClose halts every device on the server, then closes the connection.
func (c *ButtplugClient) stopAllAndClose(conn *websocket.Conn) {
	frame, err := encodeMessage("StopAllDevices", bpIDOnly{ID: c.nextID()})
	if err == nil {
		if err := c.write(conn, frame); err != nil {
			c.logger.Warn("StopAllDevices failed", "error", err)
		} else {
			c.logger.Info("sent StopAllDevices")
		}
	}
	c.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	c.closeConn(conn)
}

func (c *ButtplugClient) closeConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// ============================================================================
// Per-device Actuator
// ============================================================================

type buttplugDevice struct {
	client  *ButtplugClient
	gen     uint64
	index   int
	scalars []string // actuator type per scalar feature index
	rotors  int
}

func (c *ButtplugClient) actuatorFor(d bpDevice) *buttplugDevice {
	dev := &buttplugDevice{
		client: c,
		gen:    c.gen.Load(),
		index:  d.DeviceIndex,
		rotors: len(d.DeviceMessages.RotateCmd),
	}
	for _, f := range d.DeviceMessages.ScalarCmd {
		dev.scalars = append(dev.scalars, f.ActuatorType)
	}
	return dev
}

func (d *buttplugDevice) scalar(index int, value float64, actuator string) error {
	if index < 0 || index >= len(d.scalars) {
		return fmt.Errorf("device %d has no scalar feature %d", d.index, index)
	}
	return d.client.enqueueFor(d.gen, "ScalarCmd", func(id uint32) any {
		return bpScalarCmd{
			ID:          id,
			DeviceIndex: d.index,
			Scalars:     []bpScalar{{Index: index, Scalar: value, ActuatorType: actuator}},
		}
	})
}

// firstScalar returns the first scalar feature driven by the given actuator type.
func (d *buttplugDevice) firstScalar(actuator string) (int, bool) {
	for i, a := range d.scalars {
		if strings.EqualFold(a, actuator) {
			return i, true
		}
	}
	return 0, false
}

func (d *buttplugDevice) Vibrate(index int, value float64) error {
	return d.scalar(index, value, "Vibrate")
}

func (d *buttplugDevice) Oscillate(index int, value float64) error {
	return d.scalar(index, value, "Oscillate")
}

func (d *buttplugDevice) Rotate(value float64, clockwise bool) error {
	if d.rotors == 0 {
		return fmt.Errorf("device %d has no rotate feature", d.index)
	}
	return d.client.enqueueFor(d.gen, "RotateCmd", func(id uint32) any {
		return bpRotateCmd{
			ID:          id,
			DeviceIndex: d.index,
			Rotations:   []bpRotation{{Index: 0, Speed: value, Clockwise: clockwise}},
		}
	})
}

func (d *buttplugDevice) Constrict(value float64) error {
	i, ok := d.firstScalar("Constrict")
	if !ok {
		return fmt.Errorf("device %d has no constrict feature", d.index)
	}
	return d.scalar(i, value, "Constrict")
}

func (d *buttplugDevice) Inflate(value float64) error {
	i, ok := d.firstScalar("Inflate")
	if !ok {
		return fmt.Errorf("device %d has no inflate feature", d.index)
	}
	return d.scalar(i, value, "Inflate")
}

func (d *buttplugDevice) StopAllMotors() error {
	return d.client.enqueueFor(d.gen, "StopDeviceCmd", func(id uint32) any {
		return bpDeviceCmd{ID: id, DeviceIndex: d.index}
	})
}
