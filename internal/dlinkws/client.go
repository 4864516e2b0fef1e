package dlinkws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// Protocol constants. The endpoint path and client id are fixed by the
// device firmware; localCID is an arbitrary but stable caller id echoed
// back in replies.
const (
	devicePort = 8080
	devicePath = "/SwitchCamera"
	localCID   = 41566

	// keepAliveInterval is the gap between keep_alive pings. The timer
	// is re-armed after each ping so at most one is ever pending.
	keepAliveInterval = 5 * time.Second

	// disconnectGrace is how long a close handshake gets before the
	// socket is torn down regardless.
	disconnectGrace = 1 * time.Second

	// shortIDLength is the tail of the device id used as a short id.
	shortIDLength = 4

	defaultDialTimeout = 5 * time.Second
)

// message is one JSON frame in either direction. The protocol is
// loosely typed; a map keeps unknown fields intact.
type message = map[string]any

// Client speaks the JSON-over-websocket protocol of newer D-Link plugs
// (DSP-W115, DSP-W245). The socket stays open across commands; replies
// are correlated to requests by an echoed sequence_id, and the device
// pushes unsolicited "event" frames when a relay changes state.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Client struct {
	address     string
	pin         string
	socketCount int
	logger      *logging.Logger
	dialer      *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	dialing   bool
	loggedIn  bool
	deviceID  string
	shortID   string
	salt      string
	sequence  int64
	pending   map[int64]chan message
	sockets   []bool
	pingTimer *time.Timer

	onDisconnect func(err error)

	// writeMu serialises frames onto the socket; gorilla permits one
	// concurrent writer.
	writeMu sync.Mutex
}

// Options configures a Client.
type Options struct {
	// Address is the device IP (no scheme, no port).
	Address string

	// PIN is the device PIN used for the message token.
	PIN string

	// SocketCount is the number of relays (1, or 4 for DSP-W245).
	SocketCount int

	// Logger for unmatched frames and lifecycle events.
	Logger *logging.Logger

	// DialTimeout bounds the websocket handshake. Zero means 5s.
	DialTimeout time.Duration

	// URL overrides the derived wss endpoint, used by tests.
	URL string
}

// NewClient creates a client for one websocket device. No connection
// is opened until Connect or SignIn.
func NewClient(opts Options) *Client {
	socketCount := opts.SocketCount
	if socketCount <= 0 {
		socketCount = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	address := opts.URL
	if address == "" {
		address = fmt.Sprintf("wss://%s:%d%s", opts.Address, devicePort, devicePath)
	}

	return &Client{
		address:     address,
		pin:         opts.PIN,
		socketCount: socketCount,
		logger:      logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
			// Devices serve self-signed certificates on a private LAN.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
		pending: make(map[int64]chan message),
		sockets: make([]bool, socketCount),
	}
}

// SetOnDisconnect sets a callback invoked when the socket drops for
// any reason other than an explicit Disconnect.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// Connect opens the websocket if it isn't open already and starts the
// read loop and keep-alive ping cycle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.dialing {
		// Another caller is mid-dial; letting a second dial proceed
		// would orphan the loser's connection.
		c.mu.Unlock()
		return ErrDialInProgress
	}
	c.dialing = true
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.address, nil)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dlinkws: dialing %s: %w", c.address, err)
	}
	c.conn = conn
	c.connected = true
	c.armKeepAliveLocked()
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LoggedIn reports whether a sign_in has completed on this connection.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.loggedIn
}

// DeviceID returns the device id learned during SignIn, or "".
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// ShortID returns the 4-character tail of the device id, or "".
func (c *Client) ShortID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shortID
}

// SignIn connects if necessary and authenticates the session.
//
// The sign_in reply carries the session salt and the device's id; the
// per-message token derived from them authenticates every subsequent
// frame. Returns false without error if the device answers but the
// reply lacks the session fields.
func (c *Client) SignIn(ctx context.Context) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}

	reply, err := c.Send(ctx, message{"command": "sign_in"})
	if err != nil {
		return false, err
	}

	salt, _ := reply["salt"].(string)         //nolint:errcheck // empty on wrong type is handled below
	deviceID, _ := reply["device_id"].(string) //nolint:errcheck
	if salt == "" || deviceID == "" {
		return false, nil
	}

	shortID := deviceID
	if len(shortID) > shortIDLength {
		shortID = shortID[len(shortID)-shortIDLength:]
	}

	c.mu.Lock()
	c.salt = salt
	c.deviceID = deviceID
	c.shortID = shortID
	c.loggedIn = true
	c.mu.Unlock()

	return true, nil
}

// Login is SignIn under the name shared with the SOAP client, so both
// transports satisfy the same session interface.
func (c *Client) Login(ctx context.Context) (bool, error) {
	return c.SignIn(ctx)
}

// Send transmits an enveloped frame and waits for the reply whose
// echoed sequence_id matches. Frames with unknown sequence ids are
// logged and dropped; there is no reordering queue, callers issue one
// correlated request at a time.
func (c *Client) Send(ctx context.Context, payload message) (message, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	c.sequence++
	seq := c.sequence
	frame := c.envelopeLocked(seq, payload)

	replyCh := make(chan message, 1)
	c.pending[seq] = replyCh
	conn := c.conn
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		c.dropPending(seq)
		return nil, fmt.Errorf("dlinkws: encoding frame: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(seq)
		return nil, fmt.Errorf("dlinkws: writing frame: %w", err)
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return reply, nil
	case <-ctx.Done():
		c.dropPending(seq)
		return nil, fmt.Errorf("dlinkws: awaiting reply: %w", ctx.Err())
	}
}

// envelopeLocked augments a payload with the correlation and auth
// fields every outgoing frame carries. The device token is recomputed
// per frame from the PIN and session salt. Caller holds c.mu.
func (c *Client) envelopeLocked(seq int64, payload message) message {
	frame := make(message, len(payload)+6)
	for k, v := range payload {
		frame[k] = v
	}
	frame["sequence_id"] = seq
	frame["local_cid"] = localCID
	frame["timestamp"] = time.Now().Unix()
	frame["client_id"] = ""
	if c.loggedIn {
		frame["device_id"] = c.deviceID
		frame["device_token"] = c.deviceID + "-" + dlink.SHA1Hex(c.pin+c.salt)
	}
	return frame
}

// Switch sets the relay at the given 0-based socket index.
func (c *Client) Switch(ctx context.Context, on bool, socketIndex int) error {
	if socketIndex < 0 || socketIndex >= c.socketCount {
		return fmt.Errorf("%w: %d", ErrSocketIndex, socketIndex)
	}
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}

	value := 0
	if on {
		value = 1
	}
	reply, err := c.Send(ctx, message{
		"command": "set_setting",
		"setting": []any{
			message{
				"uid":      socketIndex,
				"idx":      socketIndex,
				"name":     "switch",
				"type":     16,
				"metadata": message{"value": value},
			},
		},
	})
	if err != nil {
		return err
	}

	if code := intField(reply, "code"); code != 0 {
		return &APIError{Code: code}
	}

	c.mu.Lock()
	c.sockets[socketIndex] = on
	c.mu.Unlock()
	return nil
}

// Socket returns the locally tracked state of one relay.
func (c *Client) Socket(index int) (bool, error) {
	if index < 0 || index >= c.socketCount {
		return false, fmt.Errorf("%w: %d", ErrSocketIndex, index)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sockets[index], nil
}

// Sockets returns a copy of the full relay state array. The array is
// updated by command confirmations and by unsolicited event pushes;
// reading it costs no device round-trip.
func (c *Client) Sockets() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.sockets))
	copy(out, c.sockets)
	return out
}

// Disconnect closes the socket. A close frame is sent first; after a
// grace period the connection is torn down regardless. The keep-alive
// timer is cleared and pending requests fail with ErrConnectionClosed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.teardownLocked()
	c.mu.Unlock()

	c.writeMu.Lock()
	//nolint:errcheck // Best-effort close handshake
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(disconnectGrace))
	c.writeMu.Unlock()

	time.AfterFunc(disconnectGrace, func() {
		conn.Close() //nolint:errcheck
	})
}

// teardownLocked resets session state and fails pending requests.
// Caller holds c.mu.
func (c *Client) teardownLocked() {
	c.connected = false
	c.loggedIn = false
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

// readLoop consumes frames until the socket drops. Correlated replies
// go to their waiter; event pushes update the socket array; anything
// else is logged at debug and ignored.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("discarding unparseable frame", "error", err)
			continue
		}

		if seq, ok := msg["sequence_id"]; ok {
			if c.deliver(int64(toFloat(seq)), msg) {
				continue
			}
		}

		if cmd, _ := msg["command"].(string); cmd == "event" { //nolint:errcheck
			c.handleEvent(msg)
			continue
		}

		c.logger.Debug("unmatched frame", "frame", string(data))
	}
}

// handleReadError tears the session down unless an explicit Disconnect
// already did.
func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if !c.connected || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	callback := c.onDisconnect
	c.mu.Unlock()

	conn.Close() //nolint:errcheck
	if callback != nil {
		callback(err)
	}
}

// deliver routes a correlated reply to its waiter. Returns false when
// no request with that sequence id is pending.
func (c *Client) deliver(seq int64, msg message) bool {
	c.mu.Lock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

// handleEvent applies an unsolicited state push to the socket array.
// Event frames carry the same setting entries a set_setting command
// does, either directly or nested under "event".
func (c *Client) handleEvent(msg message) {
	entries, ok := msg["setting"].([]any)
	if !ok {
		if inner, isMap := msg["event"].(message); isMap {
			entries, _ = inner["setting"].([]any) //nolint:errcheck
		}
	}

	for _, raw := range entries {
		entry, isMap := raw.(message)
		if !isMap {
			continue
		}
		idx := intField(entry, "idx")
		if idx < 0 || idx >= c.socketCount {
			continue
		}
		meta, isMap := entry["metadata"].(message)
		if !isMap {
			continue
		}
		on := toFloat(meta["value"]) != 0
		if b, isBool := meta["value"].(bool); isBool {
			on = b
		}

		c.mu.Lock()
		c.sockets[idx] = on
		c.mu.Unlock()
	}
}

// armKeepAliveLocked schedules the next keep_alive ping. Any pending
// timer is stopped first so only one is ever armed. Caller holds c.mu.
func (c *Client) armKeepAliveLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	c.pingTimer = time.AfterFunc(keepAliveInterval, c.keepAlive)
}

// keepAlive sends one protocol-level ping frame and re-arms the timer
// while connected. Control frames cap the payload at 125 bytes, so the
// ping carries the unauthenticated envelope fields without the device
// token pair.
func (c *Client) keepAlive() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.sequence++
	frame := message{
		"command":     "keep_alive",
		"sequence_id": c.sequence,
		"local_cid":   localCID,
		"timestamp":   time.Now().Unix(),
		"client_id":   "",
	}
	conn := c.conn
	c.armKeepAliveLocked()
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	// WriteControl may run concurrently with data writes.
	//nolint:errcheck // A failed ping surfaces as a read error shortly after
	conn.WriteControl(websocket.PingMessage, data, time.Now().Add(keepAliveInterval))
}

// dropPending removes a pending waiter without delivering.
func (c *Client) dropPending(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// toFloat coerces a JSON number (float64 after unmarshal) to float64.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// intField reads an integer field from a frame, 0 when absent.
func intField(msg message, key string) int {
	return int(toFloat(msg[key]))
}
