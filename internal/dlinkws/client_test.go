package dlinkws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/dlink-core/internal/dlink"
)

const (
	testPIN      = "553846"
	testSalt     = "abcdef123456"
	testDeviceID = "34D77E1A2B3C4D5E"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// fakePlug emulates a websocket plug: it answers sign_in with session
// fields, verifies the device token on authenticated commands, and can
// push unsolicited event frames.
type fakePlug struct {
	t          *testing.T
	switchCode int          // code returned for set_setting
	pushEvent  chan message // frames to push unsolicited
	conns      chan *websocket.Conn
	writeMu    sync.Mutex
}

func (p *fakePlug) writeJSON(conn *websocket.Conn, frame message) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.WriteJSON(frame) //nolint:errcheck
}

func newFakePlug(t *testing.T) (*fakePlug, *Client) {
	t.Helper()

	plug := &fakePlug{
		t:         t,
		pushEvent: make(chan message, 4),
		conns:     make(chan *websocket.Conn, 1),
	}
	server := httptest.NewServer(http.HandlerFunc(plug.handle))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(Options{
		PIN:         testPIN,
		SocketCount: 4,
		URL:         url,
	})
	t.Cleanup(client.Disconnect)
	return plug, client
}

func (p *fakePlug) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("upgrade failed: %v", err)
		return
	}
	select {
	case p.conns <- conn:
	default:
	}

	go func() {
		for frame := range p.pushEvent {
			p.writeJSON(conn, frame)
		}
	}()

	for {
		var frame message
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		seq := frame["sequence_id"]
		switch frame["command"] {
		case "sign_in":
			p.writeJSON(conn, message{
				"sequence_id": seq,
				"salt":        testSalt,
				"device_id":   testDeviceID,
				"code":        0,
			})
		case "set_setting":
			wantToken := testDeviceID + "-" + dlink.SHA1Hex(testPIN+testSalt)
			if frame["device_token"] != wantToken {
				p.t.Errorf("device_token = %v, want %v", frame["device_token"], wantToken)
			}
			p.writeJSON(conn, message{
				"sequence_id": seq,
				"code":        p.switchCode,
			})
		case "keep_alive":
			p.writeJSON(conn, message{"sequence_id": seq, "code": 0})
		}
	}
}

// =============================================================================
// Sign-in Tests
// =============================================================================

func TestSignIn(t *testing.T) {
	_, client := newFakePlug(t)

	ok, err := client.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !ok {
		t.Fatal("SignIn() = false, want true")
	}
	if !client.LoggedIn() {
		t.Error("LoggedIn() = false after sign in")
	}
	if client.DeviceID() != testDeviceID {
		t.Errorf("DeviceID() = %q, want %q", client.DeviceID(), testDeviceID)
	}
	if client.ShortID() != "4D5E" {
		t.Errorf("ShortID() = %q, want 4D5E", client.ShortID())
	}
}

func TestSendNotConnected(t *testing.T) {
	client := NewClient(Options{Address: "192.0.2.1", PIN: testPIN})

	_, err := client.Send(context.Background(), message{"command": "sign_in"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Switch Tests
// =============================================================================

func TestSwitchUpdatesLocalState(t *testing.T) {
	_, client := newFakePlug(t)
	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	if err := client.Switch(ctx, true, 2); err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	on, err := client.Socket(2)
	if err != nil {
		t.Fatalf("Socket() error = %v", err)
	}
	if !on {
		t.Error("Socket(2) = false after Switch on")
	}

	sockets := client.Sockets()
	want := []bool{false, false, true, false}
	for i := range want {
		if sockets[i] != want[i] {
			t.Errorf("Sockets()[%d] = %v, want %v", i, sockets[i], want[i])
		}
	}
}

func TestSwitchDeviceError(t *testing.T) {
	plug, client := newFakePlug(t)
	plug.switchCode = 7
	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	err := client.Switch(ctx, true, 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Switch() error = %v, want APIError", err)
	}
	if apiErr.Code != 7 {
		t.Errorf("APIError.Code = %d, want 7", apiErr.Code)
	}

	if on, _ := client.Socket(0); on {
		t.Error("Socket(0) = true after failed Switch")
	}
}

func TestSwitchIndexOutOfRange(t *testing.T) {
	_, client := newFakePlug(t)

	if err := client.Switch(context.Background(), true, 9); !errors.Is(err, ErrSocketIndex) {
		t.Errorf("Switch() error = %v, want ErrSocketIndex", err)
	}
	if _, err := client.Socket(-1); !errors.Is(err, ErrSocketIndex) {
		t.Errorf("Socket() error = %v, want ErrSocketIndex", err)
	}
}

func TestSwitchRequiresSignIn(t *testing.T) {
	_, client := newFakePlug(t)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Switch(context.Background(), true, 0); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Switch() error = %v, want ErrNotLoggedIn", err)
	}
}

// =============================================================================
// Event Push Tests
// =============================================================================

func TestEventPushUpdatesSockets(t *testing.T) {
	plug, client := newFakePlug(t)
	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	plug.pushEvent <- message{
		"command": "event",
		"setting": []any{
			message{"idx": 1, "metadata": message{"value": 1}},
			message{"idx": 3, "metadata": message{"value": true}},
		},
	}

	deadline := time.After(2 * time.Second)
	for {
		sockets := client.Sockets()
		if sockets[1] && sockets[3] {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("event push not applied, sockets = %v", sockets)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// =============================================================================
// Disconnect Tests
// =============================================================================

func TestDisconnect(t *testing.T) {
	_, client := newFakePlug(t)
	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	client.Disconnect()

	if client.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if client.LoggedIn() {
		t.Error("LoggedIn() = true after Disconnect")
	}
}

func TestOnDisconnectCallback(t *testing.T) {
	plug, client := newFakePlug(t)
	dropped := make(chan error, 1)
	client.SetOnDisconnect(func(err error) { dropped <- err })

	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	// Server-side close simulates the device dropping the session.
	conn := <-plug.conns
	conn.Close() //nolint:errcheck

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	if client.Connected() {
		t.Error("Connected() = true after remote close")
	}
}

// =============================================================================
// Keep-alive and Dial Guard Tests
// =============================================================================

func TestKeepAliveUsesPingFrame(t *testing.T) {
	plug, client := newFakePlug(t)
	ctx := context.Background()
	if _, err := client.SignIn(ctx); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	pings := make(chan string, 1)
	conn := <-plug.conns
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- data:
		default:
		}
		return nil
	})

	client.keepAlive()

	select {
	case payload := <-pings:
		if !strings.Contains(payload, `"command":"keep_alive"`) {
			t.Errorf("ping payload = %q, want keep_alive envelope", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ping frame received")
	}
}

func TestConnectRefusedWhileDialing(t *testing.T) {
	_, client := newFakePlug(t)

	client.mu.Lock()
	client.dialing = true
	client.mu.Unlock()

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrDialInProgress) {
		t.Fatalf("Connect() error = %v, want ErrDialInProgress", err)
	}

	client.mu.Lock()
	client.dialing = false
	client.mu.Unlock()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() after dial finished: %v", err)
	}
}
