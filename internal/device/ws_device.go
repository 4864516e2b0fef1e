package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/dlinkws"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// wsReconnectDelay is the fixed backoff after the websocket drops.
// Reconnection is socket-driven, not poll-driven: a device with
// polling disabled still reconnects.
const wsReconnectDelay = 10 * time.Second

// wsDevice drives websocket plugs (DSP-W115, DSP-W245). The client is
// created eagerly so event pushes and the keep-alive run from the
// moment the first sign-in succeeds. Multi-socket models publish
// state_1..state_N alongside the plain state key for socket one.
type wsDevice struct {
	client   *dlinkws.Client
	identity *Identity
	desc     Descriptor
	store    StateStore
	logger   *logging.Logger

	mu            sync.Mutex
	closed        bool
	reconnect     *time.Timer
	transportDown func(err error)
}

func newWSDevice(identity *Identity, desc Descriptor, store StateStore, logger *logging.Logger) Hooks {
	if logger == nil {
		logger = logging.Default()
	}
	w := &wsDevice{
		identity: identity,
		desc:     desc,
		store:    store,
		logger:   logger,
	}
	w.client = dlinkws.NewClient(dlinkws.Options{
		Address:     identity.Address,
		PIN:         identity.PIN,
		SocketCount: desc.SocketCount,
		Logger:      logger,
	})
	w.client.SetOnDisconnect(w.onDisconnect)
	return w
}

// SetTransportDown installs the driver's out-of-band failure callback.
func (w *wsDevice) SetTransportDown(fn func(err error)) {
	w.mu.Lock()
	w.transportDown = fn
	w.mu.Unlock()
}

func (w *wsDevice) Login(ctx context.Context) (bool, error) {
	return w.client.SignIn(ctx)
}

func (w *wsDevice) LoggedIn() bool {
	return w.client.LoggedIn()
}

// Invalidate drops the connection; websocket sessions live on the
// socket, so the next Login dials and signs in afresh.
func (w *wsDevice) Invalidate() {
	w.client.Disconnect()
}

func (w *wsDevice) Close() {
	w.mu.Lock()
	w.closed = true
	if w.reconnect != nil {
		w.reconnect.Stop()
		w.reconnect = nil
	}
	w.mu.Unlock()
	w.client.Disconnect()
}

// Identify learns or verifies MAC and model. The websocket device id
// is the MAC in bare hex, so sign-in already carries the identity
// proof; the model comes from scraping the device's setup page, which
// newer firmwares expose unauthenticated.
func (w *wsDevice) Identify(ctx context.Context) (IdentifyOutcome, error) {
	deviceID := w.client.DeviceID()
	if deviceID == "" {
		return Ready(), fmt.Errorf("device %s: no device id, not signed in", w.identity.ID)
	}

	if isMACLike(deviceID) {
		liveMAC := dlink.FormatMAC(deviceID)
		switch {
		case w.identity.MAC == "":
			w.identity.MAC = liveMAC
		case w.identity.MAC != liveMAC:
			return RebuildWithMAC(liveMAC), nil
		}
	}

	liveModel := dlinkws.ProbeModel(ctx, w.identity.Address, 0)
	if liveModel != "" {
		switch {
		case w.identity.Model == "":
			w.identity.Model = liveModel
		case w.identity.Model != liveModel:
			return RebuildWithModel(liveModel), nil
		}
	}

	w.logger.Debug("device identified",
		"device_id", w.identity.ID,
		"model", w.identity.Model,
		"short_id", w.client.ShortID())
	return Ready(), nil
}

// Poll republishes the socket states. The client keeps them current
// from command replies and event pushes; the poll exists so retained
// state recovers after a broker restart and so reachability tracks the
// connection.
func (w *wsDevice) Poll(ctx context.Context) error {
	if !w.client.Connected() || !w.client.LoggedIn() {
		return fmt.Errorf("device %s: %w", w.identity.ID, dlinkws.ErrNotConnected)
	}
	w.publishSockets()
	return nil
}

func (w *wsDevice) HandleCommand(ctx context.Context, key, payload string) error {
	index, ok := socketIndexForKey(key, w.desc.SocketCount)
	if !ok {
		return fmt.Errorf("device %s: command %q: %w", w.identity.ID, key, ErrNotSupported)
	}

	on, err := strconv.ParseBool(payload)
	if err != nil {
		return fmt.Errorf("device %s: bad state payload %q: %w", w.identity.ID, payload, err)
	}
	if err := w.client.Switch(ctx, on, index); err != nil {
		return fmt.Errorf("switch socket %d: %w", index+1, err)
	}
	w.publishSockets()
	return nil
}

func (w *wsDevice) publishSockets() {
	if w.store == nil {
		return
	}
	states := w.client.Sockets()
	for i, on := range states {
		if i == 0 {
			w.store.SetState(w.identity.ID, KeyState, on)
		}
		if len(states) > 1 {
			w.store.SetState(w.identity.ID, fmt.Sprintf("%s_%d", KeyState, i+1), on)
		}
	}
}

// onDisconnect runs when the socket drops outside an explicit Close.
// It tells the driver and arms a single reconnect attempt; a failed
// attempt drops the socket again, which re-arms through this same
// path.
func (w *wsDevice) onDisconnect(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	notify := w.transportDown
	if w.reconnect != nil {
		w.reconnect.Stop()
	}
	w.reconnect = time.AfterFunc(wsReconnectDelay, w.tryReconnect)
	w.mu.Unlock()

	if notify != nil {
		notify(err)
	}
}

func (w *wsDevice) tryReconnect() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	ok, err := w.client.SignIn(ctx)
	if err != nil || !ok {
		w.logger.Debug("websocket reconnect failed",
			"device_id", w.identity.ID,
			"error", err)
		// SignIn failure without an open socket does not fire the
		// disconnect callback, so re-arm here.
		w.mu.Lock()
		if !w.closed {
			w.reconnect = time.AfterFunc(wsReconnectDelay, w.tryReconnect)
		}
		w.mu.Unlock()
		return
	}

	w.logger.Info("websocket reconnected", "device_id", w.identity.ID)
	w.publishSockets()
}

// socketIndexForKey maps a command key to a zero-based socket index:
// "state" is socket one, "state_N" is socket N.
func socketIndexForKey(key string, socketCount int) (int, bool) {
	if key == KeyState {
		return 0, true
	}
	rest, found := strings.CutPrefix(key, KeyState+"_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > socketCount {
		return 0, false
	}
	return n - 1, true
}

// isMACLike reports whether s is twelve hex digits.
func isMACLike(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
