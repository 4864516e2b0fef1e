package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/hnap"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

const (
	// defaultOpTimeout bounds a single transport operation.
	defaultOpTimeout = 10 * time.Second

	// loginRetryDelay is the one-shot retry delay used when polling is
	// disabled and the initial login fails - without it a device with
	// no poll interval would never get a second chance.
	loginRetryDelay = 10 * time.Second
)

// State keys the driver itself publishes. Variant hooks publish their
// own telemetry keys on top of these.
const (
	KeyEnabled     = "enabled"
	KeyReachable   = "reachable"
	KeyUnreachable = "unreachable"
	KeyName        = "name"
	KeyModel       = "model"
)

// DriverDeps carries everything a driver needs. All fields are
// required except Logger, which falls back to the process default.
type DriverDeps struct {
	Identity *Identity
	Desc     Descriptor
	Hooks    Hooks
	Store    StateStore
	Logger   *logging.Logger
	Timeout  time.Duration
}

// Driver owns the lifecycle of one device: login, identity
// verification, scheduled polling, command handling and teardown. All
// variant behaviour lives behind Hooks; the driver is the same for
// every model.
type Driver struct {
	identity *Identity
	desc     Descriptor
	hooks    Hooks
	store    StateStore
	logger   *logging.Logger
	timeout  time.Duration

	// opMu serializes transport operations so hooks never run
	// concurrently for the same device.
	opMu sync.Mutex

	mu           sync.Mutex
	started      bool
	ready        bool
	identified   bool
	errorPrinted bool
	sched        *scheduler
	retry        *scheduler
	cancel       context.CancelFunc
	ctx          context.Context
}

// NewDriver wires a driver over the given hooks. The poll scheduler is
// created but not armed until Start.
func NewDriver(deps DriverDeps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	d := &Driver{
		identity: deps.Identity,
		desc:     deps.Desc,
		hooks:    deps.Hooks,
		store:    deps.Store,
		logger:   logger,
		timeout:  timeout,
	}

	if interval, _, enabled := deps.Identity.PollInterval(); enabled {
		d.sched = newScheduler(interval, d.onInterval)
	}

	if tn, ok := deps.Hooks.(transportNotifier); ok {
		tn.SetTransportDown(d.transportDown)
	}
	return d
}

// transportNotifier is implemented by hooks whose transport can drop
// out-of-band (websocket devices). The driver installs a callback so a
// dropped connection immediately marks the device unreachable.
type transportNotifier interface {
	SetTransportDown(func(err error))
}

// Identity returns a snapshot of the device identity.
func (d *Driver) Identity() Identity {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return *d.identity
}

// ID returns the device id. Stable for the driver's lifetime.
func (d *Driver) ID() string {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.identity.ID
}

// Ready reports whether the last liveness pass succeeded.
func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// LoggedIn reports whether the transport session is authenticated.
func (d *Driver) LoggedIn() bool {
	return d.hooks.LoggedIn()
}

// Identified reports whether identity has been verified against live
// device data.
func (d *Driver) Identified() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identified
}

// Descriptor returns the capability descriptor the driver was built
// with.
func (d *Driver) Descriptor() Descriptor {
	return d.desc
}

// Start brings the device up: login, an identify pass, initial state
// publication and the poll schedule. Starting a running device stops
// it first. The returned outcome is what the identify pass concluded;
// only the factory acts on NeedsRebuild.
func (d *Driver) Start(ctx context.Context) (IdentifyOutcome, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.Stop()
		d.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.ctx = runCtx
	d.cancel = cancel
	d.started = true
	d.mu.Unlock()

	d.opMu.Lock()
	defer d.opMu.Unlock()

	id := d.identity
	d.publish(KeyEnabled, id.Enabled)
	if id.Name != "" {
		d.publish(KeyName, id.Name)
	}
	if id.Model != "" {
		d.publish(KeyModel, id.Model)
	}
	if !id.Enabled {
		d.logger.Info("device disabled, not starting",
			"device_id", id.ID)
		return Ready(), nil
	}

	outcome := Ready()
	ok, err := d.login(ctx)
	switch {
	case err != nil || !ok:
		// Initial login failed. With polling enabled the next tick
		// retries; without it we arm a single delayed retry so the
		// device is not stranded until restart. The retry must not
		// turn into a poll loop on a polling-disabled device.
		d.mu.Lock()
		if d.sched == nil {
			if d.retry == nil {
				d.retry = newOneShotScheduler(loginRetryDelay, d.onInterval)
			}
			d.retry.StartAfter(loginRetryDelay)
			d.mu.Unlock()
			return outcome, err
		}
		d.mu.Unlock()
	default:
		outcome = d.identify(ctx)
		if outcome.NeedsRebuild {
			return outcome, nil
		}
		if pollErr := d.poll(ctx); pollErr != nil {
			d.handleNetworkError("poll", pollErr)
		} else {
			d.markReachable()
		}
	}

	d.mu.Lock()
	sched := d.sched
	d.mu.Unlock()
	if sched != nil {
		sched.Start()
	}
	return outcome, err
}

// Stop tears the device down: poll schedule cancelled, transport
// closed, reachability cleared. Idempotent; a tick in flight completes
// but does not re-arm.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	if d.cancel != nil {
		d.cancel()
	}
	sched := d.sched
	retry := d.retry
	d.ready = false
	d.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if retry != nil {
		retry.Stop()
	}

	d.opMu.Lock()
	d.hooks.Close()
	d.opMu.Unlock()

	d.logger.Debug("device stopped", "device_id", d.identity.ID)
}

// HandleCommand applies an inbound command. A logged-out session gets
// one opportunistic login first; transport failures feed the same
// error handling as the poll path.
func (d *Driver) HandleCommand(ctx context.Context, key, payload string) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !d.identity.Enabled {
		return ErrDisabled
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	if !d.hooks.LoggedIn() {
		if ok, err := d.login(ctx); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("device %s: login rejected", d.identity.ID)
			}
			return err
		}
	}

	cmdCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.hooks.HandleCommand(cmdCtx, key, payload); err != nil {
		d.handleNetworkError("command "+key, err)
		return err
	}
	d.markReachable()
	return nil
}

// onInterval is the scheduled pass: ensure login, ensure identity,
// poll. Identity conflicts found here are logged and leave the device
// unidentified - rebuilds only happen through the factory at start.
func (d *Driver) onInterval() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	ctx := d.ctx
	d.mu.Unlock()

	d.opMu.Lock()
	defer d.opMu.Unlock()

	if !d.hooks.LoggedIn() {
		if ok, err := d.login(ctx); err != nil || !ok {
			return
		}
	}

	d.mu.Lock()
	identified := d.identified
	d.mu.Unlock()
	if !identified {
		if outcome := d.identify(ctx); outcome.NeedsRebuild {
			d.logger.Warn("identity conflict on running device, leaving unidentified",
				"device_id", d.identity.ID,
				"reason", string(outcome.Reason))
			return
		}
	}

	if err := d.poll(ctx); err != nil {
		d.handleNetworkError("poll", err)
		return
	}
	d.markReachable()
}

// poll runs hooks.Poll under the operation timeout.
func (d *Driver) poll(parent context.Context) error {
	ctx, cancel := d.opCtx(parent)
	defer cancel()
	return d.hooks.Poll(ctx)
}

// login runs hooks.Login under the operation timeout and feeds
// failures through the shared error handling.
func (d *Driver) login(parent context.Context) (bool, error) {
	ctx, cancel := d.opCtx(parent)
	defer cancel()
	ok, err := d.hooks.Login(ctx)
	if err != nil {
		d.handleNetworkError("login", err)
		return false, err
	}
	if !ok {
		d.logger.Warn("login rejected, check PIN",
			"device_id", d.identity.ID,
			"address", d.identity.Address)
		return false, nil
	}
	d.logger.Debug("login ok", "device_id", d.identity.ID)
	return true, nil
}

// identify runs hooks.Identify, updating the identified flag and
// republishing learned identity fields. Errors are caught and logged,
// never returned: an identify that could not complete is retried on
// the next tick.
func (d *Driver) identify(parent context.Context) IdentifyOutcome {
	ctx, cancel := d.opCtx(parent)
	defer cancel()
	outcome, err := d.hooks.Identify(ctx)
	if err != nil {
		d.handleNetworkError("identify", err)
		return Ready()
	}
	if outcome.NeedsRebuild {
		return outcome
	}

	d.mu.Lock()
	d.identified = true
	d.mu.Unlock()

	if d.identity.Name != "" {
		d.publish(KeyName, d.identity.Name)
	}
	if d.identity.Model != "" {
		d.publish(KeyModel, d.identity.Model)
	}
	return outcome
}

// markReachable records a successful pass and clears any error streak.
func (d *Driver) markReachable() {
	d.mu.Lock()
	wasReady := d.ready
	d.ready = true
	d.errorPrinted = false
	d.mu.Unlock()

	// Publish on every pass; the state bus drops unchanged values, and
	// a restart must still see the current reachability.
	d.publish(KeyReachable, true)
	d.publish(KeyUnreachable, false)
	if !wasReady {
		d.logger.Info("device reachable", "device_id", d.identity.ID)
	}
}

// handleNetworkError is the single funnel for transport failures.
// Session expiry invalidates the login so the next pass performs a
// full handshake; everything marks the device unreachable. Transient
// network noise stays at debug; other failures get one error line per
// streak.
func (d *Driver) handleNetworkError(op string, err error) {
	if sessionExpired(err) {
		d.hooks.Invalidate()
	}

	d.mu.Lock()
	d.ready = false
	printed := d.errorPrinted
	d.errorPrinted = true
	d.mu.Unlock()

	d.publish(KeyReachable, false)
	d.publish(KeyUnreachable, true)

	if dlink.IsTransientNetError(err) || printed {
		d.logger.Debug("device operation failed",
			"device_id", d.identity.ID,
			"op", op,
			"error", err)
		return
	}
	d.logger.Error("device operation failed",
		"device_id", d.identity.ID,
		"address", d.identity.Address,
		"op", op,
		"error", err)
}

// transportDown is installed on hooks whose transport can drop
// asynchronously.
func (d *Driver) transportDown(err error) {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}
	if err == nil {
		err = errors.New("device: transport closed")
	}
	d.handleNetworkError("transport", err)
}

func (d *Driver) publish(key string, value any) {
	if d.store == nil {
		return
	}
	d.store.SetState(d.identity.ID, key, value)
}

func (d *Driver) opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d.timeout)
}

// sessionExpired reports whether err means the device-side session is
// gone: an explicit 403, the firmware's 424 variant, or an ERROR
// result the SOAP layer mapped to request failure.
func sessionExpired(err error) bool {
	if hnap.SessionExpired(err) {
		return true
	}
	var statusErr *hnap.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 403 || statusErr.Code == 424
	}
	return false
}
