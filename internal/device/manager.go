package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/dlink-core/internal/infrastructure/mqtt"
)

// CommandBus is the slice of the MQTT client the manager needs:
// command subscription and diagnostic publishing. Tests substitute a
// fake; production passes *mqtt.Client.
type CommandBus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishString(topic string, payload string, qos byte, retained bool) error
}

// Status is a device's identity plus its live lifecycle flags, the
// shape the API serves.
type Status struct {
	Identity   Identity `json:"identity"`
	Ready      bool     `json:"ready"`
	Identified bool     `json:"identified"`
	LoggedIn   bool     `json:"logged_in"`
}

// ManagerDeps wires a Manager.
type ManagerDeps struct {
	Repo    Repository
	Factory *Factory
	Bus     CommandBus
	Logger  *logging.Logger
}

// Manager owns the device fleet: it loads identities from the
// repository at startup, runs one driver per device, routes inbound
// MQTT commands, and applies discovery updates. All mutations go
// through the Manager so the repository and the running drivers never
// disagree.
type Manager struct {
	repo    Repository
	factory *Factory
	bus     CommandBus
	logger  *logging.Logger
	topics  mqtt.Topics

	mu      sync.Mutex
	drivers map[string]*Driver
	started bool
}

func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		repo:    deps.Repo,
		factory: deps.Factory,
		bus:     deps.Bus,
		logger:  logger,
		drivers: make(map[string]*Driver),
	}
}

// Start loads every stored device, starts their drivers concurrently
// and subscribes to the command topic. Individual device failures are
// logged, never fatal: an unreachable plug must not stop the fleet.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	identities, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	var wg sync.WaitGroup
	for i := range identities {
		identity := identities[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.startOne(ctx, &identity)
		}()
	}
	wg.Wait()

	if m.bus != nil {
		if err := m.bus.Subscribe(m.topics.AllDeviceCommands(), 1, m.handleCommand); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	m.logger.Info("device manager started", "devices", len(identities))
	return nil
}

// Stop tears down every driver and the command subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	drivers := make([]*Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.drivers = make(map[string]*Driver)
	m.mu.Unlock()

	if m.bus != nil {
		if err := m.bus.Unsubscribe(m.topics.AllDeviceCommands()); err != nil {
			m.logger.Warn("unsubscribe commands", "error", err)
		}
	}
	for _, d := range drivers {
		d.Stop()
	}
	m.logger.Info("device manager stopped")
}

// Add validates, persists and starts a new device. The id derives from
// the MAC when one is given; a device added by address alone gets an
// address-derived id that a later identity rebuild corrects.
func (m *Manager) Add(ctx context.Context, identity Identity) (*Status, error) {
	if identity.Address == "" {
		return nil, fmt.Errorf("device: address required")
	}
	identity.MAC = dlink.FormatMAC(identity.MAC)
	if identity.ID == "" {
		if identity.MAC != "" {
			identity.ID = dlink.IDFromMAC(identity.MAC)
		} else {
			identity.ID = addressID(identity.Address)
		}
	}
	if ms, clamped, _ := ClampPollInterval(identity.PollIntervalMs); clamped {
		m.logger.Warn("poll interval clamped",
			"device_id", identity.ID,
			"requested_ms", identity.PollIntervalMs,
			"clamped_ms", ms)
		identity.PollIntervalMs = ms
	}

	if err := m.repo.Create(ctx, &identity); err != nil {
		return nil, err
	}
	driver := m.startOne(ctx, &identity)
	return m.statusOf(driver), nil
}

// Update persists changed identity fields and restarts the driver so
// they take effect.
func (m *Manager) Update(ctx context.Context, identity Identity) (*Status, error) {
	identity.MAC = dlink.FormatMAC(identity.MAC)
	if ms, clamped, _ := ClampPollInterval(identity.PollIntervalMs); clamped {
		identity.PollIntervalMs = ms
	}
	if err := m.repo.Update(ctx, &identity); err != nil {
		return nil, err
	}

	m.stopOne(identity.ID)
	driver := m.startOne(ctx, &identity)
	return m.statusOf(driver), nil
}

// Remove stops and deletes a device.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.stopOne(id)
	return m.repo.Delete(ctx, id)
}

// Get returns the live status of one device.
func (m *Manager) Get(id string) (*Status, error) {
	m.mu.Lock()
	driver, ok := m.drivers[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.statusOf(driver), nil
}

// List returns the live status of every running device.
func (m *Manager) List() []Status {
	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(drivers))
	for _, d := range drivers {
		statuses = append(statuses, *m.statusOf(d))
	}
	return statuses
}

// HandleCommand routes a command to a running device, for callers that
// are not MQTT (the HTTP API).
func (m *Manager) HandleCommand(ctx context.Context, id, key, payload string) error {
	m.mu.Lock()
	driver, ok := m.drivers[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return driver.HandleCommand(ctx, key, payload)
}

// HandleDiscovered applies a discovery observation to a known device:
// a moved device gets its new address persisted and its driver
// restarted; a websocket device that finally revealed its model gets
// the model recorded.
func (m *Manager) HandleDiscovered(ctx context.Context, mac, address, model string) error {
	mac = dlink.FormatMAC(mac)
	identity, err := m.repo.GetByMAC(ctx, mac)
	if err != nil {
		return err
	}

	changed := false
	if address != "" && identity.Address != address {
		m.logger.Info("device moved, updating address",
			"device_id", identity.ID,
			"old_address", identity.Address,
			"new_address", address)
		identity.Address = address
		changed = true
	}
	if model != "" && identity.Model == "" {
		identity.Model = model
		if desc, known := Lookup(model); known {
			identity.UseWebsocket = desc.UseWebsocket
		}
		changed = true
	}
	if !changed {
		return nil
	}

	if err := m.repo.Update(ctx, identity); err != nil {
		return fmt.Errorf("persisting discovery update: %w", err)
	}
	m.stopOne(identity.ID)
	m.startOne(ctx, identity)
	return nil
}

// KnownMAC reports whether a MAC belongs to a managed device, used by
// discovery to separate known devices from candidates.
func (m *Manager) KnownMAC(ctx context.Context, mac string) bool {
	_, err := m.repo.GetByMAC(ctx, dlink.FormatMAC(mac))
	return err == nil
}

// IdentifyAt performs a one-shot identification of a device at an
// address without persisting anything: SOAP first, websocket if SOAP
// cannot log in. Used when promoting a discovery candidate.
func (m *Manager) IdentifyAt(ctx context.Context, address, pin string) (Identity, error) {
	probe := Identity{
		ID:             "probe-" + addressID(address),
		Address:        address,
		PIN:            pin,
		Enabled:        true,
		PollIntervalMs: -1,
	}

	for _, useWS := range []bool{false, true} {
		probe.UseWebsocket = useWS
		driver := m.factory.Build(&probe)
		_, err := driver.Start(ctx)
		loggedIn := driver.LoggedIn()
		identified := driver.Identified()
		driver.Stop()
		if loggedIn && identified {
			return probe, nil
		}
		if err != nil {
			m.logger.Debug("identify probe failed",
				"address", address,
				"websocket", useWS,
				"error", err)
		}
	}
	return Identity{}, fmt.Errorf("device at %s: %w", address, ErrNotFound)
}

// startOne builds and starts a driver, registering it in the fleet.
// Never fails: an unreachable device stays registered with its retry
// schedule running.
func (m *Manager) startOne(ctx context.Context, identity *Identity) *Driver {
	driver, err := m.factory.BuildAndStart(ctx, identity)
	if err != nil {
		m.logger.Warn("device start incomplete",
			"device_id", identity.ID,
			"error", err)
	}

	m.mu.Lock()
	// BuildAndStart may have corrected the id during a rebuild.
	m.drivers[driver.ID()] = driver
	m.mu.Unlock()
	return driver
}

func (m *Manager) stopOne(id string) {
	m.mu.Lock()
	driver, ok := m.drivers[id]
	delete(m.drivers, id)
	m.mu.Unlock()
	if ok {
		driver.Stop()
	}
}

func (m *Manager) statusOf(driver *Driver) *Status {
	return &Status{
		Identity:   driver.Identity(),
		Ready:      driver.Ready(),
		Identified: driver.Identified(),
		LoggedIn:   driver.LoggedIn(),
	}
}

// handleCommand fans an MQTT command frame into the owning driver.
// Topic shape: dlink/command/<device-id>/<key>.
func (m *Manager) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return fmt.Errorf("device: malformed command topic %q", topic)
	}
	id, key := parts[2], parts[3]

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := m.HandleCommand(ctx, id, key, string(payload)); err != nil {
		m.logger.Warn("command failed",
			"device_id", id,
			"command", key,
			"error", err)
		return err
	}
	return nil
}

// addressID turns an IP into a usable device id for devices whose MAC
// is not yet known.
func addressID(address string) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(address)
}

// BusReporter publishes unknown-model diagnostics on the discovery
// report topic.
type BusReporter struct {
	bus    CommandBus
	logger *logging.Logger
	topics mqtt.Topics
}

func NewBusReporter(bus CommandBus, logger *logging.Logger) *BusReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &BusReporter{bus: bus, logger: logger}
}

// ReportUnknownModel publishes one JSON report describing a model the
// catalog does not know, including the raw description documents when
// the transport could supply them.
func (r *BusReporter) ReportUnknownModel(deviceID, model, settingsXML, profilesXML string) {
	report := map[string]any{
		"device_id":   deviceID,
		"model":       model,
		"reported_at": time.Now().UTC().Format(time.RFC3339),
	}
	if settingsXML != "" {
		report["device_settings"] = settingsXML
	}
	if profilesXML != "" {
		report["module_profiles"] = profilesXML
	}

	payload, err := json.Marshal(report)
	if err != nil {
		r.logger.Error("marshal unknown-model report", "error", err)
		return
	}
	if err := r.bus.PublishString(r.topics.DiscoveryReport(), string(payload), 1, false); err != nil {
		r.logger.Warn("publish unknown-model report", "error", err)
	}
}
