package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/dlinkws"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/dlink-core/internal/infrastructure/mqtt"
)

const (
	// multicastGroup is the mDNS group D-Link devices announce on.
	multicastGroup = "224.0.0.251:5353"

	// dcpService marks the announcement of websocket-generation
	// devices; they answer a sign-in probe with their MAC.
	dcpService = "_dcp"

	// probeInterval rate-limits sign-in probes per source address.
	probeInterval = 5 * time.Minute

	// candidateTTL drops candidates that stopped announcing.
	candidateTTL = 24 * time.Hour

	readBufferSize = 9000
)

// Candidate is an observed but unmanaged device. Candidates are never
// added automatically; promotion is an explicit operation with a PIN
// the operator supplies.
type Candidate struct {
	ID        string    `json:"id"`
	MAC       string    `json:"mac"`
	Address   string    `json:"address"`
	Model     string    `json:"model,omitempty"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Fleet is the slice of the device manager discovery talks to.
type Fleet interface {
	// KnownMAC reports whether a MAC already belongs to a managed device.
	KnownMAC(ctx context.Context, mac string) bool

	// HandleDiscovered applies an observation of a managed device.
	HandleDiscovered(ctx context.Context, mac, address, model string) error
}

// Publisher announces candidates on the MQTT discovery topics.
type Publisher interface {
	PublishString(topic string, payload string, qos byte, retained bool) error
}

// Listener joins the mDNS multicast group and watches for D-Link
// device announcements. Two shapes appear on real networks: newer
// websocket devices announce a _dcp service and reveal their MAC only
// to a sign-in probe, while older SOAP devices put mac= and mid= pairs
// straight into their TXT records.
//
// Observed MACs are cross-referenced against the fleet: known devices
// flow back as address or model updates, unknown ones become
// candidates an operator can promote.
type Listener struct {
	fleet     Fleet
	publisher Publisher
	logger    *logging.Logger
	iface     string
	topics    mqtt.Topics

	// probeFn learns MAC and model from a websocket device at an
	// address. Swapped by tests.
	probeFn func(ctx context.Context, address string) (mac, model string, err error)

	mu         sync.Mutex
	conn       *net.UDPConn
	running    bool
	candidates map[string]*Candidate
	probed     map[string]time.Time
	pending    map[string]map[string]string
	wg         sync.WaitGroup
}

// Deps wires a Listener. Fleet is required; Publisher and Logger are
// optional.
type Deps struct {
	Fleet     Fleet
	Publisher Publisher
	Logger    *logging.Logger

	// Interface is the network interface name for the multicast join.
	// Empty means the system default.
	Interface string
}

func New(deps Deps) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	l := &Listener{
		fleet:      deps.Fleet,
		publisher:  deps.Publisher,
		logger:     logger,
		iface:      deps.Interface,
		candidates: make(map[string]*Candidate),
		probed:     make(map[string]time.Time),
		pending:    make(map[string]map[string]string),
	}
	l.probeFn = l.signInProbe
	return l
}

// Start joins the multicast group and begins processing announcements.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		return fmt.Errorf("discovery: resolving group: %w", err)
	}

	var iface *net.Interface
	if l.iface != "" {
		iface, err = net.InterfaceByName(l.iface)
		if err != nil {
			return fmt.Errorf("discovery: interface %q: %w", l.iface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, addr)
	if err != nil {
		return fmt.Errorf("discovery: joining multicast group: %w", err)
	}
	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		l.logger.Debug("set read buffer", "error", err)
	}

	l.conn = conn
	l.running = true
	l.wg.Add(1)
	go l.readLoop(ctx, conn)

	l.logger.Info("discovery listening", "group", multicastGroup)
	return nil
}

// Stop leaves the multicast group and waits for the read loop to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck // closing to unblock the read loop
	}
	l.wg.Wait()
	l.logger.Info("discovery stopped")
}

// Candidates returns a snapshot of current candidates, stale entries
// pruned.
func (l *Listener) Candidates() []Candidate {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Candidate, 0, len(l.candidates))
	for id, c := range l.candidates {
		if now.Sub(c.LastSeen) > candidateTTL {
			delete(l.candidates, id)
			continue
		}
		out = append(out, *c)
	}
	return out
}

// Candidate returns one candidate by id.
func (l *Listener) Candidate(id string) (Candidate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.candidates[id]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// Forget drops a candidate, typically after promotion.
func (l *Listener) Forget(id string) {
	l.mu.Lock()
	_, ok := l.candidates[id]
	delete(l.candidates, id)
	l.mu.Unlock()
	if ok && l.publisher != nil {
		topic := l.topics.DiscoveryCandidate(id)
		l.publisher.PublishString(topic, "", 1, true) //nolint:errcheck // clearing retained payload
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *net.UDPConn) {
	defer l.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			l.mu.Lock()
			running := l.running
			l.mu.Unlock()
			if running {
				l.logger.Warn("discovery read failed", "error", err)
			}
			return
		}
		l.handlePacket(ctx, buf[:n], src.IP.String())
	}
}

// handlePacket inspects one mDNS datagram. Full DNS decoding is not
// needed: the service marker and the TXT key=value pairs are
// recognisable in the raw bytes, and anything else is ignored.
func (l *Listener) handlePacket(ctx context.Context, data []byte, sourceIP string) {
	if containsService(data, dcpService) {
		l.scheduleProbe(ctx, sourceIP)
	}

	pairs := extractTXTPairs(data)
	if len(pairs) == 0 {
		return
	}
	l.accumulateTXT(ctx, sourceIP, pairs)
}

// scheduleProbe signs in to a websocket device to learn its MAC,
// rate-limited per address. The probe session is thrown away.
func (l *Listener) scheduleProbe(ctx context.Context, address string) {
	l.mu.Lock()
	if last, ok := l.probed[address]; ok && time.Since(last) < probeInterval {
		l.mu.Unlock()
		return
	}
	l.probed[address] = time.Now()
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		mac, model, err := l.probeFn(probeCtx, address)
		if err != nil || mac == "" {
			l.logger.Debug("discovery probe failed",
				"address", address,
				"error", err)
			return
		}
		l.observed(probeCtx, mac, address, model, "probe")
	}()
}

// signInProbe is the production probeFn: a throwaway websocket sign-in
// reveals the device id (its MAC), and the setup page names the model.
func (l *Listener) signInProbe(ctx context.Context, address string) (mac, model string, err error) {
	client := dlinkws.NewClient(dlinkws.Options{
		Address: address,
		Logger:  l.logger,
	})
	defer client.Disconnect()

	ok, err := client.SignIn(ctx)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("discovery: sign-in refused by %s", address)
	}

	model = dlinkws.ProbeModel(ctx, address, 0)
	return dlink.FormatMAC(client.DeviceID()), model, nil
}

// accumulateTXT merges TXT pairs per source address; devices split
// their announcement across datagrams, so mac= and mid= may arrive
// separately.
func (l *Listener) accumulateTXT(ctx context.Context, sourceIP string, pairs map[string]string) {
	l.mu.Lock()
	acc, ok := l.pending[sourceIP]
	if !ok {
		acc = make(map[string]string)
		l.pending[sourceIP] = acc
	}
	for k, v := range pairs {
		acc[k] = v
	}
	mac := acc["mac"]
	model := acc["mid"]
	isDLink := strings.EqualFold(acc["mydlink"], "true")
	l.mu.Unlock()

	if !isDLink || mac == "" {
		return
	}
	l.observed(ctx, dlink.FormatMAC(mac), sourceIP, model, "txt")
}

// observed routes a learned MAC: managed devices flow to the fleet,
// everything else becomes or refreshes a candidate.
func (l *Listener) observed(ctx context.Context, mac, address, model, source string) {
	if mac == "" {
		return
	}

	if l.fleet != nil && l.fleet.KnownMAC(ctx, mac) {
		if err := l.fleet.HandleDiscovered(ctx, mac, address, model); err != nil {
			l.logger.Warn("discovery update rejected",
				"mac", mac,
				"address", address,
				"error", err)
		}
		return
	}

	id := dlink.IDFromMAC(mac)
	now := time.Now()

	l.mu.Lock()
	c, ok := l.candidates[id]
	if !ok {
		c = &Candidate{
			ID:        id,
			MAC:       mac,
			FirstSeen: now,
		}
		l.candidates[id] = c
	}
	changed := !ok || c.Address != address || (model != "" && c.Model != model)
	c.Address = address
	if model != "" {
		c.Model = model
	}
	c.Source = source
	c.LastSeen = now
	snapshot := *c
	l.mu.Unlock()

	if !ok {
		l.logger.Info("discovered unmanaged device",
			"mac", mac,
			"address", address,
			"model", model,
			"source", source)
	}
	if changed {
		l.publishCandidate(snapshot)
	}
}

func (l *Listener) publishCandidate(c Candidate) {
	if l.publisher == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		l.logger.Error("marshal candidate", "error", err)
		return
	}
	topic := l.topics.DiscoveryCandidate(c.ID)
	if err := l.publisher.PublishString(topic, string(payload), 1, true); err != nil {
		l.logger.Warn("publish candidate", "topic", topic, "error", err)
	}
}
