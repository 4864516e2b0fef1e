package discovery

import (
	"context"
	"sync"
	"testing"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeFleet struct {
	mu       sync.Mutex
	known    map[string]bool
	observed []string
}

func (f *fakeFleet) KnownMAC(_ context.Context, mac string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[mac]
}

func (f *fakeFleet) HandleDiscovered(_ context.Context, mac, address, model string) error {
	f.mu.Lock()
	f.observed = append(f.observed, mac+"@"+address+"#"+model)
	f.mu.Unlock()
	return nil
}

type fakeDiscoveryPub struct {
	mu      sync.Mutex
	records map[string]string
}

func (p *fakeDiscoveryPub) PublishString(topic, payload string, _ byte, _ bool) error {
	p.mu.Lock()
	if p.records == nil {
		p.records = make(map[string]string)
	}
	p.records[topic] = payload
	p.mu.Unlock()
	return nil
}

func testListener(fleet Fleet, pub Publisher) *Listener {
	return New(Deps{Fleet: fleet, Publisher: pub})
}

// txt builds a fake datagram fragment of length-prefixed strings.
func txt(pairs ...string) []byte {
	var out []byte
	for _, p := range pairs {
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	return out
}

// ============================================================================
// Packet parsing
// ============================================================================

func TestContainsService(t *testing.T) {
	packet := append([]byte{0x00, 0x00}, txt("_dcp", "_tcp", "local")...)
	if !containsService(packet, "_dcp") {
		t.Fatal("service marker not found")
	}
	if containsService([]byte("mentions _dcp in text without prefix"), "_dcp") {
		t.Fatal("marker matched without its length prefix")
	}
}

func TestExtractTXTPairs(t *testing.T) {
	packet := append([]byte{0x84, 0x00, 0x00}, txt("mac=AA:BB:CC:DD:EE:FF", "mid=DCH-S150", "mydlink=true")...)
	pairs := extractTXTPairs(packet)
	if pairs["mac"] != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("mac = %q", pairs["mac"])
	}
	if pairs["mid"] != "DCH-S150" {
		t.Fatalf("mid = %q", pairs["mid"])
	}
	if pairs["mydlink"] != "true" {
		t.Fatalf("mydlink = %q", pairs["mydlink"])
	}
}

func TestExtractTXTPairsIgnoresBinaryNoise(t *testing.T) {
	noise := []byte{0x00, 0x01, 0xff, 0xfe, 0x03, 0x00, 0x00, 0x29}
	if pairs := extractTXTPairs(noise); pairs != nil {
		t.Fatalf("noise produced pairs: %v", pairs)
	}
}

// ============================================================================
// Observation routing
// ============================================================================

func TestTXTAnnouncementBecomesCandidate(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{}}
	pub := &fakeDiscoveryPub{}
	l := testListener(fleet, pub)

	packet := txt("mac=AA:BB:CC:DD:EE:FF", "mid=DCH-S150", "mydlink=true")
	l.handlePacket(context.Background(), packet, "192.168.1.77")

	candidates := l.Candidates()
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.ID != "AABBCCDDEEFF" || c.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("candidate = %+v", c)
	}
	if c.Address != "192.168.1.77" || c.Model != "DCH-S150" || c.Source != "txt" {
		t.Fatalf("candidate = %+v", c)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if _, ok := pub.records["dlink/discovery/candidate/AABBCCDDEEFF"]; !ok {
		t.Fatal("candidate not published")
	}
}

func TestTXTPairsAccumulateAcrossDatagrams(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{}}
	l := testListener(fleet, nil)
	ctx := context.Background()

	// The mac arrives alone first - not enough to act on.
	l.handlePacket(ctx, txt("mac=AA:BB:CC:DD:EE:FF"), "192.168.1.77")
	if len(l.Candidates()) != 0 {
		t.Fatal("acted before mydlink=true arrived")
	}

	// The vendor marker arrives in a later datagram from the same host.
	l.handlePacket(ctx, txt("mydlink=true", "mid=DCH-S160"), "192.168.1.77")
	candidates := l.Candidates()
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates after accumulation, want 1", len(candidates))
	}
	if candidates[0].Model != "DCH-S160" {
		t.Fatalf("model = %q", candidates[0].Model)
	}
}

func TestKnownDeviceRoutedToFleet(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{"AA:BB:CC:DD:EE:FF": true}}
	l := testListener(fleet, nil)

	packet := txt("mac=AA:BB:CC:DD:EE:FF", "mydlink=true")
	l.handlePacket(context.Background(), packet, "192.168.1.99")

	if len(l.Candidates()) != 0 {
		t.Fatal("managed device must not become a candidate")
	}
	fleet.mu.Lock()
	defer fleet.mu.Unlock()
	if len(fleet.observed) != 1 || fleet.observed[0] != "AA:BB:CC:DD:EE:FF@192.168.1.99#" {
		t.Fatalf("fleet observations = %v", fleet.observed)
	}
}

func TestNonDLinkTXTIgnored(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{}}
	l := testListener(fleet, nil)

	packet := txt("mac=AA:BB:CC:DD:EE:FF", "vendor=other")
	l.handlePacket(context.Background(), packet, "192.168.1.50")

	if len(l.Candidates()) != 0 {
		t.Fatal("non-D-Link TXT record produced a candidate")
	}
}

func TestServiceMarkerTriggersProbe(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{}}
	l := testListener(fleet, nil)

	probed := make(chan string, 2)
	l.probeFn = func(_ context.Context, address string) (string, string, error) {
		probed <- address
		return "34:D7:7E:1A:2B:3C", "DSP-W115", nil
	}

	packet := append([]byte{0x00}, txt("_dcp", "_tcp")...)
	l.handlePacket(context.Background(), packet, "192.168.1.42")
	l.wg.Wait()

	select {
	case addr := <-probed:
		if addr != "192.168.1.42" {
			t.Fatalf("probed %q", addr)
		}
	default:
		t.Fatal("probe never ran")
	}

	candidates := l.Candidates()
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Model != "DSP-W115" || candidates[0].Source != "probe" {
		t.Fatalf("candidate = %+v", candidates[0])
	}

	// A second announcement inside the rate-limit window is ignored.
	l.handlePacket(context.Background(), packet, "192.168.1.42")
	l.wg.Wait()
	select {
	case <-probed:
		t.Fatal("probe re-ran inside the rate-limit window")
	default:
	}
}

func TestForgetClearsCandidate(t *testing.T) {
	fleet := &fakeFleet{known: map[string]bool{}}
	pub := &fakeDiscoveryPub{}
	l := testListener(fleet, pub)

	l.handlePacket(context.Background(), txt("mac=AA:BB:CC:DD:EE:FF", "mydlink=true"), "192.168.1.77")
	l.Forget("AABBCCDDEEFF")

	if _, ok := l.Candidate("AABBCCDDEEFF"); ok {
		t.Fatal("candidate survived Forget")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.records["dlink/discovery/candidate/AABBCCDDEEFF"] != "" {
		t.Fatal("retained candidate payload not cleared")
	}
}
