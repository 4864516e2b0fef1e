package device

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dlink-core/internal/hnap"
)

// looseSOAP answers any HNAP action with canned result fields. It does
// not verify signatures; protocol correctness is covered by the hnap
// package tests, this fake only feeds the sensor inference logic.
type looseSOAP struct {
	mu     sync.Mutex
	fields map[string]string
}

func (s *looseSOAP) setField(name, value string) {
	s.mu.Lock()
	s.fields[name] = value
	s.mu.Unlock()
}

func (s *looseSOAP) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := strings.Trim(r.Header.Get("SOAPAction"), `"`)
		action = strings.TrimPrefix(action, hnap.Namespace)

		s.mu.Lock()
		var body strings.Builder
		fmt.Fprintf(&body, "<%sResult>OK</%sResult>", action, action)
		for name, value := range s.fields {
			fmt.Fprintf(&body, "<%s>%s</%s>", name, value, name)
		}
		s.mu.Unlock()

		fmt.Fprintf(w,
			`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">`+
				`<soap:Body><%sResponse xmlns=%q>%s</%sResponse></soap:Body></soap:Envelope>`,
			action, hnap.Namespace, body.String(), action)
	}
}

func newSensorUnderTest(t *testing.T, fake *looseSOAP) *soapSensor {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	identity := &Identity{
		ID:      "AABBCCDDEEFF",
		Address: strings.TrimPrefix(server.URL, "http://"),
		PIN:     "123456",
		Model:   "DCH-S150",
		Enabled: true,
	}
	return newSOAPSensor(identity, newMemStore(), nil).(*soapSensor)
}

func TestSensorFirstPollSeedsBaseline(t *testing.T) {
	fake := &looseSOAP{fields: map[string]string{"LatestDetectTime": "1700000000"}}
	sensor := newSensorUnderTest(t, fake)
	store := sensor.store.(*memStore)

	if err := sensor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyState); v != false {
		t.Fatalf("first poll state = %v, want false (baseline only)", v)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyLastDetected); v != int64(1700000000000) {
		t.Fatalf("lastDetected = %v, want seconds scaled to millis", v)
	}
}

func TestSensorTimestampChangeMeansDetection(t *testing.T) {
	fake := &looseSOAP{fields: map[string]string{"LatestDetectTime": "1700000000"}}
	sensor := newSensorUnderTest(t, fake)
	store := sensor.store.(*memStore)
	ctx := context.Background()

	if err := sensor.Poll(ctx); err != nil {
		t.Fatalf("baseline poll: %v", err)
	}

	// Unchanged timestamp: no detection.
	if err := sensor.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyState); v != false {
		t.Fatal("unchanged timestamp must not report a detection")
	}

	// Moved timestamp: something triggered between polls.
	fake.setField("LatestDetectTime", "1700000042")
	if err := sensor.Poll(ctx); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyState); v != true {
		t.Fatal("moved timestamp must report a detection")
	}

	// And it clears again once the timestamp settles.
	if err := sensor.Poll(ctx); err != nil {
		t.Fatalf("fourth poll: %v", err)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyState); v != false {
		t.Fatal("detection must clear when the timestamp stops moving")
	}
}

func TestSensorPublishesQuietSeconds(t *testing.T) {
	recent := time.Now().Add(-30 * time.Second).Unix()
	fake := &looseSOAP{fields: map[string]string{
		"LatestDetectTime": fmt.Sprintf("%d", recent),
	}}
	sensor := newSensorUnderTest(t, fake)
	store := sensor.store.(*memStore)

	if err := sensor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	v, ok := store.GetState("AABBCCDDEEFF", KeyNoMotion)
	if !ok {
		t.Fatal("noMotion not published")
	}
	quiet, ok := v.(int64)
	if !ok || quiet < 29 || quiet > 35 {
		t.Fatalf("noMotion = %v, want roughly 30 seconds", v)
	}
}

func TestSwitchPollPublishesTelemetry(t *testing.T) {
	fake := &looseSOAP{fields: map[string]string{
		"OPStatus":           "true",
		"CurrentTemperature": "21.5",
		"CurrentConsumption": "12.25",
		"TotalConsumption":   "145.8",
	}}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	identity := &Identity{
		ID:      "AABBCCDDEEFF",
		Address: strings.TrimPrefix(server.URL, "http://"),
		PIN:     "123456",
		Model:   "DSP-W215",
		Enabled: true,
	}
	desc, _ := Lookup("DSP-W215")
	store := newMemStore()
	plug := newSOAPSwitch(identity, desc, store, nil).(*soapSwitch)

	if err := plug.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyState); v != true {
		t.Fatalf("state = %v", v)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyTemperature); v != 21.5 {
		t.Fatalf("temperature = %v", v)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyPower); v != 12.25 {
		t.Fatalf("power = %v", v)
	}
	if v, _ := store.GetState("AABBCCDDEEFF", KeyTotalPower); v != 145.8 {
		t.Fatalf("totalPower = %v", v)
	}
}
