package device

// Kind groups models by what they fundamentally are; it picks which
// poll and command behavior a device gets.
type Kind string

// Device kinds.
const (
	KindPlug   Kind = "plug"
	KindMotion Kind = "motion"
	KindWater  Kind = "water"
	KindSiren  Kind = "siren"
)

// Descriptor is one entry of the static model catalog: the capability
// flags and transport for a model string. Descriptors are immutable;
// Lookup returns them by value.
type Descriptor struct {
	Model           string
	Kind            Kind
	CanSwitch       bool
	HasTemperature  bool
	HasPower        bool
	HasTotalPower   bool
	HasLastDetected bool
	SocketCount     int

	// UseWebsocket selects the transport; false means HNAP SOAP.
	UseWebsocket bool
}

// catalog is the fixed set of supported models. Models not listed here
// run best-effort as single-relay plugs and get a diagnostic report so
// the catalog can be extended.
var catalog = map[string]Descriptor{
	"DSP-W215": {
		Model:          "DSP-W215",
		Kind:           KindPlug,
		CanSwitch:      true,
		HasTemperature: true,
		HasPower:       true,
		HasTotalPower:  true,
		SocketCount:    1,
	},
	"DSP-W110": {
		Model:       "DSP-W110",
		Kind:        KindPlug,
		CanSwitch:   true,
		SocketCount: 1,
	},
	"DCH-S150": {
		Model:           "DCH-S150",
		Kind:            KindMotion,
		HasLastDetected: true,
	},
	"DCH-S160": {
		Model:           "DCH-S160",
		Kind:            KindWater,
		HasLastDetected: true,
	},
	"DCH-S220": {
		Model:       "DCH-S220",
		Kind:        KindSiren,
		CanSwitch:   true,
		SocketCount: 1,
	},
	"DSP-W115": {
		Model:        "DSP-W115",
		Kind:         KindPlug,
		CanSwitch:    true,
		SocketCount:  1,
		UseWebsocket: true,
	},
	"DSP-W245": {
		Model:        "DSP-W245",
		Kind:         KindPlug,
		CanSwitch:    true,
		SocketCount:  4,
		UseWebsocket: true,
	},
}

// Lookup returns the catalog entry for a model string.
func Lookup(model string) (Descriptor, bool) {
	d, ok := catalog[model]
	return d, ok
}

// KnownModels returns the supported model strings, unordered.
func KnownModels() []string {
	models := make([]string, 0, len(catalog))
	for m := range catalog {
		models = append(models, m)
	}
	return models
}
