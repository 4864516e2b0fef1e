package device

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// maxRebuilds bounds identity-conflict reconstruction per start
// attempt. One rebuild fixes a swapped or re-flashed device; a second
// conflict in a row means live data is unstable and restarting forever
// would thrash.
const maxRebuilds = 1

// Factory turns identities into running drivers. It owns the decisions
// the driver itself must not make: catalog lookup, transport fallback
// for models the catalog does not know, identity-conflict rebuilds,
// and unknown-model diagnostics.
type Factory struct {
	store    StateStore
	logger   *logging.Logger
	reporter Reporter
	timeout  time.Duration

	// persist saves identity corrections (learned MAC or model, a
	// transport fallback that stuck). previousID is the id the row was
	// stored under before the correction; a wrong-MAC rebuild re-keys
	// the identity, so the write must target the old row. Nil means
	// corrections live only in memory.
	persist func(ctx context.Context, previousID string, identity Identity) error

	// hooksFor builds the variant hooks for an identity. Tests swap it
	// for scripted hooks.
	hooksFor func(identity *Identity, desc Descriptor) Hooks

	mu       sync.Mutex
	reported map[string]bool
}

// FactoryDeps configures a Factory. Store is required; the rest are
// optional.
type FactoryDeps struct {
	Store    StateStore
	Logger   *logging.Logger
	Reporter Reporter
	Persist  func(ctx context.Context, previousID string, identity Identity) error
	Timeout  time.Duration
}

func NewFactory(deps FactoryDeps) *Factory {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	f := &Factory{
		store:    deps.Store,
		logger:   logger,
		reporter: deps.Reporter,
		timeout:  deps.Timeout,
		persist:  deps.Persist,
		reported: make(map[string]bool),
	}
	f.hooksFor = f.newHooks
	return f
}

// Build constructs a driver without starting it. Unknown models get a
// best-effort plug descriptor on the identity's recorded transport so
// the device still runs; the catalog gap is reported after a
// successful start instead of failing here.
func (f *Factory) Build(identity *Identity) *Driver {
	desc, known := f.descriptorFor(identity)
	if !known && identity.Model != "" {
		f.logger.Warn("unknown model, running best-effort",
			"device_id", identity.ID,
			"model", identity.Model)
	}

	return NewDriver(DriverDeps{
		Identity: identity,
		Desc:     desc,
		Hooks:    f.hooksFor(identity, desc),
		Store:    f.store,
		Logger:   f.logger,
		Timeout:  f.timeout,
	})
}

// BuildAndStart constructs and starts a driver, handling the two
// outcomes a plain Start cannot:
//
//   - Identity conflict: the identify pass found live data
//     contradicting the recorded identity. The driver is rebuilt once
//     with the corrected identity and the correction persisted.
//   - Login failure on a SOAP identity with no recorded model: the
//     device may be a websocket model added before its model was
//     known, so one websocket attempt is made. If it sticks the
//     transport flag is persisted; if not the original transport is
//     restored and its driver returned with its retry schedule armed.
//
// The returned driver is always valid and owned by the caller, even
// when its device is currently unreachable.
func (f *Factory) BuildAndStart(ctx context.Context, identity *Identity) (*Driver, error) {
	rebuilds := 0
	triedFallback := false

	for {
		driver := f.Build(identity)
		outcome, err := driver.Start(ctx)

		if outcome.NeedsRebuild {
			driver.Stop()
			if rebuilds >= maxRebuilds {
				f.logger.Error("identity conflict persists after rebuild, giving up",
					"device_id", identity.ID,
					"reason", string(outcome.Reason))
				return driver, nil
			}
			rebuilds++
			f.applyCorrection(ctx, identity, outcome)
			continue
		}

		if !driver.LoggedIn() && f.shouldTryWebsocket(identity, triedFallback) {
			driver.Stop()
			triedFallback = true
			identity.UseWebsocket = true
			f.logger.Info("login failed over SOAP, probing websocket transport",
				"device_id", identity.ID,
				"address", identity.Address)
			continue
		}

		if triedFallback && identity.UseWebsocket {
			if driver.LoggedIn() {
				f.savePersisted(ctx, identity.ID, identity)
			} else {
				// The probe found nothing better. Put the identity
				// back on its recorded transport and return that
				// driver so retries use the right protocol.
				driver.Stop()
				identity.UseWebsocket = false
				triedFallback = false
				rebuild := f.Build(identity)
				_, rebuildErr := rebuild.Start(ctx)
				return rebuild, rebuildErr
			}
		}

		f.maybeReportUnknown(ctx, driver)
		return driver, err
	}
}

func (f *Factory) shouldTryWebsocket(identity *Identity, triedFallback bool) bool {
	return !triedFallback && !identity.UseWebsocket && identity.Model == ""
}

// applyCorrection rewrites identity fields from a NeedsRebuild outcome
// and persists them. A corrected MAC also re-derives the device id.
func (f *Factory) applyCorrection(ctx context.Context, identity *Identity, outcome IdentifyOutcome) {
	previousID := identity.ID
	switch outcome.Reason {
	case ReasonWrongMAC:
		f.logger.Warn("address serves a different device, rebuilding",
			"device_id", identity.ID,
			"recorded_mac", identity.MAC,
			"live_mac", outcome.CorrectedMAC)
		identity.MAC = outcome.CorrectedMAC
		identity.ID = dlink.IDFromMAC(outcome.CorrectedMAC)
		// The recorded model belonged to the old device.
		identity.Model = ""
	case ReasonWrongModel:
		f.logger.Warn("device reports a different model, rebuilding",
			"device_id", identity.ID,
			"recorded_model", identity.Model,
			"live_model", outcome.CorrectedModel)
		identity.Model = outcome.CorrectedModel
		if desc, known := Lookup(outcome.CorrectedModel); known {
			identity.UseWebsocket = desc.UseWebsocket
		}
	}
	f.savePersisted(ctx, previousID, identity)
}

func (f *Factory) savePersisted(ctx context.Context, previousID string, identity *Identity) {
	if f.persist == nil {
		return
	}
	if err := f.persist(ctx, previousID, *identity); err != nil {
		f.logger.Error("persist identity correction",
			"device_id", identity.ID,
			"error", err)
	}
}

// descriptorFor resolves the identity's model against the catalog. An
// empty or unknown model yields a single-relay plug descriptor on the
// identity's recorded transport.
func (f *Factory) descriptorFor(identity *Identity) (Descriptor, bool) {
	if identity.Model != "" {
		if desc, ok := Lookup(identity.Model); ok {
			return desc, true
		}
	}
	return Descriptor{
		Model:        identity.Model,
		Kind:         KindPlug,
		CanSwitch:    true,
		SocketCount:  1,
		UseWebsocket: identity.UseWebsocket,
	}, false
}

func (f *Factory) newHooks(identity *Identity, desc Descriptor) Hooks {
	if identity.UseWebsocket || desc.UseWebsocket {
		return newWSDevice(identity, desc, f.store, f.logger)
	}
	switch desc.Kind {
	case KindMotion, KindWater:
		return newSOAPSensor(identity, f.store, f.logger)
	case KindSiren:
		return newSOAPSiren(identity, f.store, f.logger)
	default:
		return newSOAPSwitch(identity, desc, f.store, f.logger)
	}
}

// describer is implemented by SOAP hooks that can fetch the raw device
// description documents.
type describer interface {
	DescriptionXML(ctx context.Context) (settings, profiles string, err error)
}

// maybeReportUnknown publishes a diagnostic report the first time a
// model outside the catalog identifies successfully. One report per
// model per process; the report exists so the catalog can be extended,
// not as a recurring alarm.
func (f *Factory) maybeReportUnknown(ctx context.Context, driver *Driver) {
	if f.reporter == nil || !driver.Identified() {
		return
	}
	identity := driver.Identity()
	if identity.Model == "" {
		return
	}
	if _, known := Lookup(identity.Model); known {
		return
	}

	f.mu.Lock()
	if f.reported[identity.Model] {
		f.mu.Unlock()
		return
	}
	f.reported[identity.Model] = true
	f.mu.Unlock()

	var settings, profiles string
	if d, ok := driver.hooks.(describer); ok {
		var err error
		settings, profiles, err = d.DescriptionXML(ctx)
		if err != nil {
			f.logger.Debug("device description fetch failed",
				"device_id", identity.ID,
				"error", err)
		}
	}
	f.reporter.ReportUnknownModel(identity.ID, identity.Model, settings, profiles)
	f.logger.Info("reported unknown model",
		"device_id", identity.ID,
		"model", identity.Model)
}
