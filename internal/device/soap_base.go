package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/dlink-core/internal/dlink"
	"github.com/nerrad567/dlink-core/internal/hnap"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// soapBase is the shared half of every HNAP/SOAP hooks implementation:
// session handling and the identify pass. Variants embed it and add
// their Poll and HandleCommand.
type soapBase struct {
	client   *hnap.Client
	identity *Identity
	store    StateStore
	logger   *logging.Logger
}

func newSOAPBase(identity *Identity, store StateStore, logger *logging.Logger) soapBase {
	if logger == nil {
		logger = logging.Default()
	}
	return soapBase{
		client: hnap.NewClient(hnap.Options{
			Address: identity.Address,
			PIN:     identity.PIN,
		}),
		identity: identity,
		store:    store,
		logger:   logger,
	}
}

func (b *soapBase) Login(ctx context.Context) (bool, error) {
	return b.client.Login(ctx)
}

func (b *soapBase) LoggedIn() bool {
	return b.client.LoggedIn()
}

func (b *soapBase) Invalidate() {
	b.client.Invalidate()
}

func (b *soapBase) Close() {
	b.client.Disconnect()
}

// Identify fetches live device settings and checks them against the
// recorded identity. Blank recorded fields are learned from the
// device; populated fields that contradict live data produce a
// NeedsRebuild outcome. The MAC check runs first - a wrong MAC means
// the address serves a different physical device entirely, so the
// model comparison would be meaningless.
func (b *soapBase) Identify(ctx context.Context) (IdentifyOutcome, error) {
	settings, err := b.client.GetDeviceSettings(ctx)
	if err != nil {
		return Ready(), fmt.Errorf("get device settings: %w", err)
	}

	liveMAC := dlink.FormatMAC(settings.MAC)
	if liveMAC != "" {
		switch {
		case b.identity.MAC == "":
			b.identity.MAC = liveMAC
		case b.identity.MAC != liveMAC:
			return RebuildWithMAC(liveMAC), nil
		}
	}

	if settings.ModelName != "" {
		switch {
		case b.identity.Model == "":
			b.identity.Model = settings.ModelName
		case b.identity.Model != settings.ModelName:
			return RebuildWithModel(settings.ModelName), nil
		}
	}

	if b.identity.Name == "" && settings.DeviceName != "" {
		b.identity.Name = settings.DeviceName
	}

	b.logger.Debug("device identified",
		"device_id", b.identity.ID,
		"model", b.identity.Model,
		"mac", b.identity.MAC)
	return Ready(), nil
}

// checkReady asks the device whether its modules are initialised. Some
// firmwares answer SOAP before their sensors are live; polling
// telemetry off a not-ready device returns junk.
func (b *soapBase) checkReady(ctx context.Context) error {
	ready, err := b.client.IsDeviceReady(ctx)
	if err != nil {
		return fmt.Errorf("device ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("device %s: not ready", b.identity.ID)
	}
	return nil
}

// DescriptionXML fetches the raw settings and module-profile documents
// for unknown-model diagnostics.
func (b *soapBase) DescriptionXML(ctx context.Context) (settings, profiles string, err error) {
	return b.client.DeviceDescriptionXML(ctx)
}

func (b *soapBase) set(key string, value any) {
	if b.store == nil {
		return
	}
	b.store.SetState(b.identity.ID, key, value)
}
