package verisure

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	ChannelUserName         = "user-name"
	ChannelUserLocationName = "user-location-name"
	ChannelWebAccount       = "webaccount"
	ChannelUserDeviceName   = "user-device-name"
	ChannelInstallationID   = "installation-id"
	ChannelInstallationName = "installation-name"
	ChannelTimestamp        = "timestamp"
)

// UserPresenceHandler publishes where one tracked user currently is.
type UserPresenceHandler struct {
	thing    *thing.Thing
	deviceID string
	bridge   *Bridge
	logger   *zap.Logger

	mux sync.Mutex
}

func (h *UserPresenceHandler) Thing() *thing.Thing {
	return h.thing
}

func (h *UserPresenceHandler) Initialize(ctx context.Context) error {
	if h.deviceID == "" {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Verisure device is missing deviceId"))
		return nil
	}
	h.thing.UpdateStatus(thing.Unknown())
	h.bridgeStatusChanged(h.bridge.Online())
	return nil
}

func (h *UserPresenceHandler) bridgeStatusChanged(online bool) {
	if h.deviceID == "" {
		return
	}
	if !online {
		h.thing.UpdateStatus(thing.Offline(thing.DetailBridgeOffline, ""))
		return
	}
	session := h.bridge.Session()
	if presence, ok := session.Device(h.deviceID); ok {
		h.update(presence)
	}
	session.RegisterDeviceStatusListener(h)
}

func (h *UserPresenceHandler) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	h.logger.Debug("Handle command", zap.String("channel", channel.String()), zap.String("command", command.String()))
	if command != thing.Refresh {
		h.logger.Warn("Unknown command", zap.String("command", command.String()))
		return errors.Newf("unsupported command %s for %s", command, channel)
	}
	h.bridge.Refresh()
	if presence, ok := h.bridge.Session().Device(h.deviceID); ok {
		h.update(presence)
	}
	return nil
}

func (h *UserPresenceHandler) Dispose() {
	h.bridge.Session().UnregisterDeviceStatusListener(h)
}

func (h *UserPresenceHandler) matches(presence *UserPresence) bool {
	return presence != nil && strings.EqualFold(NormalizeDeviceID(h.deviceID), presence.DeviceID())
}

func (h *UserPresenceHandler) OnDeviceStateChanged(presence *UserPresence) {
	if h.matches(presence) {
		h.update(presence)
	}
}

func (h *UserPresenceHandler) OnDeviceAdded(presence *UserPresence) {
	if h.matches(presence) {
		h.logger.Debug("Device added")
	}
}

func (h *UserPresenceHandler) OnDeviceRemoved(presence *UserPresence) {
	if h.matches(presence) {
		h.logger.Debug("Device removed")
		h.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, "user presence no longer reported"))
	}
}

func (h *UserPresenceHandler) update(presence *UserPresence) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.thing.UpdateStatus(thing.Online())
	tracking := presence.Tracking
	h.thing.UpdateState("", ChannelUserName, thing.StringType(tracking.Name))
	h.thing.UpdateState("", ChannelUserLocationName, thing.StringType(tracking.CurrentLocationName))
	h.thing.UpdateState("", ChannelWebAccount, thing.StringType(tracking.WebAccount))
	h.updateTimestamp(tracking.CurrentLocationTimestamp)
	h.thing.UpdateState("", ChannelUserDeviceName, thing.StringType(tracking.DeviceName))
	if presence.SiteID != 0 {
		h.thing.UpdateState("", ChannelInstallationID, thing.DecimalType(presence.SiteID))
	}
	h.thing.UpdateState("", ChannelInstallationName, thing.StringType(presence.SiteName))
}

func (h *UserPresenceHandler) updateTimestamp(value string) {
	if value == "" {
		h.logger.Debug("Timestamp is empty")
		return
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		h.logger.Warn("Parsing date failed", zap.String("value", value), zap.Error(err))
		return
	}
	h.thing.UpdateState("", ChannelTimestamp, thing.DateTimeType(t.Local()))
}
