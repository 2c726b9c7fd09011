package meater

import (
	"context"
	"time"

	"github.com/guregu/null"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	ChannelInternalTemperature   = "internal-temperature"
	ChannelAmbientTemperature    = "ambient-temperature"
	ChannelCookTargetTemperature = "cook-target-temperature"
	ChannelCookPeakTemperature   = "cook-peak-temperature"
	ChannelCookElapsedTime       = "cook-elapsed-time"
	ChannelCookRemainingTime     = "cook-remaining-time"
	ChannelCookID                = "cook-id"
	ChannelCookName              = "cook-name"
	ChannelCookState             = "cook-state"
	ChannelLastConnection        = "last-connection"
	ChannelCookEstimatedEndTime  = "cook-estimated-end-time"
)

var probeChannels = []string{
	ChannelInternalTemperature, ChannelAmbientTemperature, ChannelCookTargetTemperature,
	ChannelCookPeakTemperature, ChannelCookElapsedTime, ChannelCookRemainingTime, ChannelCookID,
	ChannelCookName, ChannelCookState, ChannelLastConnection, ChannelCookEstimatedEndTime,
}

type ProbeHandler struct {
	thing    *thing.Thing
	deviceID string
	bridge   *Bridge
	logger   *zap.Logger
	now      func() time.Time
}

func (h *ProbeHandler) Thing() *thing.Thing {
	return h.thing
}

func (h *ProbeHandler) Initialize(ctx context.Context) error {
	if h.deviceID == "" {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "deviceId is mandatory"))
		return nil
	}
	h.thing.UpdateStatus(thing.Unknown())
	if _, ok := h.bridge.Device(h.deviceID); ok {
		h.update()
	}
	return nil
}

func (h *ProbeHandler) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	h.logger.Debug("Command received", zap.String("command", command.String()))
	if command == thing.Refresh {
		h.update()
	}
	return nil
}

func (h *ProbeHandler) Dispose() {}

func (h *ProbeHandler) update() {
	device, ok := h.bridge.Device(h.deviceID)
	if !ok {
		h.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, "probe offline"))
		return
	}
	now := h.now()
	for _, channel := range probeChannels {
		h.thing.UpdateState("", channel, ProbeState(channel, device, now))
	}
	h.thing.UpdateStatus(thing.Online())
}

// ProbeState maps one channel of device. Cook channels are UNDEF while no
// cook is running.
func ProbeState(channel string, device Device, now time.Time) thing.State {
	cook := device.Cook
	switch channel {
	case ChannelInternalTemperature:
		return celsius(device.Temperature.Internal)
	case ChannelAmbientTemperature:
		return celsius(device.Temperature.Ambient)
	case ChannelLastConnection:
		if last, ok := device.LastConnection(); ok {
			return thing.DateTimeType(last.Local())
		}
		return thing.UnDef
	}
	if cook == nil {
		return thing.UnDef
	}
	switch channel {
	case ChannelCookTargetTemperature:
		return celsius(cook.Temperature.Target)
	case ChannelCookPeakTemperature:
		return celsius(cook.Temperature.Peak)
	case ChannelCookElapsedTime:
		return seconds(cook.Time.Elapsed)
	case ChannelCookRemainingTime:
		return seconds(cook.Time.Remaining)
	case ChannelCookID:
		return thing.StringType(cook.ID)
	case ChannelCookName:
		return thing.StringType(cook.Name)
	case ChannelCookState:
		return thing.StringType(cook.State)
	case ChannelCookEstimatedEndTime:
		if cook.Time.Remaining.Valid && cook.Time.Remaining.Int64 > -1 {
			return thing.DateTimeType(now.Add(time.Duration(cook.Time.Remaining.Int64) * time.Second))
		}
	}
	return thing.UnDef
}

func celsius(value null.Float) thing.State {
	if !value.Valid {
		return thing.UnDef
	}
	return thing.NewQuantity(value.Float64, thing.UnitCelsius)
}

func seconds(value null.Int) thing.State {
	if !value.Valid {
		return thing.UnDef
	}
	return thing.NewQuantity(float64(value.Int64), thing.UnitSecond)
}
