package lynkco

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

// Defaults used when an action is called without explicit values.
const (
	DefaultClimateLevel    = 2
	DefaultClimateDuration = 30
	DefaultEngineDuration  = 15
)

// VehicleHandler publishes the channels of one car and turns commands on its
// control channels into remote actions.
type VehicleHandler struct {
	thing  *thing.Thing
	vin    string
	bridge *Bridge
	logger *zap.Logger
}

func (h *VehicleHandler) Thing() *thing.Thing {
	return h.thing
}

func (h *VehicleHandler) VIN() string {
	return h.vin
}

func (h *VehicleHandler) Initialize(ctx context.Context) error {
	if h.vin == "" {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "vin is mandatory"))
		return nil
	}
	h.thing.UpdateStatus(thing.Unknown())
	if vehicle, ok := h.bridge.Vehicle(h.vin); ok {
		h.update(vehicle)
	}
	return nil
}

func (h *VehicleHandler) update(vehicle *Vehicle) {
	if vehicle == nil {
		h.logger.Warn("Vehicle snapshot is missing")
		return
	}
	for _, channel := range stateChannels {
		h.thing.UpdateState(channel.group, channel.id, ChannelState(channel.group, channel.id, vehicle))
	}
	h.thing.SetAttribute("vendor", "Lynk & Co")
	h.thing.SetAttribute("vin", vehicle.VIN)
	if vehicle.Record.Fuel.FuelType != "" {
		h.thing.SetAttribute("fuelType", vehicle.Record.Fuel.FuelType)
	}
	h.thing.UpdateStatus(thing.Online())
}

func (h *VehicleHandler) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	h.logger.Debug("Command received", zap.String("channel", channel.String()), zap.String("command", command.String()))
	if command == thing.Refresh {
		h.bridge.Refresh()
		return nil
	}
	on, ok := command.(thing.OnOffType)
	if !ok {
		return errors.Newf("unsupported command %s for %s", command, channel.LocalID())
	}
	var err error
	switch channel.LocalID() {
	case GroupClimateControl + "#" + ChannelPreclimate:
		if on {
			err = h.StartClimate(ctx, 0, 0)
		} else {
			err = h.StopClimate(ctx)
		}
	case GroupEngineControl + "#" + ChannelEngineStart:
		if on {
			err = h.StartEngine(ctx, 0)
		} else {
			err = h.StopEngine(ctx)
		}
	case GroupDoorsControl + "#" + ChannelDoorLock:
		if on {
			err = h.LockDoors(ctx)
		} else {
			err = h.UnlockDoors(ctx)
		}
	case GroupHornControl + "#" + ChannelHorn:
		if on {
			err = h.HonkBlink(ctx, true, false)
		}
	case GroupLightsControl + "#" + ChannelLightFlash:
		if on {
			err = h.HonkBlink(ctx, false, true)
		}
	case GroupHornControl + "#" + ChannelHonkFlash:
		if on {
			err = h.HonkBlink(ctx, true, true)
		}
	default:
		return errors.Newf("channel %s does not accept commands", channel.LocalID())
	}
	if err != nil {
		return err
	}
	h.bridge.Refresh()
	return nil
}

func (h *VehicleHandler) Dispose() {}

// StartClimate starts pre-climatisation. Zero values fall back to level 2 for 30 minutes.
func (h *VehicleHandler) StartClimate(ctx context.Context, level, minutes int) error {
	if level <= 0 {
		level = DefaultClimateLevel
	}
	if minutes <= 0 {
		minutes = DefaultClimateDuration
	}
	return h.action("start climate", h.bridge.api.Climate(ctx, h.vin, true, level, minutes))
}

func (h *VehicleHandler) StopClimate(ctx context.Context) error {
	return h.action("stop climate", h.bridge.api.Climate(ctx, h.vin, false, 0, 0))
}

// StartEngine starts the engine; zero minutes means 15.
func (h *VehicleHandler) StartEngine(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		minutes = DefaultEngineDuration
	}
	return h.action("start engine", h.bridge.api.Engine(ctx, h.vin, true, minutes))
}

func (h *VehicleHandler) StopEngine(ctx context.Context) error {
	return h.action("stop engine", h.bridge.api.Engine(ctx, h.vin, false, 0))
}

func (h *VehicleHandler) LockDoors(ctx context.Context) error {
	return h.action("lock doors", h.bridge.api.Doors(ctx, h.vin, true))
}

func (h *VehicleHandler) UnlockDoors(ctx context.Context) error {
	return h.action("unlock doors", h.bridge.api.Doors(ctx, h.vin, false))
}

func (h *VehicleHandler) HonkBlink(ctx context.Context, honk, blink bool) error {
	return h.action("honk and flash", h.bridge.api.HonkFlash(ctx, h.vin, honk, blink))
}

func (h *VehicleHandler) action(name string, err error) error {
	if err != nil {
		h.logger.Warn("Vehicle action failed", zap.String("action", name), zap.Error(err))
		return errors.Wrapf(err, "%s failed", name)
	}
	h.logger.Info("Vehicle action sent", zap.String("action", name))
	return nil
}
