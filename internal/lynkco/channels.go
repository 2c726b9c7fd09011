package lynkco

import (
	"strings"

	"github.com/guregu/null"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

// Channel groups.
const (
	GroupDoors          = "doors"
	GroupWindows        = "windows"
	GroupOdometer       = "odometer"
	GroupFuel           = "fuel"
	GroupPosition       = "position"
	GroupBattery        = "battery"
	GroupCharging       = "charging"
	GroupClimate        = "climate"
	GroupMaintenance    = "maintenance"
	GroupBulbs          = "bulbs"
	GroupSafety         = "safety"
	GroupTyres          = "tyres"
	GroupTrip           = "trip"
	GroupVehicleStatus  = "vehicle-status"
	GroupSpeed          = "speed"
	GroupClimateControl = "climate-control"
	GroupEngineControl  = "engine-control"
	GroupDoorsControl   = "doors-control"
	GroupLightsControl  = "lights-control"
	GroupHornControl    = "horn-control"
)

// Control channels.
const (
	ChannelPreclimate  = "preclimate"
	ChannelEngineStart = "start"
	ChannelDoorLock    = "lock"
	ChannelLightFlash  = "flash"
	ChannelHorn        = "honk"
	ChannelHonkFlash   = "honkflash"
	ChannelLastUpdate  = "last-update"
)

type channelDef struct {
	group string
	id    string
}

// stateChannels lists every channel the mapper can produce a value for.
var stateChannels = []channelDef{
	{GroupDoors, "door-driver"}, {GroupDoors, "door-passenger"}, {GroupDoors, "door-rear-left"},
	{GroupDoors, "door-rear-right"}, {GroupDoors, "hood"}, {GroupDoors, "trunk"}, {GroupDoors, "locks-status"},
	{GroupDoors, "tank-flap"}, {GroupDoors, "alarm-status"},
	{GroupWindows, "window-driver"}, {GroupWindows, "window-passenger"}, {GroupWindows, "window-rear-left"},
	{GroupWindows, "window-rear-right"}, {GroupWindows, "sunroof"},
	{GroupOdometer, "odometer-km"}, {GroupOdometer, ChannelLastUpdate},
	{GroupFuel, "level"}, {GroupFuel, "level-status"}, {GroupFuel, "type"}, {GroupFuel, "range"},
	{GroupFuel, "consumption"}, {GroupFuel, "consumption-last-trip"}, {GroupFuel, ChannelLastUpdate},
	{GroupPosition, "location"}, {GroupPosition, "location-trusted"}, {GroupPosition, "updated-at"},
	{GroupBattery, "charge-level"}, {GroupBattery, "charge"}, {GroupBattery, "health"}, {GroupBattery, "voltage"},
	{GroupBattery, "energy-level"}, {GroupBattery, "power-level"}, {GroupBattery, ChannelLastUpdate},
	{GroupCharging, "charging-level"}, {GroupCharging, "range"}, {GroupCharging, "time-to-full"},
	{GroupCharging, "charger-state"}, {GroupCharging, "charger-connection-status"}, {GroupCharging, "power-mode"},
	{GroupClimate, "temp-exterior"}, {GroupClimate, "temp-interior"}, {GroupClimate, "preclimate-active"},
	{GroupClimate, ChannelLastUpdate},
	{GroupMaintenance, "brake-fluid"}, {GroupMaintenance, "coolant"}, {GroupMaintenance, "engine-oil-level"},
	{GroupMaintenance, "engine-oil-pressure"}, {GroupMaintenance, "service-warning"}, {GroupMaintenance, "washer-fluid"},
	{GroupMaintenance, "days-to-service"}, {GroupMaintenance, "distance-to-service"},
	{GroupBulbs, "daytime-running"}, {GroupBulbs, "fog-front"}, {GroupBulbs, "fog-rear"}, {GroupBulbs, "high-beam"},
	{GroupBulbs, "high-beam-left"}, {GroupBulbs, "high-beam-right"}, {GroupBulbs, "turn-left"}, {GroupBulbs, "low-beam"},
	{GroupBulbs, "low-beam-left"}, {GroupBulbs, "low-beam-right"}, {GroupBulbs, "position"}, {GroupBulbs, "turn-right"},
	{GroupBulbs, "stop"},
	{GroupSafety, "airbag-status"}, {GroupSafety, "airbag-updated"}, {GroupSafety, "seatbelt-driver"},
	{GroupSafety, "seatbelt-passenger"}, {GroupSafety, "seatbelt-rear-left"}, {GroupSafety, "seatbelt-rear-middle"},
	{GroupSafety, "seatbelt-rear-right"}, {GroupSafety, "seatbelt-updated"},
	{GroupTyres, "front-left"}, {GroupTyres, "front-right"}, {GroupTyres, "rear-left"}, {GroupTyres, "rear-right"},
	{GroupTyres, "tyre-updated"},
	{GroupTrip, "avg-speed"}, {GroupTrip, "last-trip-speed"}, {GroupTrip, "trip-meter"}, {GroupTrip, "trip-meter-2"},
	{GroupVehicleStatus, "engine-status"}, {GroupVehicleStatus, "key-status"}, {GroupVehicleStatus, "usage-mode"},
	{GroupSpeed, "speed"}, {GroupSpeed, "direction"},
	{GroupClimateControl, ChannelPreclimate},
	{GroupEngineControl, ChannelEngineStart},
	{GroupDoorsControl, ChannelDoorLock},
}

// ChannelState maps one channel of the snapshot v to its state. Unknown
// channels and missing values map to UNDEF.
func ChannelState(group, channel string, v *Vehicle) thing.State {
	if v == nil {
		return thing.UnDef
	}
	r, s := &v.Record, &v.Shadow
	switch group {
	case GroupDoors:
		switch channel {
		case "door-driver":
			return openClosed(s.Vls.DoorOpenStatusDriver)
		case "door-passenger":
			return openClosed(s.Vls.DoorOpenStatusPassenger)
		case "door-rear-left":
			return openClosed(s.Vls.DoorOpenStatusDriverRear)
		case "door-rear-right":
			return openClosed(s.Vls.DoorOpenStatusPassengerRear)
		case "hood":
			return openClosed(s.Vls.EngineHoodStatus)
		case "trunk":
			return openClosed(s.Vls.TrunkOpenStatus)
		case "locks-status":
			return text(s.Vls.CentralLockingStatus)
		case "tank-flap":
			return openClosed(s.Vls.TankFlapStatus)
		case "alarm-status":
			return text(s.Vls.AlarmStatusData)
		}
	case GroupWindows:
		switch channel {
		case "window-driver":
			return openClosed(s.Vls.WindowStatusDriver)
		case "window-passenger":
			return openClosed(s.Vls.WindowStatusPassenger)
		case "window-rear-left":
			return openClosed(s.Vls.WindowStatusDriverRear)
		case "window-rear-right":
			return openClosed(s.Vls.WindowStatusPassengerRear)
		case "sunroof":
			return openClosed(s.Vls.SunroofOpenStatus)
		}
	case GroupOdometer:
		switch channel {
		case "odometer-km":
			return quantity(r.Odometer.OdometerKm, thing.UnitKilometre)
		case ChannelLastUpdate:
			return timestamp(r.Odometer.VehicleUpdatedAt)
		}
	case GroupFuel:
		switch channel {
		case "level":
			return quantity(r.Fuel.Level, thing.UnitPercent)
		case "level-status":
			return decimal(r.Fuel.LevelStatus)
		case "type":
			return text(r.Fuel.FuelType)
		case "range":
			return quantityInt(r.Fuel.DistanceToEmpty, thing.UnitKilometre)
		case "consumption":
			return quantity(r.Fuel.AverageConsumption, thing.UnitLitrePer100)
		case "consumption-last-trip":
			return quantity(r.Fuel.AverageConsumptionLatestDrivingCycle, thing.UnitLitrePer100)
		case ChannelLastUpdate:
			return timestamp(r.Fuel.VehicleUpdatedAt)
		}
	case GroupPosition:
		switch channel {
		case "location":
			if !r.Position.Latitude.Valid || !r.Position.Longitude.Valid {
				return thing.UnDef
			}
			return thing.PointType{
				Latitude:  r.Position.Latitude.Float64,
				Longitude: r.Position.Longitude.Float64,
				Altitude:  r.Position.Altitude.Float64,
			}
		case "location-trusted":
			return thing.OnOffType(r.Position.CanBeTrusted)
		case "updated-at":
			return timestamp(r.Position.VehicleUpdatedAt)
		}
	case GroupBattery:
		switch channel {
		case "charge-level":
			return quantityInt(r.Battery.ChargeLevel, thing.UnitPercent)
		case "charge":
			return text(r.Battery.Charge)
		case "health":
			return decimal(r.Battery.Health)
		case "voltage":
			return quantity(r.Battery.Voltage, thing.UnitVolt)
		case "energy-level":
			return quantityInt(r.Battery.EnergyLevel, thing.UnitPercent)
		case "power-level":
			return decimal(r.Battery.PowerLevel)
		case ChannelLastUpdate:
			return timestamp(r.Battery.VehicleUpdatedAt)
		}
	case GroupCharging:
		switch channel {
		case "charging-level":
			return quantity(r.ElectricStatus.ChargeLevel, thing.UnitPercent)
		case "range":
			return quantityInt(r.ElectricStatus.DistanceToEmptyOnBatteryOnly, thing.UnitKilometre)
		case "time-to-full":
			return quantityInt(r.ElectricStatus.TimeToFullyCharged, thing.UnitMinute)
		case "charger-state":
			return thing.StringType(s.Evs.ChargerStatusData.StateLabel())
		case "charger-connection-status":
			return thing.StringType(s.Evs.ChargerStatusData.ConnectionLabel())
		case "power-mode":
			return text(s.Evs.PowerModeStatus)
		}
	case GroupClimate:
		switch channel {
		case "temp-exterior":
			return quantity(r.Climate.ExteriorTemp.Temp, thing.UnitCelsius)
		case "temp-interior":
			return quantity(r.Climate.InteriorTemp.Temp, thing.UnitCelsius)
		case "preclimate-active":
			return thing.OnOffType(r.Climate.PreClimateActive || s.Vcs.PreclimateActive)
		case ChannelLastUpdate:
			return timestamp(r.Climate.VehicleUpdatedAt)
		}
	case GroupMaintenance:
		m := s.Vms.VehicleStateServiceMaintenance
		switch channel {
		case "brake-fluid":
			return text(m.BrakeFluidLevelStatus)
		case "coolant":
			return text(m.CoolantLevelStatus)
		case "engine-oil-level":
			return text(firstNonEmpty(m.EngineOilLevelStatus, r.MaintenanceStatus.EngineOilLevelStatus))
		case "engine-oil-pressure":
			return text(firstNonEmpty(m.EngineOilPressureStatus, r.MaintenanceStatus.EngineOilPressureStatus))
		case "service-warning":
			return text(firstNonEmpty(m.ServiceWarningStatus, r.MaintenanceStatus.ServiceWarningStatus))
		case "washer-fluid":
			return text(firstNonEmpty(m.WasherFluidLevelStatus, r.MaintenanceStatus.WasherFluidLevelStatus))
		case "days-to-service":
			return decimal(r.MaintenanceStatus.DaysToService)
		case "distance-to-service":
			return quantityInt(r.MaintenanceStatus.DistanceToService, thing.UnitKilometre)
		}
	case GroupBulbs:
		b := s.Vms.BulbStatus
		values := map[string]string{
			"daytime-running": b.DayRunningAny,
			"fog-front":       b.FogFrontAny,
			"fog-rear":        b.FogRearAny,
			"high-beam":       b.HighBeamAny,
			"high-beam-left":  b.HighBeamLeft,
			"high-beam-right": b.HighBeamRight,
			"turn-left":       b.LeftTurnAny,
			"low-beam":        b.LowBeamAny,
			"low-beam-left":   b.LowBeamLeft,
			"low-beam-right":  b.LowBeamRight,
			"position":        b.PositionAny,
			"turn-right":      b.RightTurnAny,
			"stop":            b.StopAny,
		}
		if value, ok := values[channel]; ok {
			return text(value)
		}
	case GroupSafety:
		belts := s.Vrs.SeatBeltStatus
		switch channel {
		case "airbag-status":
			return text(s.Vrs.AirbagStatus.SrsStatus)
		case "airbag-updated":
			return timestamp(s.Vrs.AirbagStatus.UpdatedAt)
		case "seatbelt-driver":
			return thing.OnOffType(belts.Driver.Fastened)
		case "seatbelt-passenger":
			return thing.OnOffType(belts.Passenger.Fastened)
		case "seatbelt-rear-left":
			return thing.OnOffType(belts.DriverRear.Fastened)
		case "seatbelt-rear-middle":
			return thing.OnOffType(belts.MidRear.Fastened)
		case "seatbelt-rear-right":
			return thing.OnOffType(belts.PassengerRear.Fastened)
		case "seatbelt-updated":
			return timestamp(belts.UpdatedAt)
		}
	case GroupTyres:
		tyres := s.Vrs.VehicleTyresStatus
		switch channel {
		case "front-left":
			return tyre(tyres.DriverFrontTyre)
		case "front-right":
			return tyre(tyres.PassengerFrontTyre)
		case "rear-left":
			return tyre(tyres.DriverRearTyre)
		case "rear-right":
			return tyre(tyres.PassengerRearTyre)
		case "tyre-updated":
			return timestamp(tyres.UpdatedAt)
		}
	case GroupTrip:
		switch channel {
		case "avg-speed":
			return quantity(r.Trip.AvgSpeed, thing.UnitKmPerHour)
		case "last-trip-speed":
			return quantity(r.Trip.AvgSpeedLastDrivingCycle, thing.UnitKmPerHour)
		case "trip-meter":
			return quantity(r.Trip.TripMeter, thing.UnitKilometre)
		case "trip-meter-2":
			return quantity(r.Trip.TripMeter2, thing.UnitKilometre)
		}
	case GroupVehicleStatus:
		switch channel {
		case "engine-status":
			return text(s.Bvs.EngineStatus)
		case "key-status":
			return text(s.Bvs.KeyStatus)
		case "usage-mode":
			return text(s.Bvs.UsageMode)
		}
	case GroupSpeed:
		switch channel {
		case "speed":
			return quantity(r.Speed.Speed, thing.UnitKmPerHour)
		case "direction":
			return quantityInt(r.Speed.Direction, thing.UnitDegree)
		}
	case GroupClimateControl:
		if channel == ChannelPreclimate {
			return thing.OnOffType(s.Vcs.PreclimateActive)
		}
	case GroupEngineControl:
		if channel == ChannelEngineStart {
			return thing.OnOffType(strings.EqualFold(s.Bvs.EngineStatus, "engine_running"))
		}
	case GroupDoorsControl:
		if channel == ChannelDoorLock {
			if s.Vls.CentralLockingStatus == "" {
				return thing.UnDef
			}
			return thing.OnOffType(strings.Contains(strings.ToLower(s.Vls.CentralLockingStatus), "locked") &&
				!strings.Contains(strings.ToLower(s.Vls.CentralLockingStatus), "unlocked"))
		}
	}
	return thing.UnDef
}

func text(value string) thing.State {
	if value == "" {
		return thing.UnDef
	}
	return thing.StringType(value)
}

func decimal(value null.Int) thing.State {
	if !value.Valid || value.Int64 == undefined {
		return thing.UnDef
	}
	return thing.DecimalType(value.Int64)
}

func quantity(value null.Float, unit string) thing.State {
	if !value.Valid {
		return thing.UnDef
	}
	return thing.NewQuantity(value.Float64, unit)
}

func quantityInt(value null.Int, unit string) thing.State {
	if !value.Valid || value.Int64 == undefined {
		return thing.UnDef
	}
	return thing.NewQuantity(float64(value.Int64), unit)
}

func timestamp(value string) thing.State {
	t, ok := parseTimestamp(value)
	if !ok {
		return thing.UnDef
	}
	return thing.DateTimeType(t)
}

// openClosed maps the vendor's open status strings; anything mentioning
// "open" (but not "closed") counts as open.
func openClosed(value string) thing.State {
	if value == "" {
		return thing.UnDef
	}
	lower := strings.ToLower(value)
	if strings.Contains(lower, "clos") {
		return thing.Closed
	}
	if strings.Contains(lower, "open") || strings.Contains(lower, "ajar") {
		return thing.Open
	}
	return thing.StringType(value)
}

func tyre(status TyreStatus) thing.State {
	switch {
	case status.Pressure != "" && status.Description != "":
		return thing.StringType(status.Pressure + " (" + status.Description + ")")
	case status.Pressure != "":
		return thing.StringType(status.Pressure)
	default:
		return text(status.Description)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// undefined is what the vehicle reports for integers it has no value for.
const undefined = -1
