package mqtt

import (
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

// SensorJSON is a Home Assistant MQTT discovery payload for a sensor.
type SensorJSON struct {
	UniqueId          string       `json:"unique_id"`
	Name              string       `json:"name"`
	StateTopic        string       `json:"state_topic"`
	AvailabilityTopic string       `json:"availability_topic,omitempty"`
	StateClass        string       `json:"state_class,omitempty"`
	DeviceClass       string       `json:"device_class,omitempty"`
	UnitOfMeasurement string       `json:"unit_of_measurement,omitempty"`
	Device            SensorDevice `json:"device"`
}

type SensorDevice struct {
	Manufacturer string   `json:"manufacturer,omitempty"`
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
}

var deviceClasses = map[string]string{
	thing.UnitCelsius:     "temperature",
	thing.UnitPascal:      "pressure",
	thing.UnitVolt:        "voltage",
	thing.UnitKilometre:   "distance",
	thing.UnitKmPerHour:   "speed",
	thing.UnitSecond:      "duration",
	thing.UnitMinute:      "duration",
	thing.UnitMicrogramM3: "pm25",
	thing.UnitDecibel:     "sound_pressure",
}

// deviceClass guesses the Home Assistant device class for a state.
func deviceClass(state thing.State) string {
	quantity, ok := state.(thing.QuantityType)
	if !ok {
		return ""
	}
	return deviceClasses[quantity.Unit]
}

func unitOf(state thing.State) string {
	if quantity, ok := state.(thing.QuantityType); ok {
		return quantity.Unit
	}
	return ""
}
