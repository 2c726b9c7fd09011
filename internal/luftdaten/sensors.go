package luftdaten

import (
	"math"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

// UpdateStatus is the outcome of feeding a response to a sensor.
type UpdateStatus int

const (
	StatusOK UpdateStatus = iota
	StatusValueError
	StatusValueEmpty
	StatusConnectionError
)

func (s UpdateStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusValueError:
		return "VALUE_ERROR"
	case StatusValueEmpty:
		return "VALUE_EMPTY"
	}
	return "CONNECTION_ERROR"
}

// Sensor maps the values of one sensor type onto its channels and keeps the
// last published values.
type Sensor interface {
	UpdateChannels(t *thing.Thing, values []SensorDataValue) UpdateStatus
	UpdateFromCache(t *thing.Thing)
}

// Channels.
const (
	ChannelTemperature      = "temperature"
	ChannelHumidity         = "humidity"
	ChannelPressure         = "pressure"
	ChannelPressureSeaLevel = "pressure-sea"
	ChannelPM100            = "pm100"
	ChannelPM25             = "pm25"
	ChannelNoiseEquivalent  = "noise-eq"
	ChannelNoiseMin         = "noise-min"
	ChannelNoiseMax         = "noise-max"
)

// Sensor types accepted in the configuration.
const (
	TypeCondition   = "condition"
	TypeParticulate = "particulate"
	TypeNoise       = "noise"
)

// NewSensor returns the sensor for kind, or nil for unknown kinds.
func NewSensor(kind string) Sensor {
	switch kind {
	case TypeCondition:
		return newMappedSensor(map[string]channelUnit{
			ValueTemperature:      {ChannelTemperature, thing.UnitCelsius},
			ValueHumidity:         {ChannelHumidity, thing.UnitPercent},
			ValuePressure:         {ChannelPressure, thing.UnitPascal},
			ValuePressureSeaLevel: {ChannelPressureSeaLevel, thing.UnitPascal},
		})
	case TypeParticulate:
		return newMappedSensor(map[string]channelUnit{
			ValueP1: {ChannelPM100, thing.UnitMicrogramM3},
			ValueP2: {ChannelPM25, thing.UnitMicrogramM3},
		})
	case TypeNoise:
		return newMappedSensor(map[string]channelUnit{
			ValueNoiseEquivalent: {ChannelNoiseEquivalent, thing.UnitDecibel},
			ValueNoiseMin:        {ChannelNoiseMin, thing.UnitDecibel},
			ValueNoiseMax:        {ChannelNoiseMax, thing.UnitDecibel},
		})
	}
	return nil
}

type channelUnit struct {
	channel string
	unit    string
}

// mappedSensor publishes each known value type on its channel. The cache
// starts at -1 for every channel until a value arrives.
type mappedSensor struct {
	mapping map[string]channelUnit
	cache   map[string]thing.QuantityType
}

func newMappedSensor(mapping map[string]channelUnit) *mappedSensor {
	s := &mappedSensor{mapping: mapping, cache: make(map[string]thing.QuantityType, len(mapping))}
	for _, target := range mapping {
		s.cache[target.channel] = thing.NewQuantity(-1, target.unit)
	}
	return s
}

func (s *mappedSensor) valueTypes() []string {
	types := make([]string, 0, len(s.mapping))
	for valueType := range s.mapping {
		types = append(types, valueType)
	}
	return types
}

func (s *mappedSensor) UpdateChannels(t *thing.Thing, values []SensorDataValue) UpdateStatus {
	if values == nil {
		return StatusValueEmpty
	}
	if !hasAny(values, s.valueTypes()...) {
		return StatusValueError
	}
	for _, value := range values {
		target, ok := s.mapping[value.ValueType]
		if !ok || !value.Value.Valid {
			continue
		}
		state := thing.NewQuantity(round(value.Value.Float64, 1), target.unit)
		s.cache[target.channel] = state
		t.UpdateState("", target.channel, state)
	}
	return StatusOK
}

func (s *mappedSensor) UpdateFromCache(t *thing.Thing) {
	for channel, state := range s.cache {
		t.UpdateState("", channel, state)
	}
}

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
