package thing

import (
	"strconv"
	"strings"
	"time"
)

// State is a typed channel value. String renders openHAB's textual form.
type State interface {
	String() string
}

// Numeric is implemented by states that can be reported as a gauge.
type Numeric interface {
	Float() float64
}

type undefType struct{}

func (undefType) String() string { return "UNDEF" }

// UnDef marks a channel whose value is not available.
var UnDef State = undefType{}

type StringType string

func (s StringType) String() string { return string(s) }

type DecimalType float64

func (d DecimalType) String() string {
	return strconv.FormatFloat(float64(d), 'f', -1, 64)
}

func (d DecimalType) Float() float64 { return float64(d) }

// Units understood by the channel mappers.
const (
	UnitCelsius     = "°C"
	UnitPercent     = "%"
	UnitPascal      = "Pa"
	UnitSecond      = "s"
	UnitMinute      = "min"
	UnitKilometre   = "km"
	UnitKmPerHour   = "km/h"
	UnitVolt        = "V"
	UnitLitrePer100 = "l/100km"
	UnitMicrogramM3 = "µg/m³"
	UnitDegree      = "°"
	UnitDecibel     = "dB"
)

type QuantityType struct {
	Value float64
	Unit  string
}

func NewQuantity(value float64, unit string) QuantityType {
	return QuantityType{Value: value, Unit: unit}
}

func (q QuantityType) String() string {
	value := strconv.FormatFloat(q.Value, 'f', -1, 64)
	if q.Unit == "" {
		return value
	}
	return value + " " + q.Unit
}

func (q QuantityType) Float() float64 { return q.Value }

type DateTimeType time.Time

func (d DateTimeType) String() string {
	return time.Time(d).Format("2006-01-02T15:04:05.000-0700")
}

type OnOffType bool

const (
	On  OnOffType = true
	Off OnOffType = false
)

func (o OnOffType) String() string {
	if o {
		return "ON"
	}
	return "OFF"
}

func (o OnOffType) Float() float64 {
	if o {
		return 1
	}
	return 0
}

type OpenClosedType bool

const (
	Open   OpenClosedType = true
	Closed OpenClosedType = false
)

func (o OpenClosedType) String() string {
	if o {
		return "OPEN"
	}
	return "CLOSED"
}

// PointType is a location as latitude,longitude[,altitude].
type PointType struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

func (p PointType) String() string {
	parts := []string{
		strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		strconv.FormatFloat(p.Longitude, 'f', -1, 64),
	}
	if p.Altitude != 0 {
		parts = append(parts, strconv.FormatFloat(p.Altitude, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// Command is sent to a handler for a channel.
type Command interface {
	String() string
}

type refreshType struct{}

func (refreshType) String() string { return "REFRESH" }

// Refresh asks a handler to re-read the current value of a channel.
var Refresh Command = refreshType{}

// ParseCommand turns the textual form of a command into a typed Command.
func ParseCommand(value string) Command {
	value = strings.TrimSpace(value)
	switch strings.ToUpper(value) {
	case "REFRESH":
		return Refresh
	case "ON":
		return On
	case "OFF":
		return Off
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return DecimalType(f)
	}
	return StringType(value)
}
