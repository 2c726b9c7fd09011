package lynkco

import (
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null"
)

// Vehicle is the last polled snapshot of one car.
type Vehicle struct {
	VIN       string
	Record    Record
	Shadow    Shadow
	UpdatedAt time.Time
}

type Record struct {
	Battery           Battery           `json:"battery"`
	Climate           Climate           `json:"climate"`
	ElectricStatus    ElectricStatus    `json:"electricStatus"`
	Fuel              Fuel              `json:"fuel"`
	MaintenanceStatus MaintenanceStatus `json:"maintenanceStatus"`
	Odometer          Odometer          `json:"odometer"`
	Position          Position          `json:"position"`
	Speed             Speed             `json:"speed"`
	Trip              Trip              `json:"trip"`
	CreatedAt         string            `json:"createdAt"`
	UpdatedAt         string            `json:"updatedAt"`
	VIN               string            `json:"vin"`
}

type Battery struct {
	Charge           string     `json:"charge"`
	ChargeLevel      null.Int   `json:"chargeLevel"`
	EnergyLevel      null.Int   `json:"energyLevel"`
	Health           null.Int   `json:"health"`
	PowerLevel       null.Int   `json:"powerLevel"`
	Voltage          null.Float `json:"voltage"`
	VehicleUpdatedAt string     `json:"vehicleUpdatedAt"`
}

type Temperature struct {
	Quality string     `json:"quality"`
	Unit    string     `json:"unit"`
	Temp    null.Float `json:"temp"`
}

type Climate struct {
	ExteriorTemp     Temperature `json:"exteriorTemp"`
	InteriorTemp     Temperature `json:"interiorTemp"`
	PreClimateActive bool        `json:"preClimateActive"`
	VehicleUpdatedAt string      `json:"vehicleUpdatedAt"`
}

type ElectricStatus struct {
	ChargeLevel                  null.Float `json:"chargeLevel"`
	DistanceToEmptyOnBatteryOnly null.Int   `json:"distanceToEmptyOnBatteryOnly"`
	TimeToFullyCharged           null.Int   `json:"timeToFullyCharged"`
	VehicleUpdatedAt             string     `json:"vehicleUpdatedAt"`
}

type Fuel struct {
	AverageConsumption                   null.Float `json:"averageConsumption"`
	AverageConsumptionLatestDrivingCycle null.Float `json:"averageConsumptionLatestDrivingCycle"`
	DistanceToEmpty                      null.Int   `json:"distanceToEmpty"`
	FuelType                             string     `json:"fuelType"`
	Level                                null.Float `json:"level"`
	LevelStatus                          null.Int   `json:"levelStatus"`
	VehicleUpdatedAt                     string     `json:"vehicleUpdatedAt"`
}

type MaintenanceStatus struct {
	DaysToService            null.Int `json:"daysToService"`
	DistanceToService        null.Int `json:"distanceToService"`
	EngineCoolantTemperature null.Int `json:"engineCoolantTemperature"`
	EngineHoursToService     null.Int `json:"engineHoursToService"`
	EngineOilLevelStatus     string   `json:"engineOilLevelStatus"`
	EngineOilPressureStatus  string   `json:"engineOilPressureStatus"`
	ServiceWarningStatus     string   `json:"serviceWarningStatus"`
	WasherFluidLevelStatus   string   `json:"washerFluidLevelStatus"`
	VehicleUpdatedAt         string   `json:"vehicleUpdatedAt"`
}

type Odometer struct {
	OdometerKm       null.Float `json:"odometerKm"`
	VehicleUpdatedAt string     `json:"vehicleUpdatedAt"`
}

type Position struct {
	Altitude         null.Float `json:"altitude"`
	CanBeTrusted     bool       `json:"canBeTrusted"`
	Latitude         null.Float `json:"latitude"`
	Longitude        null.Float `json:"longitude"`
	VehicleUpdatedAt string     `json:"vehicleUpdatedAt"`
}

type Speed struct {
	Direction        null.Int   `json:"direction"`
	Speed            null.Float `json:"speed"`
	SpeedUnit        string     `json:"speedUnit"`
	VehicleUpdatedAt string     `json:"vehicleUpdatedAt"`
}

type Trip struct {
	AvgSpeed                 null.Float `json:"avgSpeed"`
	AvgSpeedLastDrivingCycle null.Float `json:"avgSpeedLastDrivingCycle"`
	TripMeter                null.Float `json:"tripMeter"`
	TripMeter2               null.Float `json:"tripMeter2"`
	VehicleUpdatedAt         string     `json:"vehicleUpdatedAt"`
}

type Shadow struct {
	Bvs Bvs `json:"bvs"`
	Evs Evs `json:"evs"`
	Vcs Vcs `json:"vcs"`
	Vls Vls `json:"vls"`
	Vms Vms `json:"vms"`
	Vrs Vrs `json:"vrs"`
}

// Bvs is the basic vehicle status.
type Bvs struct {
	EngineStatus string `json:"engineStatus"`
	KeyStatus    string `json:"keyStatus"`
	UsageMode    string `json:"usageMode"`
}

// Evs is the electric vehicle status.
type Evs struct {
	ChargerStatusData ChargerStatusData `json:"chargerStatusData"`
	PowerModeStatus   string            `json:"powermodeStatus"`
}

type ChargerStatusData struct {
	ChargerConnectionStatus string `json:"chargerConnectionStatus"`
	ChargerState            string `json:"chargerState"`
	UpdatedAt               string `json:"updatedAt"`
}

var chargerConnectionLabels = map[string]string{
	"CHARGER_CONNECTION_UNSPECIFIED":                       "Unspecified",
	"CHARGER_CONNECTION_DISCONNECTED":                      "Disconnected",
	"CHARGER_CONNECTION_CONNECTED_WITHOUT_POWER":           "Connected (No Power)",
	"CHARGER_CONNECTION_POWER_AVAILABLE_BUT_NOT_ACTIVATED": "Power Not Activated",
	"CHARGER_CONNECTION_CONNECTED_WITH_POWER":              "Connected",
	"CHARGER_CONNECTION_INIT":                              "Initializing",
	"CHARGER_CONNECTION_FAULT":                             "Fault",
}

var chargerStateLabels = map[string]string{
	"CHARGER_STATE_UNSPECIFIED": "Unspecified",
	"CHARGER_STATE_IDLE":        "Idle",
	"CHARGER_STATE_PRE_STRT":    "Pre-Start",
	"CHARGER_STATE_CHARGN":      "Charging",
	"CHARGER_STATE_ALRM":        "Alarm",
	"CHARGER_STATE_SRV":         "Service",
	"CHARGER_STATE_DIAG":        "Diagnostics",
	"CHARGER_STATE_BOOT":        "Boot",
	"CHARGER_STATE_RSTRT":       "Restart",
}

func (c ChargerStatusData) ConnectionLabel() string {
	if label, ok := chargerConnectionLabels[c.ChargerConnectionStatus]; ok {
		return label
	}
	return "Unspecified"
}

func (c ChargerStatusData) StateLabel() string {
	if label, ok := chargerStateLabels[c.ChargerState]; ok {
		return label
	}
	return "Unspecified"
}

// Vcs is the climate status.
type Vcs struct {
	PreclimateActive    bool   `json:"preclimateActive"`
	PreclimateUpdatedAt string `json:"preclimateUpdatedAt"`
}

// Vls is the lock and opening status.
type Vls struct {
	AlarmStatusData             string `json:"alarmStatusData"`
	CentralLockingStatus        string `json:"centralLockingStatus"`
	DoorLocksStatus             string `json:"doorLocksStatus"`
	DoorOpenStatusDriver        string `json:"doorOpenStatusDriver"`
	DoorOpenStatusDriverRear    string `json:"doorOpenStatusDriverRear"`
	DoorOpenStatusPassenger     string `json:"doorOpenStatusPassenger"`
	DoorOpenStatusPassengerRear string `json:"doorOpenStatusPassengerRear"`
	EngineHoodStatus            string `json:"engineHoodStatus"`
	SunroofOpenStatus           string `json:"sunroofOpenStatus"`
	TankFlapStatus              string `json:"tankFlapStatus"`
	TrunkOpenStatus             string `json:"trunkOpenStatus"`
	WindowStatusDriver          string `json:"windowStatusDriver"`
	WindowStatusDriverRear      string `json:"windowStatusDriverRear"`
	WindowStatusPassenger       string `json:"windowStatusPassenger"`
	WindowStatusPassengerRear   string `json:"windowStatusPassengerRear"`
}

// Vms is the maintenance status.
type Vms struct {
	BulbStatus                     BulbStatus                     `json:"bulbStatus"`
	VehicleStateServiceMaintenance VehicleStateServiceMaintenance `json:"vehicleStateServiceMaintenance"`
}

type BulbStatus struct {
	DayRunningAny string `json:"dayRunningAny"`
	FogFrontAny   string `json:"fogFrontAny"`
	FogRearAny    string `json:"fogRearAny"`
	HighBeamAny   string `json:"highBeamAny"`
	HighBeamLeft  string `json:"highBeamLeft"`
	HighBeamRight string `json:"highBeamRight"`
	LeftTurnAny   string `json:"leftTurnAny"`
	LowBeamAny    string `json:"lowBeamAny"`
	LowBeamLeft   string `json:"lowBeamLeft"`
	LowBeamRight  string `json:"lowBeamRight"`
	PositionAny   string `json:"positionAny"`
	RightTurnAny  string `json:"rightTurnAny"`
	StopAny       string `json:"stopAny"`
}

type VehicleStateServiceMaintenance struct {
	BrakeFluidLevelStatus   string `json:"brakeFluidLevelStatus"`
	CoolantLevelStatus      string `json:"coolantLevelStatus"`
	EngineOilLevelStatus    string `json:"engineOilLevelStatus"`
	EngineOilPressureStatus string `json:"engineOilPressureStatus"`
	ServiceWarningStatus    string `json:"serviceWarningStatus"`
	WasherFluidLevelStatus  string `json:"washerFluidLevelStatus"`
}

// Vrs is the safety status.
type Vrs struct {
	AirbagStatus       AirbagStatus       `json:"airbagStatus"`
	FuelLevelStatus    string             `json:"fuelLevelStatus"`
	SeatBeltStatus     SeatBeltStatus     `json:"seatBeltStatus"`
	VehicleTyresStatus VehicleTyresStatus `json:"vehicleTyresStatus"`
}

type AirbagStatus struct {
	SrsStatus string `json:"srsStatus"`
	UpdatedAt string `json:"updatedAt"`
}

type SeatBelt struct {
	Fastened bool `json:"fastened"`
}

type SeatBeltStatus struct {
	Driver        SeatBelt `json:"driver"`
	DriverRear    SeatBelt `json:"driverRear"`
	MidRear       SeatBelt `json:"midRear"`
	Passenger     SeatBelt `json:"passenger"`
	PassengerRear SeatBelt `json:"passengerRear"`
	UpdatedAt     string   `json:"updatedAt"`
}

type TyreStatus struct {
	Description string `json:"description"`
	Pressure    string `json:"pressure"`
}

type VehicleTyresStatus struct {
	DriverFrontTyre    TyreStatus `json:"driverFrontTyre"`
	DriverRearTyre     TyreStatus `json:"driverRearTyre"`
	PassengerFrontTyre TyreStatus `json:"passengerFrontTyre"`
	PassengerRearTyre  TyreStatus `json:"passengerRearTyre"`
	UpdatedAt          string     `json:"updatedAt"`
}

// parseTimestamp accepts RFC3339 strings and epoch milliseconds.
func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
