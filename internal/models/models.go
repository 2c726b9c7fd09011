package models

type Config struct {
	OpenHabServer    string                   `json:"openHabServer"`
	StatsServer      string                   `json:"statsServer"`
	PrometheusListen string                   `json:"prometheusListen"`
	Debug            bool                     `json:"debug"`
	MQTT             MQTTConfiguration        `json:"mqtt"`
	PropertyStore    PropertyStoreConfig      `json:"propertyStore"`
	Lynkco           *LynkcoConfiguration     `json:"lynkco,omitempty"`
	Meater           *MeaterConfiguration     `json:"meater,omitempty"`
	SLTraffic        []SLTrafficConfiguration `json:"slTraffic,omitempty"`
	Verisure         *VerisureConfiguration   `json:"verisure,omitempty"`
	Luftdaten        []LuftdatenConfiguration `json:"luftdaten,omitempty"`
}

type MQTTConfiguration struct {
	URL       string `json:"url"`
	Prefix    string `json:"prefix"`
	ClientID  string `json:"clientId"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Discovery bool   `json:"discovery"`
}

func (c MQTTConfiguration) IsEnabled() bool {
	return c.URL != ""
}

// PropertyStoreConfig selects where thing properties (tokens, verifiers) are kept.
// Backend is one of "auto", "keyring", "file" or "memory".
type PropertyStoreConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

type LynkcoConfiguration struct {
	Email           string                       `json:"email"`
	Password        string                       `json:"password"`
	MFACode         string                       `json:"mfaCode"`
	Redirect        string                       `json:"redirect"`
	RefreshInterval Duration                     `json:"refreshInterval"`
	Vehicles        []LynkcoVehicleConfiguration `json:"vehicles"`
}

type LynkcoVehicleConfiguration struct {
	VIN   string `json:"vin"`
	Label string `json:"label"`
}

type MeaterConfiguration struct {
	Email           string                     `json:"email"`
	Password        string                     `json:"password"`
	RefreshInterval Duration                   `json:"refreshInterval"`
	Probes          []MeaterProbeConfiguration `json:"probes"`
}

type MeaterProbeConfiguration struct {
	DeviceID string `json:"deviceId"`
	Label    string `json:"label"`
}

type SLTrafficConfiguration struct {
	ID              string `json:"id"`
	APIKeyDeviation string `json:"apiKeyDeviation"`
	LineNumbers     string `json:"lineNumbers"`
	// Refresh is in minutes, 0 disables the automatic refresh.
	Refresh int `json:"refresh"`
}

type VerisureConfiguration struct {
	Username        string                       `json:"username"`
	Password        string                       `json:"password"`
	RefreshInterval Duration                     `json:"refreshInterval"`
	Things          []VerisureThingConfiguration `json:"things"`
}

type VerisureThingConfiguration struct {
	DeviceID string `json:"deviceId"`
	Label    string `json:"label"`
}

type LuftdatenConfiguration struct {
	SensorID string   `json:"sensorId"`
	Type     string   `json:"type"`
	Refresh  Duration `json:"refresh"`
}
