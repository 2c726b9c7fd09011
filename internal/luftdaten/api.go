package luftdaten

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const DefaultBaseURL = "https://data.sensor.community"

const timestampLayout = "2006-01-02 15:04:05"

// Value types reported by the sensors.
const (
	ValueP1               = "P1"
	ValueP2               = "P2"
	ValueTemperature      = "temperature"
	ValueHumidity         = "humidity"
	ValuePressure         = "pressure"
	ValuePressureSeaLevel = "pressure_at_sealevel"
	ValueNoiseEquivalent  = "noise_LAeq"
	ValueNoiseMin         = "noise_LA_min"
	ValueNoiseMax         = "noise_LA_max"
)

type SensorDataValue struct {
	ValueType string     `json:"value_type"`
	Value     null.Float `json:"value"`
}

// UnmarshalJSON leaves Value invalid instead of failing when the sensor sends
// something that is not a number, so one bad reading does not hide the others.
func (v *SensorDataValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		ValueType string          `json:"value_type"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.ValueType = raw.ValueType
	v.Value = null.Float{}
	if len(raw.Value) > 0 && v.Value.UnmarshalJSON(raw.Value) != nil {
		v.Value = null.Float{}
	}
	return nil
}

type SensorData struct {
	ID               int64             `json:"id"`
	Timestamp        string            `json:"timestamp"`
	SensorDataValues []SensorDataValue `json:"sensordatavalues"`
}

// API reads the public sensor.community feed.
type API struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAPI(baseURL string, httpClient *http.Client, logger *zap.Logger) *API {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.WithLogger(logger))
	}
	return &API{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient, logger: logger}
}

// Sensor returns the raw JSON published for sensorID.
func (a *API) Sensor(ctx context.Context, sensorID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/airrohr/v1/sensor/"+sensorID+"/", nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating sensor request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sensor request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("sensor %s returned %d: %s", sensorID, resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "reading sensor response")
	}
	return body, nil
}

// LatestValues returns the parsable values of the newest entry in body, or nil
// when body holds no entries.
func LatestValues(body []byte) []SensorDataValue {
	var entries []SensorData
	if err := json.Unmarshal(body, &entries); err != nil || len(entries) == 0 {
		return nil
	}
	latest := entries[0]
	latestTime, _ := time.Parse(timestampLayout, latest.Timestamp)
	for _, entry := range entries[1:] {
		t, err := time.Parse(timestampLayout, entry.Timestamp)
		if err == nil && t.After(latestTime) {
			latest, latestTime = entry, t
		}
	}
	var values []SensorDataValue
	for _, value := range latest.SensorDataValues {
		if value.Value.Valid {
			values = append(values, value)
		}
	}
	return values
}

func hasAny(values []SensorDataValue, types ...string) bool {
	for _, value := range values {
		for _, t := range types {
			if value.ValueType == t {
				return true
			}
		}
	}
	return false
}
