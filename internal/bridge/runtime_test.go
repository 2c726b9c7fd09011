package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/jgulick48/hab-cloud-bridge/internal/luftdaten"
	"github.com/jgulick48/hab-cloud-bridge/internal/lynkco"
	"github.com/jgulick48/hab-cloud-bridge/internal/meater"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/mqtt"
	"github.com/jgulick48/hab-cloud-bridge/internal/sltraffic"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

type mockCallback struct {
	mock.Mock
}

func (m *mockCallback) StatusUpdated(uid thing.UID, info thing.StatusInfo) {
	m.Called(uid, info)
}

func (m *mockCallback) StateUpdated(channel thing.ChannelUID, state thing.State) {
	m.Called(channel, state.String())
}

func newCloud() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"OK","statusCode":200,"data":{"token":"t","userId":"u"}}`)
	})
	mux.HandleFunc("GET /v1/devices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"OK","statusCode":200,"data":{"devices":[
		  {"id":"probe-1","temperature":{"internal":54.3,"ambient":120},"updated_at":1714550400,"cook":null}]}}`)
	})
	mux.HandleFunc("POST /deviations.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"StatusCode":0,"Message":null,"ResponseData":[{"Scope":"Tunnelbanans gröna linje","Header":"Försenad trafik"}]}`)
	})
	return httptest.NewServer(mux)
}

type RuntimeTest struct {
	suite.Suite
	cloud    *httptest.Server
	callback *mockCallback
	runtime  *Runtime
}

func TestRuntime(t *testing.T) {
	suite.Run(t, new(RuntimeTest))
}

func (s *RuntimeTest) SetupTest() {
	s.cloud = newCloud()
	s.T().Cleanup(s.cloud.Close)
	s.callback = &mockCallback{}
	s.callback.On("StatusUpdated", mock.Anything, mock.Anything).Return()
	s.callback.On("StateUpdated", mock.Anything, mock.Anything).Return()

	config := models.Config{
		PrometheusListen: "127.0.0.1:0",
		PropertyStore:    models.PropertyStoreConfig{Backend: "memory"},
		Meater: &models.MeaterConfiguration{
			Email:    "cook@example.com",
			Password: "secret",
			Probes:   []models.MeaterProbeConfiguration{{DeviceID: "probe-1", Label: "Brisket"}},
		},
		SLTraffic: []models.SLTrafficConfiguration{{ID: "green", APIKeyDeviation: "key", LineNumbers: "17"}},
		Luftdaten: []models.LuftdatenConfiguration{{SensorID: "not-a-number", Type: luftdaten.TypeCondition}},
	}
	runtime, err := New(config, Options{
		HTTPClient:    http.DefaultClient,
		Callbacks:     []thing.Callback{s.callback},
		MeaterBaseURL: s.cloud.URL,
		SLTrafficURL:  s.cloud.URL + "/deviations.json",
	})
	s.Require().NoError(err)
	s.runtime = runtime
}

func (s *RuntimeTest) thing(uid thing.UID) *thing.Thing {
	for _, t := range s.runtime.Things() {
		if t.UID == uid {
			return t
		}
	}
	s.FailNow("unknown thing", uid)
	return nil
}

func (s *RuntimeTest) TestThingsBuiltFromConfig() {
	var uids []thing.UID
	for _, t := range s.runtime.Things() {
		uids = append(uids, t.UID)
	}
	s.Equal([]thing.UID{
		"meater:meaterapi:account",
		"meater:meaterprobe:account:probe-1",
		"sltrafficinformation:deviations:green",
		"luftdateninfo:condition:not-a-number",
	}, uids)
	s.Len(s.runtime.Handlers(), 3)
	s.Nil(s.runtime.Lynkco())
	s.Equal("Brisket", s.thing("meater:meaterprobe:account:probe-1").Label)
}

func (s *RuntimeTest) TestRun() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.runtime.Run(ctx) }()

	probe := s.thing("meater:meaterprobe:account:probe-1")
	s.Eventually(func() bool {
		return probe.Status().Status == thing.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)

	deviations := s.thing("sltrafficinformation:deviations:green")
	s.Eventually(func() bool {
		return deviations.Status().Status == thing.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
	s.Require().NoError(s.runtime.HandleCommand(ctx, deviations.Channel("", sltraffic.ChannelDeviation), thing.Refresh))
	state, _ := deviations.LastState("", sltraffic.ChannelDeviation)
	s.Equal("För Tunnelbanans gröna linje gäller Försenad trafik. ", state)

	sensor := s.thing("luftdateninfo:condition:not-a-number")
	s.Equal(thing.DetailConfigurationError, sensor.Status().Detail)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("runtime did not stop")
	}
	s.callback.AssertCalled(s.T(), "StatusUpdated", probe.UID, thing.Online())
	s.callback.AssertCalled(s.T(), "StateUpdated", probe.Channel("", meater.ChannelInternalTemperature), "54.3 °C")
}

func (s *RuntimeTest) TestHandleCommandUnknownThing() {
	err := s.runtime.HandleCommand(context.Background(), thing.NewChannelUID("nope:nope:1", "", "x"), thing.Refresh)
	s.Error(err)
}

func (s *RuntimeTest) TestLynkcoBridgeUsesPropertyStore() {
	store := thing.NewMemoryStore(map[string]string{"refreshToken": "r"})
	runtime, err := New(models.Config{
		Lynkco: &models.LynkcoConfiguration{
			Vehicles: []models.LynkcoVehicleConfiguration{{VIN: "VIN123"}},
		},
	}, Options{
		Properties: func(uid thing.UID) (thing.PropertyStore, error) {
			s.Equal(thing.UID("lynkco:api:account"), uid)
			return store, nil
		},
	})
	s.Require().NoError(err)
	s.Require().NotNil(runtime.Lynkco())
	s.Equal(store, runtime.Lynkco().Thing().Properties)
	s.Equal(thing.UID("lynkco:vehicle:account:VIN123"), runtime.Things()[1].UID)
}

type telematics struct {
	mux      sync.Mutex
	services []string
}

func (t *telematics) sent() []string {
	t.mux.Lock()
	defer t.mux.Unlock()
	return append([]string(nil), t.services...)
}

func (s *RuntimeTest) TestMQTTCommandReachesVehicle() {
	received := &telematics{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /remote-control/vehicle/telematics/{vin}", func(w http.ResponseWriter, r *http.Request) {
		var command struct {
			ServiceID string `json:"serviceId"`
			Command   string `json:"command"`
		}
		_ = json.NewDecoder(r.Body).Decode(&command)
		received.mux.Lock()
		received.services = append(received.services, r.PathValue("vin")+" "+command.ServiceID+" "+command.Command)
		received.mux.Unlock()
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	car := httptest.NewServer(mux)
	s.T().Cleanup(car.Close)

	ccc, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	s.Require().NoError(err)
	client := mqtt.NewClient(models.MQTTConfiguration{Prefix: "hab"}, nil)
	runtime, err := New(models.Config{
		Lynkco: &models.LynkcoConfiguration{
			Vehicles: []models.LynkcoVehicleConfiguration{{VIN: "VIN123"}},
		},
	}, Options{
		HTTPClient:      http.DefaultClient,
		MQTT:            client,
		LynkcoEndpoints: lynkco.Endpoints{RemoteControl: car.URL},
		Properties: func(thing.UID) (thing.PropertyStore, error) {
			return thing.NewMemoryStore(map[string]string{lynkco.PropertyCCCToken: ccc}), nil
		},
	})
	s.Require().NoError(err)

	s.Require().NoError(client.HandleMessage(context.Background(), "hab/lynkco_vehicle_account_VIN123/climate-control/preclimate/set", []byte("ON")))
	s.Equal([]string{"VIN123 ZAF start"}, received.sent())
	s.Error(client.HandleMessage(context.Background(), "hab/lynkco_vehicle_account_OTHER/climate-control/preclimate/set", []byte("ON")))
	s.Len(runtime.Things(), 2)
}
