package lynkco

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	testEmail    = "driver@example.com"
	testPassword = "secret"
	testMFA      = "123456"
	testVIN      = "LYK00000000000001"
)

// fakeCloud imitates the identity provider and the vehicle APIs.
type fakeCloud struct {
	t      *testing.T
	server *httptest.Server

	mux            sync.Mutex
	challenge      string
	validRefresh   string
	refreshCalls   int
	exchangeCalls  int
	deviceLogins   int
	recordCalls    int
	unauthorized   int
	recordFailures int
	commands       []remoteCommand
	cccExpiry      time.Duration
}

func newFakeCloud(t *testing.T) *fakeCloud {
	f := &fakeCloud{t: t, validRefresh: "refresh-0", cccExpiry: time.Hour}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /b2c/oauth2/v2.0/authorize", f.authorize)
	mux.HandleFunc("POST /b2c/SelfAsserted", f.selfAsserted)
	mux.HandleFunc("GET /b2c/api/CombinedSigninAndSignup/confirmed", f.combined)
	mux.HandleFunc("GET /b2c/api/SelfAsserted/confirmed", f.confirmed)
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("POST /validate-session", f.validateSession)
	mux.HandleFunc("GET /delegated-driver/api/delegateddriver/v1/vehicle/{vin}/drivers", f.drivers)
	mux.HandleFunc("GET /remote-vehicle-data/v1/vehicles/{vin}/record", f.record)
	mux.HandleFunc("GET /vehicle-shadow/v1/vehicles/{vin}/shadow", f.shadow)
	mux.HandleFunc("POST /remote-control/vehicle/telematics/{vin}", f.command)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCloud) endpoints() Endpoints {
	return Endpoints{
		LoginBase:       f.server.URL + "/b2c/",
		Token:           f.server.URL + "/token",
		DeviceLogin:     f.server.URL + "/validate-session",
		DelegatedDriver: f.server.URL,
		VehicleData:     f.server.URL,
		VehicleShadow:   f.server.URL,
		RemoteControl:   f.server.URL,
	}
}

func (f *fakeCloud) authorize(w http.ResponseWriter, r *http.Request) {
	f.mux.Lock()
	f.challenge = r.URL.Query().Get("code_challenge")
	f.mux.Unlock()
	if r.URL.Query().Get("code_challenge_method") != "S256" || r.URL.Query().Get("client_id") != ClientID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "x-ms-cpim-trans", Value: "trans-1", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "x-ms-cpim-csrf", Value: "csrf-1", Path: "/"})
	w.Header().Set("x-ms-gateway-requestid", "page-1")
	_, _ = w.Write([]byte("<html></html>"))
}

func (f *fakeCloud) selfAsserted(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("tx") != "StateProperties=trans-1" || r.URL.Query().Get("p") != policy {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = r.ParseForm()
	switch {
	case r.PostForm.Get("signInName") != "":
		if r.Header.Get("x-csrf-token") != "csrf-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.PostForm.Get("signInName") != testEmail || r.PostForm.Get("password") != testPassword {
			_, _ = w.Write([]byte(`{"status":"400","message":"Invalid username or password."}`))
			return
		}
	case r.PostForm.Get("verificationCode") != "":
		if r.Header.Get("x-csrf-token") != "csrf-2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.PostForm.Get("verificationCode") != testMFA {
			_, _ = w.Write([]byte(`{"status":"400","message":"The verification code is invalid."}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"200"}`))
}

func (f *fakeCloud) combined(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var diags map[string]interface{}
	_ = json.Unmarshal([]byte(query.Get("diags")), &diags)
	if query.Get("csrf_token") != "csrf-1" || diags["pageViewId"] != "page-1" || diags["pageId"] != "CombinedSigninAndSignup" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "x-ms-cpim-csrf", Value: "csrf-2", Path: "/"})
	w.Header().Set("x-ms-gateway-requestid", "page-2")
	_, _ = w.Write([]byte("<html>mfa</html>"))
}

func (f *fakeCloud) confirmed(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("csrf_token") != "csrf-2" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Location", RedirectURI+"?code=auth-code")
	w.WriteHeader(http.StatusFound)
}

func (f *fakeCloud) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mux.Lock()
	defer f.mux.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchangeCalls++
		verifier := r.PostForm.Get("code_verifier")
		code := r.PostForm.Get("code")
		validCode := code == "auth-code" && oauth2.S256ChallengeFromVerifier(verifier) == f.challenge
		if code == "manual-code" && r.PostForm.Get("client_id") == ManualClientID && verifier != "" {
			validCode = true
		}
		if !validCode {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.validRefresh = "refresh-1"
		_, _ = w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`))
	case "refresh_token":
		f.refreshCalls++
		if r.PostForm.Get("refresh_token") != f.validRefresh {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.validRefresh = "refresh-2"
		_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// set changes the fake's behaviour while requests may be in flight.
func (f *fakeCloud) set(change func(f *fakeCloud)) {
	f.mux.Lock()
	defer f.mux.Unlock()
	change(f)
}

func (f *fakeCloud) refreshes() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.refreshCalls
}

func (f *fakeCloud) exchanges() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.exchangeCalls
}

func (f *fakeCloud) deviceLoginCount() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.deviceLogins
}

func (f *fakeCloud) records() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.recordCalls
}

func (f *fakeCloud) cccToken() string {
	f.mux.Lock()
	expiry := f.cccExpiry
	f.mux.Unlock()
	return f.signCCC(expiry)
}

func (f *fakeCloud) signCCC(expiry time.Duration) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(expiry).Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		f.t.Fatal(err)
	}
	return token
}

func (f *fakeCloud) validateSession(w http.ResponseWriter, r *http.Request) {
	var body deviceLoginRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if r.Header.Get("X-Auth-Token") == "" || r.Header.Get("api-version") != "1" || body.DeviceUUID == "" || !body.IsLogin {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mux.Lock()
	f.deviceLogins++
	expiry := f.cccExpiry
	f.mux.Unlock()
	_ = json.NewEncoder(w).Encode(deviceLoginResponse{CCCToken: f.signCCC(expiry)})
}

func (f *fakeCloud) authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ey")
}

func (f *fakeCloud) drivers(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) || r.PathValue("vin") != testVIN {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(`{"drivers":[{"userId":"user-1"},{"userId":"user-2"}]}`))
}

func (f *fakeCloud) record(w http.ResponseWriter, r *http.Request) {
	f.mux.Lock()
	f.recordCalls++
	unauthorized := f.unauthorized > 0
	if unauthorized {
		f.unauthorized--
	}
	failing := f.recordFailures > 0
	if failing {
		f.recordFailures--
	}
	f.mux.Unlock()
	switch {
	case unauthorized || !f.authorized(r):
		w.WriteHeader(http.StatusUnauthorized)
		return
	case failing:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("backend unavailable"))
		return
	case r.URL.Query().Get("userId") != "user-1":
		w.WriteHeader(http.StatusForbidden)
		return
	}
	_, _ = w.Write([]byte(recordFixture))
}

func (f *fakeCloud) shadow(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(shadowFixture))
}

func (f *fakeCloud) command(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var command remoteCommand
	_ = json.NewDecoder(r.Body).Decode(&command)
	f.mux.Lock()
	f.commands = append(f.commands, command)
	f.mux.Unlock()
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (f *fakeCloud) sentCommands() []remoteCommand {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([]remoteCommand(nil), f.commands...)
}

const recordFixture = `{
  "vin": "LYK00000000000001",
  "battery": {"charge": "OK", "chargeLevel": 88, "health": -1, "voltage": 12.6, "vehicleUpdatedAt": "2024-05-01T08:00:00Z"},
  "climate": {"exteriorTemp": {"temp": 14.5, "unit": "C"}, "interiorTemp": {"temp": null}, "preClimateActive": false},
  "electricStatus": {"chargeLevel": 76.5, "distanceToEmptyOnBatteryOnly": 52, "timeToFullyCharged": 95},
  "fuel": {"level": 41.0, "distanceToEmpty": 410, "fuelType": "PETROL", "averageConsumption": 1.8},
  "odometer": {"odometerKm": 12345.6, "vehicleUpdatedAt": "1714550400000"},
  "position": {"latitude": 59.33, "longitude": 18.06, "altitude": 12, "canBeTrusted": true},
  "speed": {"speed": 0, "direction": 270},
  "trip": {"avgSpeed": 42.1, "tripMeter": 120.5}
}`

const shadowFixture = `{
  "bvs": {"engineStatus": "engine_off", "keyStatus": "no_key", "usageMode": "abandoned"},
  "evs": {"chargerStatusData": {"chargerConnectionStatus": "CHARGER_CONNECTION_CONNECTED_WITH_POWER", "chargerState": "CHARGER_STATE_CHARGN"}, "powermodeStatus": "POWER_MODE_OFF"},
  "vcs": {"preclimateActive": true},
  "vls": {"centralLockingStatus": "LOCKED", "doorOpenStatusDriver": "closed", "trunkOpenStatus": "open", "windowStatusPassenger": "WINDOW_CLOSED"},
  "vms": {"bulbStatus": {"stopAny": "NO_FAILURE"}},
  "vrs": {"seatBeltStatus": {"driver": {"fastened": true}}, "vehicleTyresStatus": {"driverFrontTyre": {"pressure": "2.4", "description": "normal"}}}
}`
