package verisure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

type fakeVerisure struct {
	mux       sync.Mutex
	attempts  int
	logins    int
	cookie    string
	location  string
	trackings bool
	server    *httptest.Server
}

func newFakeVerisure(t *testing.T) *fakeVerisure {
	f := &fakeVerisure{location: "Home", trackings: true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mux.Lock()
		f.attempts++
		f.mux.Unlock()
		user, password, ok := r.BasicAuth()
		if !ok || user != "owner@example.com" || password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mux.Lock()
		f.logins++
		f.cookie = fmt.Sprintf("session-%d", f.logins)
		cookie := f.cookie
		f.mux.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "vid", Value: cookie, Path: "/"})
		_, _ = w.Write([]byte(`{"cookie":"` + cookie + `"}`))
	})
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("vid")
		f.mux.Lock()
		valid := err == nil && cookie.Value == f.cookie
		location, trackings := f.location, f.trackings
		f.mux.Unlock()
		if !valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var batch []graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&batch)
		if len(batch) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch batch[0].OperationName {
		case "fetchAllInstallations":
			_, _ = w.Write([]byte(`[{"data":{"account":{"installations":[{"giid":"123456","alias":"Sommarstuga"}]}}}]`))
		case "userTrackings":
			if !trackings {
				_, _ = w.Write([]byte(`[{"data":{"installation":{"userTrackings":[]}}}]`))
				return
			}
			_, _ = fmt.Fprintf(w, `[{"data":{"installation":{"userTrackings":[{"isCallingUser":true,"webAccount":"owner@example.com",
"status":"ACTIVE","currentLocationName":%q,"name":"Owner","deviceName":"Phone","currentLocationTimestamp":"2024-05-01T08:00:00.000Z"}]}}}]`, location)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVerisure) set(change func(f *fakeVerisure)) {
	f.mux.Lock()
	defer f.mux.Unlock()
	change(f)
}

func (f *fakeVerisure) loginCount() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.logins
}

func (f *fakeVerisure) loginAttempts() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.attempts
}

func newTestClient() *http.Client {
	return httpclient.New(httpclient.WithCookieJar())
}

type recordingListener struct {
	mux    sync.Mutex
	events []string
}

func (l *recordingListener) record(event string, p *UserPresence) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.events = append(l.events, event+":"+p.Tracking.CurrentLocationName)
}

func (l *recordingListener) OnDeviceStateChanged(p *UserPresence) { l.record("changed", p) }
func (l *recordingListener) OnDeviceAdded(p *UserPresence) { l.record("added", p) }
func (l *recordingListener) OnDeviceRemoved(p *UserPresence) { l.record("removed", p) }

func Test_NormalizeDeviceID(t *testing.T) {
	assert.Equal(t, "ownerexamplecom123456", NormalizeDeviceID("Owner@Example.com 123456"))
	assert.Equal(t, "abc123", NormalizeDeviceID("A-B_C 1/2/3"))
}

func Test_Session_RefreshNotifiesListeners(t *testing.T) {
	f := newFakeVerisure(t)
	session := NewSession(f.server.URL, "owner@example.com", "secret", newTestClient(), nil)
	listener := &recordingListener{}
	session.RegisterDeviceStatusListener(listener)
	session.RegisterDeviceStatusListener(listener)
	ctx := context.Background()

	require.NoError(t, session.Refresh(ctx))
	require.NoError(t, session.Refresh(ctx))
	f.set(func(f *fakeVerisure) { f.location = "Away" })
	require.NoError(t, session.Refresh(ctx))
	f.set(func(f *fakeVerisure) { f.trackings = false })
	require.NoError(t, session.Refresh(ctx))

	assert.Equal(t, []string{"added:Home", "changed:Home", "changed:Away", "removed:Away"}, listener.events)
	assert.Equal(t, 1, f.loginCount())

	session.UnregisterDeviceStatusListener(listener)
	f.set(func(f *fakeVerisure) { f.trackings = true })
	require.NoError(t, session.Refresh(ctx))
	assert.Len(t, listener.events, 4)
}

func Test_Session_DeviceLookupIsNormalised(t *testing.T) {
	f := newFakeVerisure(t)
	session := NewSession(f.server.URL, "owner@example.com", "secret", newTestClient(), nil)
	require.NoError(t, session.Refresh(context.Background()))

	presence, ok := session.Device("OWNER@example.com-123456")
	require.True(t, ok)
	assert.Equal(t, int64(123456), presence.SiteID)
	assert.Equal(t, "Sommarstuga", presence.SiteName)
	assert.Equal(t, []string{"ownerexamplecom123456"}, session.DeviceIDs())
}

func Test_Session_ReloginWhenCookieExpires(t *testing.T) {
	f := newFakeVerisure(t)
	session := NewSession(f.server.URL, "owner@example.com", "secret", newTestClient(), nil)
	require.NoError(t, session.Refresh(context.Background()))

	f.set(func(f *fakeVerisure) { f.cookie = "rotated" })
	require.NoError(t, session.Refresh(context.Background()))
	assert.Equal(t, 2, f.loginCount())
}

func Test_Session_BadCredentials(t *testing.T) {
	f := newFakeVerisure(t)
	session := NewSession(f.server.URL, "owner@example.com", "wrong", newTestClient(), nil)
	err := session.Refresh(context.Background())
	assert.True(t, errors.Is(err, ErrAuthentication))
}

type BridgeTest struct {
	suite.Suite
	fake   *fakeVerisure
	bridge *Bridge
}

func TestBridge(t *testing.T) {
	suite.Run(t, new(BridgeTest))
}

func (s *BridgeTest) SetupTest() {
	s.fake = newFakeVerisure(s.T())
	s.bridge = s.newBridge("secret")
}

func (s *BridgeTest) TearDownTest() {
	s.bridge.Dispose()
}

func (s *BridgeTest) newBridge(password string, pollOptions ...poller.Option) *Bridge {
	if len(pollOptions) == 0 {
		pollOptions = []poller.Option{poller.WithMaxRetries(1)}
	}
	return NewBridge(thing.New(thing.NewUID(BindingID, "bridge", "home"), "Verisure", nil, nil),
		models.VerisureConfiguration{Username: "owner@example.com", Password: password},
		Options{
			BaseURL:     s.fake.server.URL,
			HTTPClient:  newTestClient(),
			PollOptions: pollOptions,
		})
}

func (s *BridgeTest) addPresence(deviceID string) *UserPresenceHandler {
	t := thing.New(thing.NewUID(BindingID, "userpresence", "owner"), "Owner", nil, nil)
	handler := s.bridge.AddUserPresence(t, models.VerisureThingConfiguration{DeviceID: deviceID})
	s.Require().NoError(handler.Initialize(context.Background()))
	return handler
}

func (s *BridgeTest) TestUserPresence() {
	handler := s.addPresence("owner@example.com123456")
	s.Equal(thing.DetailBridgeOffline, handler.Thing().Status().Detail)
	s.Require().NoError(s.bridge.Initialize(context.Background()))

	s.Eventually(func() bool {
		_, ok := handler.Thing().LastState("", ChannelInstallationName)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	presence := handler.Thing()
	s.Equal(thing.StatusOnline, presence.Status().Status)
	s.Equal(thing.StatusOnline, s.bridge.Thing().Status().Status)
	for channel, expected := range map[string]string{
		ChannelUserName:         "Owner",
		ChannelUserLocationName: "Home",
		ChannelWebAccount:       "owner@example.com",
		ChannelUserDeviceName:   "Phone",
		ChannelInstallationID:   "123456",
		ChannelInstallationName: "Sommarstuga",
	} {
		value, _ := presence.LastState("", channel)
		s.Equal(expected, value, channel)
	}
	value, ok := presence.LastState("", ChannelTimestamp)
	s.True(ok)
	s.NotEqual("UNDEF", value)

	s.fake.set(func(f *fakeVerisure) { f.location = "Work" })
	s.Require().NoError(handler.HandleCommand(context.Background(), presence.Channel("", ChannelUserLocationName), thing.Refresh))
	s.Eventually(func() bool {
		value, _ := presence.LastState("", ChannelUserLocationName)
		return value == "Work"
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *BridgeTest) TestMissingDeviceID() {
	handler := s.addPresence("")
	s.Equal(thing.Offline(thing.DetailConfigurationError, "Verisure device is missing deviceId"), handler.Thing().Status())
}

func (s *BridgeTest) TestUnknownCommand() {
	handler := s.addPresence("owner@example.com123456")
	s.Error(handler.HandleCommand(context.Background(), handler.Thing().Channel("", ChannelUserName), thing.On))
}

func (s *BridgeTest) TestMissingCredentials() {
	bridge := s.newBridge("")
	s.Require().NoError(bridge.Initialize(context.Background()))
	s.Equal(thing.DetailConfigurationError, bridge.Thing().Status().Detail)
}

func (s *BridgeTest) TestRejectedCredentials() {
	bridge := s.newBridge("wrong")
	defer bridge.Dispose()
	s.Require().NoError(bridge.Initialize(context.Background()))
	s.Eventually(func() bool {
		return bridge.Thing().Status().Detail == thing.DetailConfigurationError
	}, 2*time.Second, 10*time.Millisecond)
	s.False(bridge.Online())
}

func (s *BridgeTest) TestRejectedCredentialsNotRetried() {
	bridge := s.newBridge("wrong",
		poller.WithMaxRetries(3),
		poller.WithBackoff(poller.Backoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}))
	s.Require().ErrorIs(bridge.poller.RunOnce(context.Background()), ErrAuthentication)
	s.Equal(1, s.fake.loginAttempts())
	s.Equal(thing.DetailConfigurationError, bridge.Thing().Status().Detail)
}
