package verisure

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const DefaultBaseURL = "https://automation01.verisure.com"

var ErrAuthentication = errors.New("verisure authentication failed")

const (
	installationsQuery = `query fetchAllInstallations($email: String!){
  account(email: $email) { installations { giid alias } }
}`
	userTrackingsQuery = `query userTrackings($giid: String!) {
  installation(giid: $giid) {
    userTrackings { isCallingUser webAccount status xbnContactId currentLocationName deviceId name currentLocationTimestamp deviceName currentLocationId }
  }
}`
)

// DeviceStatusListener is told about presences appearing, changing and
// disappearing between refreshes.
type DeviceStatusListener interface {
	OnDeviceStateChanged(presence *UserPresence)
	OnDeviceAdded(presence *UserPresence)
	OnDeviceRemoved(presence *UserPresence)
}

// Session is a cookie based login to the Verisure API.
type Session struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	mux       sync.RWMutex
	loggedIn  bool
	devices   map[string]*UserPresence
	listeners []DeviceStatusListener
}

func NewSession(baseURL, username, password string, httpClient *http.Client, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.WithCookieJar(), httpclient.WithLogger(logger))
	}
	return &Session{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
		logger:     logger,
		devices:    make(map[string]*UserPresence),
	}
}

// Login authenticates with basic auth; the session cookie is kept in the
// client's cookie jar.
func (s *Session) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/login", nil)
	if err != nil {
		return errors.Wrap(err, "creating login request")
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "login request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(ErrAuthentication, "login returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Newf("login returned %d: %s", resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	s.mux.Lock()
	s.loggedIn = true
	s.mux.Unlock()
	s.logger.Debug("Logged in to Verisure")
	return nil
}

func (s *Session) graphQL(ctx context.Context, request graphQLRequest, out interface{}) error {
	body, err := json.Marshal([]graphQLRequest{request})
	if err != nil {
		return errors.Wrap(err, "encoding query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating query request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", request.OperationName)
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.mux.Lock()
		s.loggedIn = false
		s.mux.Unlock()
		return errors.Wrapf(ErrAuthentication, "%s returned %d", request.OperationName, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Newf("%s returned %d: %s", request.OperationName, resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	// The API answers a batch with an array of results.
	var batch []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return errors.Wrapf(err, "decoding %s response", request.OperationName)
	}
	if len(batch) == 0 {
		return errors.Newf("%s returned no result", request.OperationName)
	}
	return errors.Wrapf(json.Unmarshal(batch[0], out), "decoding %s result", request.OperationName)
}

// query runs a GraphQL request, logging in first if needed and once more if
// the session cookie was rejected.
func (s *Session) query(ctx context.Context, request graphQLRequest, out interface{}) error {
	s.mux.RLock()
	loggedIn := s.loggedIn
	s.mux.RUnlock()
	if !loggedIn {
		if err := s.Login(ctx); err != nil {
			return err
		}
	}
	err := s.graphQL(ctx, request, out)
	if errors.Is(err, ErrAuthentication) {
		if err := s.Login(ctx); err != nil {
			return err
		}
		return s.graphQL(ctx, request, out)
	}
	return err
}

func (s *Session) Installations(ctx context.Context) ([]Installation, error) {
	var out installationsResponse
	err := s.query(ctx, graphQLRequest{
		OperationName: "fetchAllInstallations",
		Variables:     map[string]interface{}{"email": s.username},
		Query:         installationsQuery,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, errors.Newf("fetchAllInstallations: %s", out.Errors[0].Message)
	}
	return out.Data.Account.Installations, nil
}

func (s *Session) UserTrackings(ctx context.Context, giid string) ([]UserTracking, error) {
	var out userTrackingsResponse
	err := s.query(ctx, graphQLRequest{
		OperationName: "userTrackings",
		Variables:     map[string]interface{}{"giid": giid},
		Query:         userTrackingsQuery,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, errors.Newf("userTrackings: %s", out.Errors[0].Message)
	}
	return out.Data.Installation.UserTrackings, nil
}

// Refresh reads the user presences of every installation and notifies the
// listeners about the differences to the previous refresh.
func (s *Session) Refresh(ctx context.Context) error {
	installations, err := s.Installations(ctx)
	if err != nil {
		return err
	}
	devices := make(map[string]*UserPresence)
	for _, installation := range installations {
		trackings, err := s.UserTrackings(ctx, installation.GIID)
		if err != nil {
			return err
		}
		siteID, _ := strconv.ParseInt(installation.GIID, 10, 64)
		for _, tracking := range trackings {
			presence := &UserPresence{SiteID: siteID, SiteName: installation.Alias, Tracking: tracking}
			devices[presence.DeviceID()] = presence
		}
	}

	s.mux.Lock()
	previous := s.devices
	s.devices = devices
	listeners := append([]DeviceStatusListener(nil), s.listeners...)
	s.mux.Unlock()

	for id, presence := range devices {
		old, known := previous[id]
		if !known {
			s.logger.Debug("Verisure device added", zap.String("deviceId", id))
			for _, listener := range listeners {
				listener.OnDeviceAdded(presence)
			}
		}
		if !known || !reflect.DeepEqual(old, presence) {
			for _, listener := range listeners {
				listener.OnDeviceStateChanged(presence)
			}
		}
	}
	for id, presence := range previous {
		if _, ok := devices[id]; !ok {
			s.logger.Debug("Verisure device removed", zap.String("deviceId", id))
			for _, listener := range listeners {
				listener.OnDeviceRemoved(presence)
			}
		}
	}
	return nil
}

// Device looks up a presence by id; ids are normalised before comparing.
func (s *Session) Device(id string) (*UserPresence, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	presence, ok := s.devices[NormalizeDeviceID(id)]
	return presence, ok
}

func (s *Session) DeviceIDs() []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) RegisterDeviceStatusListener(listener DeviceStatusListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, existing := range s.listeners {
		if existing == listener {
			return
		}
	}
	s.listeners = append(s.listeners, listener)
}

func (s *Session) UnregisterDeviceStatusListener(listener DeviceStatusListener) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for i, existing := range s.listeners {
		if existing == listener {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
