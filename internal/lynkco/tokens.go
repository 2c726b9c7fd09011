package lynkco

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

// Property keys under which tokens survive restarts.
const (
	PropertyCCCToken     = "cccToken"
	PropertyAccessToken  = "accessToken"
	PropertyRefreshToken = "refreshToken"
	PropertyUserID       = "userId"
	PropertyCodeVerifier = "codeVerifier"
	PropertyClientID     = "clientId"
	PropertyRedirectUsed = "redirectUsed"
)

// expirySkew treats a CCC token as expired shortly before its exp claim.
const expirySkew = 60 * time.Second

// TokenManager owns the CCC token used against the vehicle APIs. All token
// state is guarded by one mutex so only one refresh runs at a time.
type TokenManager struct {
	mux        sync.Mutex
	properties thing.PropertyStore
	httpClient *http.Client
	endpoints  Endpoints
	logger     *zap.Logger
	now        func() time.Time

	cccToken string
	expiry   time.Time
	userID   string
}

func NewTokenManager(properties thing.PropertyStore, httpClient *http.Client, endpoints Endpoints, logger *zap.Logger) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &TokenManager{
		properties: properties,
		httpClient: httpClient,
		endpoints:  endpoints,
		logger:     logger,
		now:        time.Now,
	}
	m.load()
	return m
}

func (m *TokenManager) load() {
	m.cccToken, _ = m.properties.Get(PropertyCCCToken)
	m.userID, _ = m.properties.Get(PropertyUserID)
	m.expiry = time.Time{}
	if m.cccToken == "" {
		return
	}
	expiry, err := tokenExpiry(m.cccToken)
	if err != nil {
		m.logger.Debug("Could not decode cached token expiration", zap.Error(err))
		return
	}
	m.expiry = expiry
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is only ever sent back to the issuer.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "parsing ccc token")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading exp claim")
	}
	if exp == nil {
		return time.Time{}, errors.New("ccc token has no exp claim")
	}
	return exp.Time, nil
}

func (m *TokenManager) expired() bool {
	if m.cccToken == "" || m.expiry.IsZero() {
		return true
	}
	return !m.now().Add(expirySkew).Before(m.expiry)
}

// HasRefreshToken reports whether a refresh can be attempted without a login.
func (m *TokenManager) HasRefreshToken() bool {
	token, ok := m.properties.Get(PropertyRefreshToken)
	return ok && token != ""
}

// CCCToken returns a valid CCC token, refreshing it when it is missing or
// about to expire.
func (m *TokenManager) CCCToken(ctx context.Context) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.expired() {
		return m.cccToken, nil
	}
	return m.refresh(ctx)
}

// Refresh forces a refresh regardless of the cached expiry.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.refresh(ctx)
}

// Invalidate drops the cached CCC token so the next call refreshes it.
func (m *TokenManager) Invalidate() {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.expiry = time.Time{}
}

// UpdateTokens stores freshly obtained OAuth tokens and trades the access
// token for a CCC token.
func (m *TokenManager) UpdateTokens(ctx context.Context, token *oauth2.Token, clientID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if token == nil || token.AccessToken == "" {
		return newError(AuthenticationFailed, nil, "no access token received")
	}
	if err := m.store(PropertyAccessToken, token.AccessToken); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		if err := m.store(PropertyRefreshToken, token.RefreshToken); err != nil {
			return err
		}
	}
	if clientID != "" {
		if err := m.store(PropertyClientID, clientID); err != nil {
			return err
		}
	}
	ccc, err := m.deviceLogin(ctx, token.AccessToken)
	if err != nil {
		m.clear()
		return newError(AuthenticationFailed, err, "failed to obtain CCC token after updating tokens")
	}
	if err := m.store(PropertyCCCToken, ccc); err != nil {
		return err
	}
	m.load()
	return nil
}

// refresh must be called with the lock held.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	refreshToken, _ := m.properties.Get(PropertyRefreshToken)
	if refreshToken == "" {
		m.logger.Warn("Refresh token is missing, re-authenticate")
		return "", newError(AuthenticationRequired, nil, "token has expired, please re-authenticate")
	}
	ccc, err := m.refreshWith(ctx, refreshToken)
	if err != nil {
		m.clear()
		return "", err
	}
	return ccc, nil
}

func (m *TokenManager) refreshWith(ctx context.Context, refreshToken string) (string, error) {
	clientID, _ := m.properties.Get(PropertyClientID)
	if clientID == "" {
		clientID = ClientID
	}
	config := m.endpoints.oauthConfig(clientID, redirectFor(clientID))
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusBadRequest || retrieveErr.Response.StatusCode == http.StatusUnauthorized) {
			return "", newError(RefreshTokenExpired, err, "refresh token rejected, please re-authenticate")
		}
		return "", newError(NetworkError, err, "error refreshing tokens")
	}
	// The token source keeps the old refresh token when the response has none.
	if err := m.store(PropertyRefreshToken, token.RefreshToken); err != nil {
		return "", err
	}
	if err := m.store(PropertyAccessToken, token.AccessToken); err != nil {
		return "", err
	}
	ccc, err := m.deviceLogin(ctx, token.AccessToken)
	if err != nil {
		return "", err
	}
	if err := m.store(PropertyCCCToken, ccc); err != nil {
		return "", err
	}
	m.load()
	m.logger.Debug("Refreshed CCC token", zap.Time("expires", m.expiry))
	return ccc, nil
}

type deviceLoginRequest struct {
	DeviceUUID string `json:"deviceUuid"`
	IsLogin    bool   `json:"isLogin"`
}

type deviceLoginResponse struct {
	CCCToken string `json:"cccToken"`
}

func (m *TokenManager) deviceLogin(ctx context.Context, accessToken string) (string, error) {
	body, err := json.Marshal(deviceLoginRequest{DeviceUUID: uuid.NewString(), IsLogin: true})
	if err != nil {
		return "", newError(UnknownError, err, "encoding device login")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.DeviceLogin, bytes.NewReader(body))
	if err != nil {
		return "", newError(UnknownError, err, "creating device login request")
	}
	req.Header.Set("User-Agent", appUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", accessToken)
	req.Header.Set("api-version", "1")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", newError(NetworkError, err, "error in device login")
	}
	if resp.StatusCode != http.StatusOK {
		body := httpclient.ReadErrorBody(resp.Body, 512)
		m.logger.Error("Failed to send device login", zap.Int("status", resp.StatusCode), zap.String("response", body))
		return "", &APIError{Type: AuthenticationFailed, Message: "device login rejected", Status: resp.StatusCode}
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	var out deviceLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", newError(APIErrorType, err, "decoding device login response")
	}
	if out.CCCToken == "" {
		return "", newError(AuthenticationFailed, nil, "device login returned no CCC token")
	}
	return out.CCCToken, nil
}

type driversResponse struct {
	Drivers []struct {
		UserID string `json:"userId"`
	} `json:"drivers"`
}

// UserID returns the id of the first driver of vin, cached in the properties.
func (m *TokenManager) UserID(ctx context.Context, ccc, vin string) (string, error) {
	m.mux.Lock()
	cached := m.userID
	m.mux.Unlock()
	if cached != "" {
		return cached, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.drivers(vin), nil)
	if err != nil {
		return "", newError(UnknownError, err, "creating drivers request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ccc)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", newError(NetworkError, err, "error getting user ID")
	}
	if resp.StatusCode != http.StatusOK {
		body := httpclient.ReadErrorBody(resp.Body, 512)
		return "", &APIError{Type: APIErrorType, Message: "failed to get user id: " + body, Status: resp.StatusCode}
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	var out driversResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", newError(APIErrorType, err, "decoding drivers response")
	}
	if len(out.Drivers) == 0 || out.Drivers[0].UserID == "" {
		return "", newError(APIErrorType, nil, "no drivers found for %s", vin)
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if err := m.store(PropertyUserID, out.Drivers[0].UserID); err != nil {
		return "", err
	}
	m.userID = out.Drivers[0].UserID
	return m.userID, nil
}

// SignOut forgets every token including the user id.
func (m *TokenManager) SignOut() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.clear()
	m.userID = ""
	return m.properties.Delete(PropertyUserID, PropertyClientID)
}

func (m *TokenManager) store(key, value string) error {
	if err := m.properties.Set(key, value); err != nil {
		return newError(UnknownError, err, "storing %s", key)
	}
	return nil
}

// clear drops the tokens but keeps the user id, which does not change
// between logins.
func (m *TokenManager) clear() {
	if err := m.properties.Delete(PropertyCCCToken, PropertyAccessToken, PropertyRefreshToken); err != nil {
		m.logger.Warn("Failed to clear tokens", zap.Error(err))
	}
	m.cccToken = ""
	m.expiry = time.Time{}
}
