package meater

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const DefaultBaseURL = "https://public-api.cloud.meater.com"

var (
	ErrAuthentication = errors.New("meater authentication failed")
	ErrRateLimited    = errors.New("meater rate limit exceeded")
)

type Client interface {
	Login(ctx context.Context) error
	Devices(ctx context.Context) ([]Device, error)
}

type client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	mux   sync.Mutex
	token string
}

func NewClient(baseURL, email, password string, httpClient *http.Client, logger *zap.Logger) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.WithLogger(logger))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		email:      email,
		password:   password,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *client) Login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return errors.Wrap(err, "encoding login")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/login", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating login request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "login request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(statusError(resp.StatusCode), "login returned %d: %s",
			resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return errors.Wrap(err, "decoding login response")
	}
	if out.Data.Token == "" {
		return errors.Wrap(ErrAuthentication, "login returned no token")
	}
	c.mux.Lock()
	c.token = out.Data.Token
	c.mux.Unlock()
	c.logger.Debug("Logged in to MEATER cloud", zap.String("userId", out.Data.UserID))
	return nil
}

// Devices lists the probes of the account. A rejected token causes one new
// login before giving up.
func (c *client) Devices(ctx context.Context) ([]Device, error) {
	c.mux.Lock()
	token := c.token
	c.mux.Unlock()
	if token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	devices, err := c.devices(ctx)
	if errors.Is(err, ErrAuthentication) {
		c.logger.Debug("MEATER token rejected, logging in again")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		return c.devices(ctx)
	}
	return devices, err
}

func (c *client) devices(ctx context.Context) ([]Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/devices", nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating devices request")
	}
	c.mux.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mux.Unlock()
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "devices request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			c.mux.Lock()
			c.token = ""
			c.mux.Unlock()
		}
		return nil, errors.Wrapf(statusError(resp.StatusCode), "devices returned %d: %s",
			resp.StatusCode, httpclient.ReadErrorBody(resp.Body, 512))
	}
	var out devicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decoding devices response")
	}
	return out.Data.Devices, nil
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return errors.Newf("unexpected status %d", status)
}
