package lynkco

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const maxRetries = 3

// API reads vehicle data and sends remote commands using the CCC token.
type API struct {
	tokens     *TokenManager
	httpClient *http.Client
	endpoints  Endpoints
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewAPI(tokens *TokenManager, httpClient *http.Client, endpoints Endpoints, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		tokens:     tokens,
		httpClient: httpClient,
		endpoints:  endpoints,
		logger:     logger,
		retryDelay: time.Second,
	}
}

func (a *API) VehicleRecord(ctx context.Context, vin string) (Record, error) {
	var record Record
	ccc, err := a.tokens.CCCToken(ctx)
	if err != nil {
		return record, err
	}
	userID, err := a.tokens.UserID(ctx, ccc, vin)
	if err != nil {
		return record, err
	}
	err = a.do(ctx, http.MethodGet, func() string { return a.endpoints.record(vin, userID) }, nil, &record)
	return record, err
}

func (a *API) VehicleShadow(ctx context.Context, vin string) (Shadow, error) {
	var shadow Shadow
	err := a.do(ctx, http.MethodGet, func() string { return a.endpoints.shadow(vin) }, nil, &shadow)
	return shadow, err
}

// Vehicle polls both the record and the shadow of vin.
func (a *API) Vehicle(ctx context.Context, vin string) (*Vehicle, error) {
	record, err := a.VehicleRecord(ctx, vin)
	if err != nil {
		return nil, errors.Wrapf(err, "reading record of %s", vin)
	}
	shadow, err := a.VehicleShadow(ctx, vin)
	if err != nil {
		return nil, errors.Wrapf(err, "reading shadow of %s", vin)
	}
	return &Vehicle{VIN: vin, Record: record, Shadow: shadow, UpdatedAt: time.Now()}, nil
}

type serviceParameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type remoteCommand struct {
	Command           string             `json:"command"`
	ServiceID         string             `json:"serviceId"`
	ServiceParameters []serviceParameter `json:"serviceParameters,omitempty"`
}

// Remote service ids understood by the telematics endpoint.
const (
	serviceClimate = "ZAF"
	serviceEngine  = "RES"
	serviceLock    = "RDL"
	serviceUnlock  = "RDU"
	serviceHonk    = "RHL"
)

func startStop(start bool) string {
	if start {
		return "start"
	}
	return "stop"
}

// Climate starts or stops pre-climatisation. level and minutes are ignored when stopping.
func (a *API) Climate(ctx context.Context, vin string, start bool, level, minutes int) error {
	command := remoteCommand{Command: startStop(start), ServiceID: serviceClimate}
	if start {
		command.ServiceParameters = []serviceParameter{
			{Key: "ZAF", Value: "1"},
			{Key: "climate_level", Value: strconv.Itoa(level)},
			{Key: "duration", Value: strconv.Itoa(minutes)},
		}
	}
	return a.send(ctx, vin, command)
}

// Engine starts or stops the engine remotely.
func (a *API) Engine(ctx context.Context, vin string, start bool, minutes int) error {
	command := remoteCommand{Command: startStop(start), ServiceID: serviceEngine}
	if start {
		command.ServiceParameters = []serviceParameter{
			{Key: "RES", Value: "1"},
			{Key: "duration", Value: strconv.Itoa(minutes)},
		}
	}
	return a.send(ctx, vin, command)
}

func (a *API) Doors(ctx context.Context, vin string, lock bool) error {
	command := remoteCommand{Command: "start", ServiceID: serviceUnlock}
	if lock {
		command.ServiceID = serviceLock
	}
	return a.send(ctx, vin, command)
}

// HonkFlash sounds the horn, flashes the lights or both.
func (a *API) HonkFlash(ctx context.Context, vin string, honk, flash bool) error {
	if !honk && !flash {
		return nil
	}
	mode := "horn-light"
	switch {
	case honk && !flash:
		mode = "horn"
	case flash && !honk:
		mode = "light-flash"
	}
	return a.send(ctx, vin, remoteCommand{
		Command:           "start",
		ServiceID:         serviceHonk,
		ServiceParameters: []serviceParameter{{Key: "rhl", Value: mode}},
	})
}

func (a *API) send(ctx context.Context, vin string, command remoteCommand) error {
	body, err := json.Marshal(command)
	if err != nil {
		return newError(UnknownError, err, "encoding command")
	}
	a.logger.Debug("Sending remote command", zap.String("vin", vin), zap.String("service", command.ServiceID),
		zap.String("command", command.Command))
	return a.do(ctx, http.MethodPost, func() string { return a.endpoints.remoteControl(vin) }, body, nil)
}

// do performs an authenticated request with up to maxRetries attempts. A 401
// invalidates the CCC token so the next attempt runs with a refreshed one.
func (a *API) do(ctx context.Context, method string, target func() string, body []byte, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(a.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		ccc, err := a.tokens.CCCToken(ctx)
		if err != nil {
			return err
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target(), reader)
		if err != nil {
			return newError(UnknownError, err, "creating request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+ccc)
		resp, err := a.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = newError(NetworkError, err, "request to %s failed", req.URL.Host)
			a.logger.Debug("Request failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			httpclient.DrainAndClose(resp.Body, 1024)
			a.logger.Debug("Token rejected, refreshing", zap.Int("attempt", attempt))
			a.tokens.Invalidate()
			lastErr = &APIError{Type: TokenExpired, Message: "token rejected", Status: resp.StatusCode}
			continue
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			message := httpclient.ReadErrorBody(resp.Body, 512)
			a.logger.Debug("Request failed", zap.Int("status", resp.StatusCode), zap.String("response", message))
			lastErr = &APIError{Type: APIErrorType, Message: message, Status: resp.StatusCode}
			continue
		}
		if out == nil {
			httpclient.DrainAndClose(resp.Body, 1024)
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		httpclient.DrainAndClose(resp.Body, 1024)
		if err != nil {
			return newError(APIErrorType, err, "decoding response")
		}
		return nil
	}
	return lastErr
}
