package openHab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
)

const (
	itemEndpoint   = "rest/items"
	requestTimeout = 10 * time.Second
)

// ErrItemNotFound is returned when openHAB has no item with the requested name.
var ErrItemNotFound = errors.New("item not found")

type Client interface {
	GetItem(ctx context.Context, name string) (EnrichedItemDTO, error)
	UpdateItemState(ctx context.Context, name, state string) error
}

type client struct {
	openHabHost string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewClient(host string, httpClient *http.Client, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.WithTimeout(requestTimeout), httpclient.WithLogger(logger))
	}
	return &client{
		openHabHost: strings.TrimSuffix(host, "/"),
		httpClient:  httpClient,
		logger:      logger,
	}
}

func (c *client) GetItem(ctx context.Context, name string) (EnrichedItemDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s", c.openHabHost, itemEndpoint, name), nil)
	if err != nil {
		return EnrichedItemDTO{}, errors.Wrap(err, "creating item request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Error making request for item from OpenHAB", zap.String("item", name), zap.Error(err))
		return EnrichedItemDTO{}, errors.Wrap(err, "item request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return EnrichedItemDTO{}, errors.Wrapf(ErrItemNotFound, "item %s", name)
	default:
		return EnrichedItemDTO{}, errors.Newf("invalid response from OpenHAB. Got %v expecting 200", resp.StatusCode)
	}
	var item EnrichedItemDTO
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return EnrichedItemDTO{}, errors.Wrap(err, "unable to decode item from OpenHAB")
	}
	return item, nil
}

// UpdateItemState sets the state of an item without sending a command to
// its linked channels.
func (c *client) UpdateItemState(ctx context.Context, name, state string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/%s/%s/state", c.openHabHost, itemEndpoint, name), strings.NewReader(state))
	if err != nil {
		return errors.Wrap(err, "creating item state request")
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "item state request failed")
	}
	defer httpclient.DrainAndClose(resp.Body, 1024)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return errors.Wrapf(ErrItemNotFound, "item %s", name)
	}
	return errors.Newf("invalid response from OpenHAB for item %s. Got %v", name, resp.StatusCode)
}
