package luftdaten

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	BindingID              = "luftdateninfo"
	DefaultRefreshInterval = 5 * time.Minute
)

type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	PollOptions []poller.Option
}

// SensorHandler polls one sensor.community sensor and publishes its values.
type SensorHandler struct {
	thing  *thing.Thing
	config models.LuftdatenConfiguration
	api    *API
	poller *poller.Poller
	logger *zap.Logger

	mux    sync.Mutex
	sensor Sensor
	status UpdateStatus
}

func NewSensorHandler(t *thing.Thing, config models.LuftdatenConfiguration, opts Options) *SensorHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("thing", t.UID.String()), zap.String("sensorId", config.SensorID))
	h := &SensorHandler{
		thing:  t,
		config: config,
		api:    NewAPI(opts.BaseURL, opts.HTTPClient, logger),
		logger: logger,
		sensor: NewSensor(config.Type),
		status: StatusOK,
	}
	pollOpts := append([]poller.Option{poller.WithLogger(logger), poller.WithMaxRetries(1)}, opts.PollOptions...)
	h.poller = poller.New(t.UID.String(), config.Refresh.OrDefault(DefaultRefreshInterval), h.refresh, pollOpts...)
	return h
}

func (h *SensorHandler) Thing() *thing.Thing {
	return h.thing
}

func (h *SensorHandler) Initialize(ctx context.Context) error {
	if _, err := strconv.Atoi(h.config.SensorID); err != nil || h.config.SensorID == "" {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Sensor ID must be a number"))
		return nil
	}
	if h.sensor == nil {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Unknown sensor type "+strconv.Quote(h.config.Type)))
		return nil
	}
	h.thing.UpdateStatus(thing.Unknown())
	h.poller.Start(ctx)
	return nil
}

// HandleCommand answers Refresh from the last published values.
func (h *SensorHandler) HandleCommand(_ context.Context, channel thing.ChannelUID, command thing.Command) error {
	if command != thing.Refresh {
		return errors.Newf("unsupported command %s for %s", command, channel)
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.sensor != nil {
		h.sensor.UpdateFromCache(h.thing)
	}
	return nil
}

func (h *SensorHandler) Dispose() {
	h.poller.Stop()
}

// LastStatus is the outcome of the most recent poll.
func (h *SensorHandler) LastStatus() UpdateStatus {
	h.mux.Lock()
	defer h.mux.Unlock()
	return h.status
}

func (h *SensorHandler) refresh(ctx context.Context) error {
	body, err := h.api.Sensor(ctx, h.config.SensorID)
	h.mux.Lock()
	defer h.mux.Unlock()
	if err != nil {
		h.status = StatusConnectionError
		h.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, err.Error()))
		return err
	}
	h.status = h.sensor.UpdateChannels(h.thing, LatestValues(body))
	h.logger.Debug("Sensor updated", zap.Stringer("status", h.status))
	switch h.status {
	case StatusOK:
		h.thing.UpdateStatus(thing.Online())
	case StatusValueError:
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Sensor does not deliver values of type "+h.config.Type))
	case StatusValueEmpty:
		h.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, "No values delivered by sensor"))
	}
	return nil
}
