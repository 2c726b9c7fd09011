package sltraffic

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	BindingID        = "sltrafficinformation"
	ChannelDeviation = "deviations"
	requestTimeout   = 20 * time.Second
)

type Options struct {
	URL         string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	PollOptions []poller.Option
}

// DeviationHandler publishes the current traffic deviations for a set of lines.
type DeviationHandler struct {
	thing      *thing.Thing
	config     models.SLTrafficConfiguration
	url        string
	httpClient *http.Client
	poller     *poller.Poller
	logger     *zap.Logger
}

func NewDeviationHandler(t *thing.Thing, config models.SLTrafficConfiguration, opts Options) *DeviationHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("thing", t.UID.String()))
	if opts.URL == "" {
		opts.URL = DefaultDeviationsURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.New(httpclient.WithTimeout(requestTimeout), httpclient.WithLogger(logger))
	}
	h := &DeviationHandler{
		thing:      t,
		config:     config,
		url:        opts.URL,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
	interval := time.Duration(config.Refresh) * time.Minute
	pollOpts := append([]poller.Option{poller.WithLogger(logger)}, opts.PollOptions...)
	h.poller = poller.New(t.UID.String(), interval, h.refresh, pollOpts...)
	return h
}

func (h *DeviationHandler) Thing() *thing.Thing {
	return h.thing
}

// Initialize brings the thing online and, unless refresh is 0, starts the
// automatic refresh.
func (h *DeviationHandler) Initialize(ctx context.Context) error {
	if h.config.APIKeyDeviation == "" {
		h.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "apiKeyDeviation is mandatory"))
		return nil
	}
	h.thing.UpdateStatus(thing.Online())
	if h.config.Refresh > 0 {
		h.poller.Start(ctx)
	}
	return nil
}

func (h *DeviationHandler) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	h.logger.Debug("Handle command", zap.String("command", command.String()), zap.String("channel", channel.String()))
	if command != thing.Refresh {
		return errors.Newf("unsupported command %s for %s", command, channel)
	}
	if h.config.Refresh > 0 {
		h.poller.Trigger()
		return nil
	}
	return h.poller.RunOnce(ctx)
}

func (h *DeviationHandler) Dispose() {
	h.logger.Debug("Handler is disposed")
	h.poller.Stop()
}

// refresh fetches the deviations. A response carrying a message leaves the
// channel untouched; request failures are logged and retried on the next run.
func (h *DeviationHandler) refresh(ctx context.Context) error {
	deviations, err := fetchDeviations(ctx, h.httpClient, h.url, h.config.APIKeyDeviation, h.config.LineNumbers)
	if err != nil {
		h.logger.Warn("API request failed", zap.Error(err))
		return err
	}
	if deviations.HasMessage() {
		h.logger.Warn("Update deviation status failed", zap.ByteString("message", deviations.Message))
		return nil
	}
	h.thing.UpdateState("", ChannelDeviation, thing.StringType(deviations.Text()))
	return nil
}
