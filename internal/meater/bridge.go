package meater

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	BindingID              = "meater"
	DefaultRefreshInterval = 30 * time.Second
)

type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Client      Client
	Logger      *zap.Logger
	PollOptions []poller.Option
}

// Bridge polls the MEATER cloud for all probes of one account.
type Bridge struct {
	thing  *thing.Thing
	config models.MeaterConfiguration
	client Client
	poller *poller.Poller
	logger *zap.Logger

	mux      sync.RWMutex
	devices  map[string]Device
	handlers []*ProbeHandler
}

func NewBridge(t *thing.Thing, config models.MeaterConfiguration, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("thing", t.UID.String()))
	client := opts.Client
	if client == nil {
		client = NewClient(opts.BaseURL, config.Email, config.Password, opts.HTTPClient, logger)
	}
	b := &Bridge{
		thing:   t,
		config:  config,
		client:  client,
		logger:  logger,
		devices: make(map[string]Device),
	}
	pollOpts := append([]poller.Option{poller.WithLogger(logger)}, opts.PollOptions...)
	b.poller = poller.New(t.UID.String(), config.RefreshInterval.OrDefault(DefaultRefreshInterval), b.refresh, pollOpts...)
	b.poller.OnStatus(b.pollStatus)
	return b
}

func (b *Bridge) Thing() *thing.Thing {
	return b.thing
}

func (b *Bridge) Initialize(ctx context.Context) error {
	if b.config.Email == "" || b.config.Password == "" {
		b.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Configuration of email and password are mandatory"))
		return nil
	}
	b.thing.UpdateStatus(thing.Unknown())
	b.poller.Start(ctx)
	return nil
}

func (b *Bridge) refresh(ctx context.Context) error {
	devices, err := b.client.Devices(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return poller.Permanent(err)
		}
		return err
	}
	snapshot := make(map[string]Device, len(devices))
	for _, device := range devices {
		snapshot[device.ID] = device
	}
	b.mux.Lock()
	b.devices = snapshot
	b.mux.Unlock()
	for _, handler := range b.children() {
		handler.update()
	}
	return nil
}

func (b *Bridge) pollStatus(online bool, err error) {
	if online {
		b.thing.UpdateStatus(thing.Online())
		return
	}
	detail := thing.DetailCommunicationError
	if errors.Is(err, ErrAuthentication) {
		detail = thing.DetailConfigurationError
	}
	description := ""
	if err != nil {
		description = err.Error()
	}
	b.thing.UpdateStatus(thing.Offline(detail, description))
	for _, handler := range b.children() {
		handler.thing.UpdateStatus(thing.Offline(thing.DetailBridgeOffline, ""))
	}
}

// Device returns the last polled state of the probe with id.
func (b *Bridge) Device(id string) (Device, bool) {
	b.mux.RLock()
	defer b.mux.RUnlock()
	device, ok := b.devices[id]
	return device, ok
}

// DeviceIDs lists the probes seen in the last poll.
func (b *Bridge) DeviceIDs() []string {
	b.mux.RLock()
	defer b.mux.RUnlock()
	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Bridge) AddProbe(t *thing.Thing, config models.MeaterProbeConfiguration) *ProbeHandler {
	handler := &ProbeHandler{
		thing:    t,
		deviceID: config.DeviceID,
		bridge:   b,
		logger:   b.logger.With(zap.String("probe", config.DeviceID)),
		now:      time.Now,
	}
	t.BridgeUID = b.thing.UID
	b.mux.Lock()
	b.handlers = append(b.handlers, handler)
	b.mux.Unlock()
	return handler
}

func (b *Bridge) children() []*ProbeHandler {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return append([]*ProbeHandler(nil), b.handlers...)
}

func (b *Bridge) Children() []thing.Handler {
	children := b.children()
	handlers := make([]thing.Handler, 0, len(children))
	for _, child := range children {
		handlers = append(handlers, child)
	}
	return handlers
}

func (b *Bridge) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	if command == thing.Refresh {
		b.poller.Trigger()
		return nil
	}
	return errors.Newf("unsupported command %s for %s", command, channel)
}

func (b *Bridge) Dispose() {
	b.poller.Stop()
}
