package verisure

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	BindingID              = "verisure"
	DefaultRefreshInterval = 10 * time.Minute
)

type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	PollOptions []poller.Option
}

// Bridge keeps the Verisure session of one account and refreshes it periodically.
type Bridge struct {
	thing   *thing.Thing
	config  models.VerisureConfiguration
	session *Session
	poller  *poller.Poller
	logger  *zap.Logger

	mux      sync.RWMutex
	online   bool
	handlers []*UserPresenceHandler
}

func NewBridge(t *thing.Thing, config models.VerisureConfiguration, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("thing", t.UID.String()))
	b := &Bridge{
		thing:   t,
		config:  config,
		session: NewSession(opts.BaseURL, config.Username, config.Password, opts.HTTPClient, logger),
		logger:  logger,
	}
	pollOpts := append([]poller.Option{poller.WithLogger(logger)}, opts.PollOptions...)
	b.poller = poller.New(t.UID.String(), config.RefreshInterval.OrDefault(DefaultRefreshInterval), b.refresh, pollOpts...)
	b.poller.OnStatus(b.pollStatus)
	return b
}

func (b *Bridge) Thing() *thing.Thing {
	return b.thing
}

func (b *Bridge) Session() *Session {
	return b.session
}

func (b *Bridge) Initialize(ctx context.Context) error {
	if b.config.Username == "" || b.config.Password == "" {
		b.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Configuration of username and password are mandatory"))
		return nil
	}
	b.thing.UpdateStatus(thing.Unknown())
	b.poller.Start(ctx)
	return nil
}

// refresh gives up on rejected credentials instead of retrying the login.
func (b *Bridge) refresh(ctx context.Context) error {
	err := b.session.Refresh(ctx)
	if errors.Is(err, ErrAuthentication) {
		return poller.Permanent(err)
	}
	return err
}

func (b *Bridge) pollStatus(online bool, err error) {
	b.mux.Lock()
	b.online = online
	b.mux.Unlock()
	if online {
		b.thing.UpdateStatus(thing.Online())
	} else {
		detail := thing.DetailCommunicationError
		if errors.Is(err, ErrAuthentication) {
			detail = thing.DetailConfigurationError
		}
		description := ""
		if err != nil {
			description = err.Error()
		}
		b.thing.UpdateStatus(thing.Offline(detail, description))
	}
	for _, handler := range b.children() {
		handler.bridgeStatusChanged(online)
	}
}

// Online reports whether the last refresh succeeded.
func (b *Bridge) Online() bool {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return b.online
}

// Refresh asks for an immediate refresh of the session.
func (b *Bridge) Refresh() {
	b.poller.Trigger()
}

func (b *Bridge) AddUserPresence(t *thing.Thing, config models.VerisureThingConfiguration) *UserPresenceHandler {
	handler := &UserPresenceHandler{
		thing:    t,
		deviceID: config.DeviceID,
		bridge:   b,
		logger:   b.logger.With(zap.String("deviceId", config.DeviceID)),
	}
	t.BridgeUID = b.thing.UID
	b.mux.Lock()
	b.handlers = append(b.handlers, handler)
	b.mux.Unlock()
	return handler
}

func (b *Bridge) children() []*UserPresenceHandler {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return append([]*UserPresenceHandler(nil), b.handlers...)
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
		b.Refresh()
		return nil
	}
	return errors.Newf("unsupported command %s for %s", command, channel)
}

func (b *Bridge) Dispose() {
	b.poller.Stop()
}
