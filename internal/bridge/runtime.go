package bridge

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jgulick48/hab-cloud-bridge/internal/luftdaten"
	"github.com/jgulick48/hab-cloud-bridge/internal/lynkco"
	"github.com/jgulick48/hab-cloud-bridge/internal/meater"
	"github.com/jgulick48/hab-cloud-bridge/internal/metrics"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/mqtt"
	"github.com/jgulick48/hab-cloud-bridge/internal/openHab"
	"github.com/jgulick48/hab-cloud-bridge/internal/sltraffic"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
	"github.com/jgulick48/hab-cloud-bridge/internal/verisure"
)

const (
	accountID       = "account"
	shutdownTimeout = 5 * time.Second
)

// Options override how the runtime reaches the outside world.
type Options struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	MFA        lynkco.MFAProvider
	// Callbacks receive every update in addition to the configured sinks.
	Callbacks []thing.Callback
	// Properties replaces the configured property store backend.
	Properties func(uid thing.UID) (thing.PropertyStore, error)
	// MQTT replaces the client built from the mqtt configuration.
	MQTT mqtt.Client

	LynkcoEndpoints  lynkco.Endpoints
	MeaterBaseURL    string
	VerisureBaseURL  string
	SLTrafficURL     string
	LuftdatenBaseURL string
}

// Runtime owns every configured handler and the sinks their updates go to.
type Runtime struct {
	config   models.Config
	logger   *zap.Logger
	callback thing.Fanout
	handlers []thing.Handler

	lynkco *lynkco.Bridge
	sink   *openHab.Sink
	mqtt   mqtt.Client
}

func New(config models.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Properties == nil {
		opts.Properties = func(uid thing.UID) (thing.PropertyStore, error) {
			return thing.NewPropertyStore(config.PropertyStore, uid, logger)
		}
	}
	r := &Runtime{config: config, logger: logger}
	r.callback = append(thing.Fanout{thing.NewLogCallback(logger), metrics.StatsCallback{}}, opts.Callbacks...)
	if config.OpenHabServer != "" {
		r.sink = openHab.NewSink(openHab.NewClient(config.OpenHabServer, nil, logger.Named("openhab")), logger.Named("openhab"))
		r.callback = append(r.callback, r.sink)
	}
	r.mqtt = opts.MQTT
	if r.mqtt == nil && config.MQTT.IsEnabled() {
		r.mqtt = mqtt.NewClient(config.MQTT, logger.Named("mqtt"))
	}
	if r.mqtt != nil {
		r.callback = append(r.callback, r.mqtt)
	}
	if err := r.build(opts); err != nil {
		return nil, err
	}
	if r.mqtt != nil {
		uids := make([]thing.UID, 0, len(r.Things()))
		for _, t := range r.Things() {
			uids = append(uids, t.UID)
		}
		r.mqtt.HandleCommands(uids, r.HandleCommand)
	}
	return r, nil
}

func (r *Runtime) newThing(uid thing.UID, label string, properties thing.PropertyStore) *thing.Thing {
	if label == "" {
		label = uid.ID()
	}
	return thing.New(uid, label, properties, r.callback)
}

func (r *Runtime) build(opts Options) error {
	if c := r.config.Lynkco; c != nil {
		uid := thing.NewUID(lynkco.BindingID, "api", accountID)
		properties, err := opts.Properties(uid)
		if err != nil {
			return errors.Wrap(err, "opening Lynk&Co property store")
		}
		r.lynkco = lynkco.NewBridge(r.newThing(uid, "Lynk & Co", properties), *c, lynkco.Options{
			Endpoints:  opts.LynkcoEndpoints,
			HTTPClient: opts.HTTPClient,
			MFA:        opts.MFA,
			Logger:     r.logger,
		})
		for _, vehicle := range c.Vehicles {
			r.lynkco.AddVehicle(r.newThing(thing.NewUID(lynkco.BindingID, "vehicle", accountID, vehicle.VIN), vehicle.Label, nil), vehicle)
		}
		r.handlers = append(r.handlers, r.lynkco)
	}
	if c := r.config.Meater; c != nil {
		b := meater.NewBridge(r.newThing(thing.NewUID(meater.BindingID, "meaterapi", accountID), "MEATER", nil), *c, meater.Options{
			BaseURL:    opts.MeaterBaseURL,
			HTTPClient: opts.HTTPClient,
			Logger:     r.logger,
		})
		for _, probe := range c.Probes {
			b.AddProbe(r.newThing(thing.NewUID(meater.BindingID, "meaterprobe", accountID, probe.DeviceID), probe.Label, nil), probe)
		}
		r.handlers = append(r.handlers, b)
	}
	if c := r.config.Verisure; c != nil {
		b := verisure.NewBridge(r.newThing(thing.NewUID(verisure.BindingID, "bridge", accountID), "Verisure", nil), *c, verisure.Options{
			BaseURL:    opts.VerisureBaseURL,
			HTTPClient: opts.HTTPClient,
			Logger:     r.logger,
		})
		for _, presence := range c.Things {
			b.AddUserPresence(r.newThing(thing.NewUID(verisure.BindingID, "userpresence", accountID, verisure.NormalizeDeviceID(presence.DeviceID)), presence.Label, nil), presence)
		}
		r.handlers = append(r.handlers, b)
	}
	for i, c := range r.config.SLTraffic {
		id := c.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		r.handlers = append(r.handlers, sltraffic.NewDeviationHandler(r.newThing(thing.NewUID(sltraffic.BindingID, "deviations", id), "", nil), c, sltraffic.Options{
			URL:        opts.SLTrafficURL,
			HTTPClient: opts.HTTPClient,
			Logger:     r.logger,
		}))
	}
	for _, c := range r.config.Luftdaten {
		r.handlers = append(r.handlers, luftdaten.NewSensorHandler(r.newThing(thing.NewUID(luftdaten.BindingID, c.Type, c.SensorID), "", nil), c, luftdaten.Options{
			BaseURL:    opts.LuftdatenBaseURL,
			HTTPClient: opts.HTTPClient,
			Logger:     r.logger,
		}))
	}
	return nil
}

// Lynkco returns the Lynk&Co bridge, or nil when it is not configured.
func (r *Runtime) Lynkco() *lynkco.Bridge {
	return r.lynkco
}

// Handlers returns the top level handlers in configuration order.
func (r *Runtime) Handlers() []thing.Handler {
	return append([]thing.Handler(nil), r.handlers...)
}

// Things returns every thing, bridges before their children.
func (r *Runtime) Things() []*thing.Thing {
	var things []*thing.Thing
	for _, handler := range r.handlers {
		things = append(things, handler.Thing())
		if b, ok := handler.(thing.BridgeHandler); ok {
			for _, child := range b.Children() {
				things = append(things, child.Thing())
			}
		}
	}
	return things
}

// Run initializes all handlers and serves until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	if r.mqtt != nil {
		if err := r.mqtt.Connect(ctx); err != nil {
			return err
		}
		defer r.mqtt.Close()
	}
	g, ctx := errgroup.WithContext(ctx)
	if r.sink != nil {
		g.Go(func() error {
			return r.sink.Run(ctx)
		})
	}
	if r.config.PrometheusListen != "" {
		server := &http.Server{Addr: r.config.PrometheusListen, Handler: metricsMux()}
		g.Go(func() error {
			r.logger.Info("Serving metrics", zap.String("address", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer r.dispose()
		if err := r.initialize(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// initialize brings up every bridge before its children.
func (r *Runtime) initialize(ctx context.Context) error {
	for _, handler := range r.handlers {
		if err := handler.Initialize(ctx); err != nil {
			return errors.Wrapf(err, "initializing %s", handler.Thing().UID)
		}
		b, ok := handler.(thing.BridgeHandler)
		if !ok {
			continue
		}
		for _, child := range b.Children() {
			if err := child.Initialize(ctx); err != nil {
				return errors.Wrapf(err, "initializing %s", child.Thing().UID)
			}
		}
	}
	return nil
}

// dispose shuts children down before their bridge.
func (r *Runtime) dispose() {
	for i := len(r.handlers) - 1; i >= 0; i-- {
		handler := r.handlers[i]
		if b, ok := handler.(thing.BridgeHandler); ok {
			for _, child := range b.Children() {
				child.Dispose()
			}
		}
		handler.Dispose()
	}
	r.logger.Debug("All handlers disposed")
}

// HandleCommand routes command to the handler owning channel.
func (r *Runtime) HandleCommand(ctx context.Context, channel thing.ChannelUID, command thing.Command) error {
	for _, handler := range r.handlers {
		if handler.Thing().UID == channel.Thing {
			return handler.HandleCommand(ctx, channel, command)
		}
		if b, ok := handler.(thing.BridgeHandler); ok {
			for _, child := range b.Children() {
				if child.Thing().UID == channel.Thing {
					return child.HandleCommand(ctx, channel, command)
				}
			}
		}
	}
	return errors.Newf("no thing %s", channel.Thing)
}

// Refresh asks every top level handler to poll now and forgets the openHAB
// items that were not found.
func (r *Runtime) Refresh(ctx context.Context) {
	if r.sink != nil {
		r.sink.Forget()
	}
	for _, handler := range r.handlers {
		uid := handler.Thing().UID
		if err := handler.HandleCommand(ctx, thing.NewChannelUID(uid, "", "refresh"), thing.Refresh); err != nil {
			r.logger.Warn("Refresh failed", zap.String("thing", uid.String()), zap.Error(err))
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
