package lynkco

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/httpclient"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/poller"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	BindingID              = "lynkco"
	DefaultRefreshInterval = 5 * time.Minute
)

// Options tune a Bridge. MFA overrides the code from the configuration, for
// example with a terminal prompt.
type Options struct {
	Endpoints   Endpoints
	HTTPClient  *http.Client
	MFA         MFAProvider
	Logger      *zap.Logger
	PollOptions []poller.Option
}

// Bridge owns the Lynk&Co session shared by all vehicles of one account.
type Bridge struct {
	thing   *thing.Thing
	config  models.LynkcoConfiguration
	tokens  *TokenManager
	auth    *Authenticator
	api     *API
	session *Session
	poller  *poller.Poller
	mfa     MFAProvider
	logger  *zap.Logger

	endpoints Endpoints

	mux      sync.RWMutex
	vehicles map[string]*Vehicle
	handlers []*VehicleHandler
}

func NewBridge(t *thing.Thing, config models.LynkcoConfiguration, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("thing", t.UID.String()))
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	client := opts.HTTPClient
	if client == nil {
		client = httpclient.New(httpclient.WithUserAgent(appUserAgent), httpclient.WithRetry(2, time.Second), httpclient.WithLogger(logger))
	}
	mfa := opts.MFA
	if mfa == nil && config.MFACode != "" {
		mfa = StaticMFA(config.MFACode)
	}
	tokens := NewTokenManager(t.Properties, client, opts.Endpoints, logger)
	b := &Bridge{
		thing:     t,
		config:    config,
		tokens:    tokens,
		auth:      NewAuthenticator(opts.Endpoints, client, logger),
		api:       NewAPI(tokens, client, opts.Endpoints, logger),
		mfa:       mfa,
		logger:    logger,
		endpoints: opts.Endpoints,
		vehicles:  make(map[string]*Vehicle),
	}
	b.session = NewSession(logger, nil)
	interval := config.RefreshInterval.OrDefault(DefaultRefreshInterval)
	pollOpts := append([]poller.Option{poller.WithLogger(logger)}, opts.PollOptions...)
	b.poller = poller.New(t.UID.String(), interval, b.refresh, pollOpts...)
	b.poller.OnStatus(b.pollStatus)
	return b
}

func (b *Bridge) Thing() *thing.Thing {
	return b.thing
}

func (b *Bridge) API() *API {
	return b.api
}

func (b *Bridge) Session() *Session {
	return b.session
}

// Initialize checks the configuration, restores or establishes the session
// and starts polling. While a manual login is pending each poll looks for
// tokens stored by the lynkco redirect command.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.config.Email == "" || b.config.Password == "" {
		b.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Configuration of email and password are mandatory"))
		return nil
	}
	b.thing.UpdateStatus(thing.Unknown())
	if err := b.initializeAuthentication(ctx); err != nil {
		b.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationError, "Invalid redirect URL: "+err.Error()))
		return nil
	}
	if b.session.Authenticated() {
		b.thing.UpdateStatus(thing.Online())
	}
	b.poller.Start(ctx)
	return nil
}

// initializeAuthentication only fails for a redirect URL that cannot be exchanged.
func (b *Bridge) initializeAuthentication(ctx context.Context) error {
	if b.config.Redirect != "" && b.redirectPending(b.config.Redirect) {
		b.logger.Info("Redirect URL provided, attempting to complete authentication")
		if err := b.CompleteRedirect(ctx, b.config.Redirect); err != nil {
			b.logger.Error("Failed to process redirect URL", zap.Error(err))
			return err
		}
		return nil
	}
	if b.tokens.HasRefreshToken() {
		b.logger.Debug("Refresh token found, attempting token refresh")
		_, err := b.tokens.Refresh(ctx)
		if err == nil {
			b.session.Fire(ctx, EventAuthenticate)
			return nil
		}
		b.logger.Warn("Token refresh failed, need to re-authenticate", zap.Error(err))
	}
	if b.mfa != nil {
		err := b.LoginWithPassword(ctx)
		if err == nil {
			return nil
		}
		b.logger.Warn("Interactive login failed", zap.Error(err))
	}
	if _, err := b.StartManualLogin(); err != nil {
		b.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, "Failed to generate login URL: "+err.Error()))
	}
	return nil
}

// redirectPending reports whether redirect still has to be exchanged. A
// redirect that was already used, or one without a stored verifier, is ignored.
func (b *Bridge) redirectPending(redirect string) bool {
	if used, _ := b.thing.Properties.Get(PropertyRedirectUsed); used == redirect {
		b.logger.Debug("Redirect URL was already used, ignoring it")
		return false
	}
	if verifier, _ := b.thing.Properties.Get(PropertyCodeVerifier); verifier == "" {
		b.logger.Warn("Redirect URL provided but no manual login is pending, ignoring it")
		return false
	}
	return true
}

// LoginWithPassword runs the interactive login with the configured credentials.
func (b *Bridge) LoginWithPassword(ctx context.Context) error {
	b.session.Fire(ctx, EventBeginLogin)
	token, err := b.auth.Login(ctx, b.config.Email, b.config.Password, b.mfa)
	if err != nil {
		b.session.Fire(ctx, EventExpire)
		return err
	}
	if err := b.tokens.UpdateTokens(ctx, token, ClientID); err != nil {
		b.session.Fire(ctx, EventExpire)
		return err
	}
	b.session.Fire(ctx, EventAuthenticate)
	return nil
}

// StartManualLogin stores a new code verifier and returns the URL the user
// must open to log in.
func (b *Bridge) StartManualLogin() (string, error) {
	loginURL, err := StartManualLogin(b.thing.Properties, b.endpoints)
	if err != nil {
		return "", err
	}
	b.session.Fire(context.Background(), EventBeginLogin)
	b.thing.UpdateStatus(thing.Offline(thing.DetailConfigurationPending,
		"Please visit this URL to complete login (including MFA), then copy the 'msauth://...' URL from your browser and pass it as the redirect: "+loginURL))
	b.logger.Warn("Manual login required, open this URL in a browser and pass the final msauth:// URL back as the redirect",
		zap.String("url", loginURL))
	return loginURL, nil
}

// CompleteRedirect finishes the manual login with the pasted redirect URL.
func (b *Bridge) CompleteRedirect(ctx context.Context, redirectURL string) error {
	if err := CompleteManualLogin(ctx, b.thing.Properties, b.auth, b.tokens, redirectURL); err != nil {
		return err
	}
	b.logger.Info("Successfully obtained tokens from redirect URL")
	b.session.Fire(ctx, EventAuthenticate)
	return nil
}

// StartManualLogin generates a PKCE pair, keeps the verifier in properties so
// it survives restarts and returns the browser login URL.
func StartManualLogin(properties thing.PropertyStore, endpoints Endpoints) (string, error) {
	pkce := NewPKCE()
	if err := properties.Set(PropertyCodeVerifier, pkce.Verifier); err != nil {
		return "", errors.Wrap(err, "storing code verifier")
	}
	return endpoints.ManualLoginURL(pkce), nil
}

// CompleteManualLogin exchanges the code in redirectURL using the stored
// verifier and stores the resulting tokens. The redirect is remembered so a
// later start does not exchange it again.
func CompleteManualLogin(ctx context.Context, properties thing.PropertyStore, auth *Authenticator, tokens *TokenManager, redirectURL string) error {
	verifier, _ := properties.Get(PropertyCodeVerifier)
	token, err := auth.ExchangeRedirect(ctx, redirectURL, verifier)
	if err != nil {
		return err
	}
	if err := tokens.UpdateTokens(ctx, token, ManualClientID); err != nil {
		return err
	}
	if err := properties.Set(PropertyRedirectUsed, redirectURL); err != nil {
		return errors.Wrap(err, "storing used redirect")
	}
	return properties.Delete(PropertyCodeVerifier)
}

// reauthenticate reloads the properties first so tokens stored by another
// process are used. While a manual login is pending only those are tried.
func (b *Bridge) reauthenticate(ctx context.Context) error {
	if reloader, ok := b.thing.Properties.(thing.Reloader); ok {
		if err := reloader.Reload(); err != nil {
			b.logger.Warn("Unable to reload properties", zap.Error(err))
		}
	}
	if b.tokens.HasRefreshToken() {
		if _, err := b.tokens.Refresh(ctx); err == nil {
			b.session.Fire(ctx, EventAuthenticate)
			return nil
		}
	}
	if b.session.Current() == StateLoginPending {
		return newError(AuthenticationRequired, nil, "waiting for the manual login to complete")
	}
	if b.mfa != nil {
		return b.LoginWithPassword(ctx)
	}
	return newError(AuthenticationRequired, nil, "session expired, please re-authenticate")
}

// refresh is the poll function: it fetches every configured vehicle and
// hands the snapshots to the vehicle handlers.
func (b *Bridge) refresh(ctx context.Context) error {
	if !b.session.Authenticated() {
		if err := b.reauthenticate(ctx); err != nil {
			return poller.Permanent(err)
		}
	}
	for _, handler := range b.children() {
		vehicle, err := b.api.Vehicle(ctx, handler.vin)
		if err != nil {
			b.logger.Warn("Error making request for vehicle data", zap.String("vin", handler.vin), zap.Error(err))
			if NeedsLogin(err) {
				b.session.Fire(ctx, EventExpire)
				return poller.Permanent(err)
			}
			return err
		}
		b.mux.Lock()
		b.vehicles[handler.vin] = vehicle
		b.mux.Unlock()
		handler.update(vehicle)
	}
	return nil
}

func (b *Bridge) pollStatus(online bool, err error) {
	if online {
		b.thing.UpdateStatus(thing.Online())
		return
	}
	if b.session.Current() == StateLoginPending {
		return
	}
	description := ""
	if err != nil {
		description = err.Error()
	}
	b.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, description))
	for _, handler := range b.children() {
		handler.thing.UpdateStatus(thing.Offline(thing.DetailBridgeOffline, ""))
	}
}

// Refresh asks for an immediate poll.
func (b *Bridge) Refresh() {
	b.poller.Trigger()
}

// Vehicle returns the last snapshot of vin.
func (b *Bridge) Vehicle(vin string) (*Vehicle, bool) {
	b.mux.RLock()
	defer b.mux.RUnlock()
	v, ok := b.vehicles[vin]
	return v, ok
}

// Vehicles lists the VINs known to the bridge, for discovery.
func (b *Bridge) Vehicles() []string {
	b.mux.RLock()
	defer b.mux.RUnlock()
	seen := make(map[string]bool)
	for vin := range b.vehicles {
		seen[vin] = true
	}
	for _, handler := range b.handlers {
		seen[handler.vin] = true
	}
	vins := make([]string, 0, len(seen))
	for vin := range seen {
		vins = append(vins, vin)
	}
	sort.Strings(vins)
	return vins
}

// AddVehicle registers a vehicle handler for t. It must be called before Initialize.
func (b *Bridge) AddVehicle(t *thing.Thing, config models.LynkcoVehicleConfiguration) *VehicleHandler {
	handler := &VehicleHandler{
		thing:  t,
		vin:    config.VIN,
		bridge: b,
		logger: b.logger.With(zap.String("vin", config.VIN)),
	}
	t.BridgeUID = b.thing.UID
	b.mux.Lock()
	b.handlers = append(b.handlers, handler)
	b.mux.Unlock()
	return handler
}

func (b *Bridge) children() []*VehicleHandler {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return append([]*VehicleHandler(nil), b.handlers...)
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
