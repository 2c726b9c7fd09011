// Package httpclient builds the HTTP clients used to talk to vendor clouds.
package httpclient

import (
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "hab-cloud-bridge/1.0"
)

type Option func(*config)

type config struct {
	timeout     time.Duration
	userAgent   string
	cookies     bool
	noRedirects bool
	retryCount  int
	retryDelay  time.Duration
	transport   http.RoundTripper
	logger      *zap.Logger
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// WithCookieJar keeps cookies between requests, scoped by public suffix.
func WithCookieJar() Option {
	return func(c *config) { c.cookies = true }
}

// WithoutRedirects returns redirect responses to the caller instead of following them.
func WithoutRedirects() Option {
	return func(c *config) { c.noRedirects = true }
}

// WithRetry retries requests that failed to connect.
func WithRetry(count int, delay time.Duration) Option {
	return func(c *config) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) { c.transport = rt }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
}

func New(opts ...Option) *http.Client {
	cfg := &config{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	var rt http.RoundTripper = cfg.transport
	if rt == nil {
		rt = NewTransport()
	}
	if cfg.userAgent != "" {
		rt = &userAgentTransport{base: rt, userAgent: cfg.userAgent}
	}
	if cfg.retryCount > 0 {
		rt = &retryTransport{base: rt, count: cfg.retryCount, delay: cfg.retryDelay, logger: cfg.logger}
	}
	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
	if cfg.cookies {
		// cookiejar.New never returns an error.
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client.Jar = jar
	}
	if cfg.noRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// retryTransport retries dial failures, which happen before the server saw
// the request. Requests with a body are only retried when it can be rewound.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *zap.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryable(err) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}
	for attempt := 1; attempt <= t.count; attempt++ {
		t.logger.Debug("Retrying request after connection error",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, errors.Wrap(bodyErr, "rewinding request body")
			}
			retry.Body = body
		}
		resp, err = t.base.RoundTrip(retry)
		if err == nil || !isRetryable(err) {
			return resp, err
		}
	}
	return resp, err
}

func isRetryable(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
	}
	return false
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection goes back to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc for error messages and closes it.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return "(failed to read error body: " + err.Error() + ")"
	}
	return string(body)
}
