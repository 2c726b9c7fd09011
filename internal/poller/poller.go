// Package poller runs a refresh function on a fixed delay with bounded,
// backed-off retries and reports online/offline transitions.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/metrics"
)

// Func is one refresh. It must honour ctx cancellation.
type Func func(ctx context.Context) error

// Backoff controls the delay between attempts of a single run.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

const DefaultMaxRetries = 3

type Option func(*Poller)

// WithInitialDelay delays the first run. The default is to run immediately.
func WithInitialDelay(delay time.Duration) Option {
	return func(p *Poller) { p.initialDelay = delay }
}

// WithMaxRetries sets the number of attempts made per run.
func WithMaxRetries(attempts int) Option {
	return func(p *Poller) {
		if attempts > 0 {
			p.maxRetries = attempts
		}
	}
}

func WithBackoff(backoff Backoff) Option {
	return func(p *Poller) { p.backoff = backoff }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type Poller struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	maxRetries   int
	backoff      Backoff
	fn           Func
	logger       *zap.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	mux       sync.Mutex
	onStatus  func(online bool, err error)
	online    *bool
	lastError string
}

// New creates a poller that calls fn every interval, measured from the end of
// one run to the start of the next. An interval of zero disables the automatic
// refresh after the first run; Trigger still works.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Poller {
	p := &Poller{
		name:       name,
		interval:   interval,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff(),
		fn:         fn,
		logger:     zap.NewNop(),
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("poller", name))
	return p
}

func (p *Poller) Name() string {
	return p.name
}

// OnStatus registers fn to be called when the poller goes online or offline.
// While offline, a failure with a different error is reported again; repeated
// identical results are not.
func (p *Poller) OnStatus(fn func(online bool, err error)) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.onStatus = fn
}

// Start runs the poll loop in its own goroutine until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.done != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Trigger asks for an immediate refresh. Triggers that arrive while one is
// already pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mux.Lock()
	cancel, done := p.cancel, p.done
	p.mux.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(p.initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		_ = p.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if p.interval > 0 {
			timer.Reset(p.interval)
		}
	}
}

// RunOnce performs one run with retries and reports its outcome.
func (p *Poller) RunOnce(ctx context.Context) error {
	delay := p.backoff.InitialDelay
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		err = p.fn(ctx)
		if err == nil {
			metrics.PollTotal.WithLabelValues(p.name, "success").Inc()
			metrics.PollLastSuccess.WithLabelValues(p.name).SetToCurrentTime()
			p.report(true, nil)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if IsPermanent(err) || attempt == p.maxRetries {
			break
		}
		p.logger.Debug("Poll failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return err
		}
		delay = p.backoff.next(delay)
	}
	p.logger.Warn("Poll failed", zap.Int("attempts", p.maxRetries), zap.Error(err))
	metrics.PollTotal.WithLabelValues(p.name, "failure").Inc()
	p.report(false, err)
	return err
}

func (p *Poller) report(online bool, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	p.mux.Lock()
	changed := p.online == nil || *p.online != online || (!online && message != p.lastError)
	p.online = &online
	p.lastError = message
	handler := p.onStatus
	p.mux.Unlock()
	if changed && handler != nil {
		handler(online, err)
	}
}

func (b Backoff) next(delay time.Duration) time.Duration {
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay = time.Duration(float64(delay) * multiplier)
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Permanent marks err so the current run gives up without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}
