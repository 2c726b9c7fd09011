package lynkco

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Session states.
const (
	StateUnauthenticated = "unauthenticated"
	StateLoginPending    = "login_pending"
	StateAuthenticated   = "authenticated"
	StateExpired         = "expired"
)

// Session events.
const (
	EventBeginLogin   = "begin_login"
	EventAuthenticate = "authenticate"
	EventExpire       = "expire"
	EventSignOut      = "sign_out"
)

// Session tracks where the bridge stands in the login life cycle.
type Session struct {
	machine *fsm.FSM
	logger  *zap.Logger
}

func NewSession(logger *zap.Logger, onChange func(from, to string)) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{logger: logger}
	s.machine = fsm.NewFSM(
		StateUnauthenticated,
		fsm.Events{
			{Name: EventBeginLogin, Src: []string{StateUnauthenticated, StateExpired}, Dst: StateLoginPending},
			{Name: EventAuthenticate, Src: []string{StateUnauthenticated, StateLoginPending, StateExpired}, Dst: StateAuthenticated},
			{Name: EventExpire, Src: []string{StateAuthenticated, StateLoginPending}, Dst: StateExpired},
			{Name: EventSignOut, Src: []string{StateLoginPending, StateAuthenticated, StateExpired}, Dst: StateUnauthenticated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Session state changed", zap.String("from", e.Src), zap.String("to", e.Dst), zap.String("event", e.Event))
				if onChange != nil {
					onChange(e.Src, e.Dst)
				}
			},
		},
	)
	return s
}

func (s *Session) Current() string {
	return s.machine.Current()
}

func (s *Session) Authenticated() bool {
	return s.machine.Current() == StateAuthenticated
}

// Fire applies event. Firing an event that would not change the state, or
// one that is not valid from the current state, is a no-op.
func (s *Session) Fire(ctx context.Context, event string) {
	err := s.machine.Event(ctx, event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	var invalid fsm.InvalidEventError
	if errors.As(err, &noTransition) || errors.As(err, &invalid) {
		return
	}
	s.logger.Warn("Session event failed", zap.String("event", event), zap.Error(err))
}
