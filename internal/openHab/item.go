package openHab

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	defaultQueueSize = 256
	missingItemRetry = 10 * time.Minute
)

type itemUpdate struct {
	item  string
	state string
}

// Sink mirrors channel states onto the linked openHAB items. Updates are
// queued and sent from Run so handlers never wait on openHAB.
type Sink struct {
	client  Client
	logger  *zap.Logger
	updates chan itemUpdate

	mux   sync.Mutex
	known map[string]string
	// missing holds when an item that was not found may be looked up again.
	missing map[string]time.Time
	now     func() time.Time
}

func NewSink(client Client, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client:  client,
		logger:  logger,
		updates: make(chan itemUpdate, defaultQueueSize),
		known:   make(map[string]string),
		missing: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *Sink) StatusUpdated(uid thing.UID, info thing.StatusInfo) {
	s.logger.Debug("Thing status changed",
		zap.String("thing", uid.String()),
		zap.String("status", string(info.Status)),
		zap.String("detail", string(info.Detail)))
}

func (s *Sink) StateUpdated(channel thing.ChannelUID, state thing.State) {
	item := ItemName(channel)
	s.mux.Lock()
	skip := s.now().Before(s.missing[item])
	s.mux.Unlock()
	if skip {
		return
	}
	select {
	case s.updates <- itemUpdate{item: item, state: state.String()}:
	default:
		s.logger.Warn("OpenHAB update queue full, dropping state", zap.String("item", item))
	}
}

// Run sends queued updates until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-s.updates:
			s.send(ctx, update)
		}
	}
}

func (s *Sink) send(ctx context.Context, update itemUpdate) {
	if err := s.resolve(ctx, update.item); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			s.logger.Info("No item linked for channel, ignoring further updates", zap.String("item", update.item))
			return
		}
		s.logger.Warn("Error making request for item from OpenHAB", zap.String("item", update.item), zap.Error(err))
		return
	}
	if err := s.client.UpdateItemState(ctx, update.item, update.state); err != nil {
		s.logger.Warn("Error updating item state in OpenHAB", zap.String("item", update.item), zap.Error(err))
		return
	}
	s.logger.Debug("Updated item state", zap.String("item", update.item), zap.String("state", update.state))
}

// resolve looks an item up once and remembers whether it exists. Missing
// items are looked up again after missingItemRetry.
func (s *Sink) resolve(ctx context.Context, item string) error {
	s.mux.Lock()
	_, seen := s.known[item]
	retryAt, missing := s.missing[item]
	if missing && !s.now().Before(retryAt) {
		delete(s.missing, item)
		missing = false
	}
	s.mux.Unlock()
	if missing {
		return ErrItemNotFound
	}
	if seen {
		return nil
	}
	dto, err := s.client.GetItem(ctx, item)
	switch {
	case errors.Is(err, ErrItemNotFound):
		s.mux.Lock()
		s.missing[item] = s.now().Add(missingItemRetry)
		s.mux.Unlock()
		return err
	case err != nil:
		return err
	}
	s.mux.Lock()
	s.known[item] = dto.Type
	s.mux.Unlock()
	return nil
}

// ItemType returns the type of a resolved item.
func (s *Sink) ItemType(item string) (string, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	itemType, ok := s.known[item]
	return itemType, ok
}

// Forget drops the remembered missing items so they are looked up on the
// next update.
func (s *Sink) Forget() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.missing = make(map[string]time.Time)
}
