package thing

import (
	"go.uber.org/zap"
)

// Callback receives status and state updates published by handlers.
type Callback interface {
	StatusUpdated(uid UID, info StatusInfo)
	StateUpdated(channel ChannelUID, state State)
}

// Fanout forwards every update to each of its callbacks in order.
type Fanout []Callback

func (f Fanout) StatusUpdated(uid UID, info StatusInfo) {
	for _, callback := range f {
		callback.StatusUpdated(uid, info)
	}
}

func (f Fanout) StateUpdated(channel ChannelUID, state State) {
	for _, callback := range f {
		callback.StateUpdated(channel, state)
	}
}

type logCallback struct {
	logger *zap.Logger
}

func NewLogCallback(logger *zap.Logger) Callback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logCallback{logger: logger}
}

func (c *logCallback) StatusUpdated(uid UID, info StatusInfo) {
	fields := []zap.Field{
		zap.String("thing", uid.String()),
		zap.String("status", string(info.Status)),
		zap.String("detail", string(info.Detail)),
	}
	if info.Description != "" {
		fields = append(fields, zap.String("description", info.Description))
	}
	if info.Status == StatusOffline {
		c.logger.Warn("Thing went offline", fields...)
		return
	}
	c.logger.Info("Thing status updated", fields...)
}

func (c *logCallback) StateUpdated(channel ChannelUID, state State) {
	c.logger.Debug("Channel state updated",
		zap.String("channel", channel.String()),
		zap.String("state", state.String()))
}
