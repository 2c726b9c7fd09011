package thing

import "context"

// Handler drives a thing: it is initialized once, receives commands for its
// channels and is disposed when the runtime shuts down.
type Handler interface {
	Thing() *Thing
	Initialize(ctx context.Context) error
	HandleCommand(ctx context.Context, channel ChannelUID, command Command) error
	Dispose()
}

// BridgeHandler is a Handler that owns a shared vendor session for child things.
type BridgeHandler interface {
	Handler
	Children() []Handler
}
