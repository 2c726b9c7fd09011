package thing

import (
	"sync"
)

// Thing is the host-side view of a single device: its identity, persisted
// properties and the callback its handler publishes through.
type Thing struct {
	UID        UID
	Label      string
	BridgeUID  UID
	Properties PropertyStore

	callback Callback
	mux      sync.Mutex
	status   StatusInfo
	states   map[string]string
	attrs    map[string]string
}

func New(uid UID, label string, properties PropertyStore, callback Callback) *Thing {
	if properties == nil {
		properties = NewMemoryStore(nil)
	}
	if callback == nil {
		callback = Fanout{}
	}
	return &Thing{
		UID:        uid,
		Label:      label,
		Properties: properties,
		callback:   callback,
		status:     StatusInfo{Status: StatusUninitialized, Detail: DetailNone},
		states:     make(map[string]string),
		attrs:      make(map[string]string),
	}
}

func (t *Thing) Channel(group, id string) ChannelUID {
	return NewChannelUID(t.UID, group, id)
}

func (t *Thing) Status() StatusInfo {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.status
}

// UpdateStatus publishes info unless it equals the current status.
func (t *Thing) UpdateStatus(info StatusInfo) {
	t.mux.Lock()
	if t.status == info {
		t.mux.Unlock()
		return
	}
	t.status = info
	t.mux.Unlock()
	t.callback.StatusUpdated(t.UID, info)
}

// UpdateState publishes state for the channel group#id. Repeated identical
// states are only published once.
func (t *Thing) UpdateState(group, id string, state State) {
	if state == nil {
		state = UnDef
	}
	channel := t.Channel(group, id)
	rendered := state.String()
	t.mux.Lock()
	if previous, ok := t.states[channel.LocalID()]; ok && previous == rendered {
		t.mux.Unlock()
		return
	}
	t.states[channel.LocalID()] = rendered
	t.mux.Unlock()
	t.callback.StateUpdated(channel, state)
}

// LastState returns the last published textual state of group#id.
func (t *Thing) LastState(group, id string) (string, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	state, ok := t.states[NewChannelUID(t.UID, group, id).LocalID()]
	return state, ok
}

// SetAttribute records descriptive properties such as vendor or model.
func (t *Thing) SetAttribute(key, value string) {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.attrs[key] = value
}

func (t *Thing) Attributes() map[string]string {
	t.mux.Lock()
	defer t.mux.Unlock()
	out := make(map[string]string, len(t.attrs))
	for k, v := range t.attrs {
		out[k] = v
	}
	return out
}
