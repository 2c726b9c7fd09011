package thing

import "strings"

// UID identifies a thing as binding:type[:bridge]:id.
type UID string

func NewUID(binding, thingType string, ids ...string) UID {
	segments := append([]string{binding, thingType}, ids...)
	return UID(strings.Join(segments, ":"))
}

func (u UID) String() string {
	return string(u)
}

func (u UID) Binding() string {
	return strings.SplitN(string(u), ":", 2)[0]
}

// ID returns the last segment of the UID.
func (u UID) ID() string {
	segments := strings.Split(string(u), ":")
	return segments[len(segments)-1]
}

// ChannelUID is thingUID:[group#]channel.
type ChannelUID struct {
	Thing UID
	Group string
	ID    string
}

func NewChannelUID(thingUID UID, group, id string) ChannelUID {
	return ChannelUID{Thing: thingUID, Group: group, ID: id}
}

// ParseChannelUID splits "binding:type:id:group#channel" or "binding:type:id:channel".
func ParseChannelUID(value string) (ChannelUID, bool) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 || idx == len(value)-1 {
		return ChannelUID{}, false
	}
	channel := ChannelUID{Thing: UID(value[:idx])}
	local := value[idx+1:]
	if group, id, found := strings.Cut(local, "#"); found {
		channel.Group = group
		channel.ID = id
	} else {
		channel.ID = local
	}
	return channel, channel.ID != ""
}

// LocalID returns group#channel, or just the channel when no group is set.
func (c ChannelUID) LocalID() string {
	if c.Group == "" {
		return c.ID
	}
	return c.Group + "#" + c.ID
}

func (c ChannelUID) String() string {
	return string(c.Thing) + ":" + c.LocalID()
}
