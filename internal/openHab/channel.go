package openHab

import (
	"strings"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

var itemNameReplacer = strings.NewReplacer(":", "_", "-", "_", "#", "_")

// ConvertUIDToTingUID turns a channel UID into the item name openHAB
// suggests when the channel is linked.
func ConvertUIDToTingUID(uid string) string {
	return itemNameReplacer.Replace(uid)
}

// ItemName is the item linked to channel.
func ItemName(channel thing.ChannelUID) string {
	return ConvertUIDToTingUID(channel.String())
}
