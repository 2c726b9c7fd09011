package lynkco

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

func fixtureVehicle(t *testing.T) *Vehicle {
	v := &Vehicle{VIN: testVIN}
	require.NoError(t, json.Unmarshal([]byte(recordFixture), &v.Record))
	require.NoError(t, json.Unmarshal([]byte(shadowFixture), &v.Shadow))
	return v
}

func Test_ChannelState(t *testing.T) {
	v := fixtureVehicle(t)
	tests := []struct {
		group    string
		channel  string
		expected string
	}{
		{GroupBattery, "charge-level", "88 %"},
		{GroupBattery, "health", "UNDEF"},
		{GroupBattery, "voltage", "12.6 V"},
		{GroupBattery, "charge", "OK"},
		{GroupClimate, "temp-exterior", "14.5 °C"},
		{GroupClimate, "temp-interior", "UNDEF"},
		{GroupClimate, "preclimate-active", "ON"},
		{GroupClimateControl, ChannelPreclimate, "ON"},
		{GroupCharging, "charging-level", "76.5 %"},
		{GroupCharging, "time-to-full", "95 min"},
		{GroupCharging, "charger-state", "Charging"},
		{GroupCharging, "charger-connection-status", "Connected"},
		{GroupCharging, "power-mode", "POWER_MODE_OFF"},
		{GroupFuel, "level", "41 %"},
		{GroupFuel, "type", "PETROL"},
		{GroupFuel, "range", "410 km"},
		{GroupFuel, "consumption", "1.8 l/100km"},
		{GroupFuel, "level-status", "UNDEF"},
		{GroupOdometer, "odometer-km", "12345.6 km"},
		{GroupPosition, "location", "59.33,18.06,12"},
		{GroupPosition, "location-trusted", "ON"},
		{GroupSpeed, "speed", "0 km/h"},
		{GroupSpeed, "direction", "270 °"},
		{GroupTrip, "avg-speed", "42.1 km/h"},
		{GroupDoors, "door-driver", "CLOSED"},
		{GroupDoors, "trunk", "OPEN"},
		{GroupDoors, "hood", "UNDEF"},
		{GroupDoors, "locks-status", "LOCKED"},
		{GroupDoorsControl, ChannelDoorLock, "ON"},
		{GroupWindows, "window-passenger", "CLOSED"},
		{GroupBulbs, "stop", "NO_FAILURE"},
		{GroupBulbs, "fog-rear", "UNDEF"},
		{GroupSafety, "seatbelt-driver", "ON"},
		{GroupSafety, "seatbelt-passenger", "OFF"},
		{GroupTyres, "front-left", "2.4 (normal)"},
		{GroupTyres, "rear-right", "UNDEF"},
		{GroupVehicleStatus, "engine-status", "engine_off"},
		{GroupEngineControl, ChannelEngineStart, "OFF"},
		{GroupDoors, "no-such-channel", "UNDEF"},
		{"no-such-group", "level", "UNDEF"},
	}
	for _, test := range tests {
		t.Run(test.group+"#"+test.channel, func(t *testing.T) {
			assert.Equal(t, test.expected, ChannelState(test.group, test.channel, v).String())
		})
	}
}

func Test_ChannelState_Timestamps(t *testing.T) {
	v := fixtureVehicle(t)

	battery, ok := ChannelState(GroupBattery, ChannelLastUpdate, v).(thing.DateTimeType)
	require.True(t, ok)
	assert.True(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).Equal(time.Time(battery)))

	odometer, ok := ChannelState(GroupOdometer, ChannelLastUpdate, v).(thing.DateTimeType)
	require.True(t, ok)
	assert.Equal(t, int64(1714550400000), time.Time(odometer).UnixMilli())

	assert.Equal(t, thing.UnDef, ChannelState(GroupFuel, ChannelLastUpdate, v))
}

func Test_ChannelState_NoSnapshot(t *testing.T) {
	assert.Equal(t, thing.UnDef, ChannelState(GroupBattery, "charge-level", nil))
}

func Test_ChannelState_Unlocked(t *testing.T) {
	v := fixtureVehicle(t)
	v.Shadow.Vls.CentralLockingStatus = "UNLOCKED"
	assert.Equal(t, thing.Off, ChannelState(GroupDoorsControl, ChannelDoorLock, v))
	v.Shadow.Vls.CentralLockingStatus = ""
	assert.Equal(t, thing.UnDef, ChannelState(GroupDoorsControl, ChannelDoorLock, v))
}

func Test_OpenClosed(t *testing.T) {
	assert.Equal(t, thing.Open, openClosed("OPEN"))
	assert.Equal(t, thing.Open, openClosed("ajar"))
	assert.Equal(t, thing.Closed, openClosed("WINDOW_CLOSED"))
	assert.Equal(t, thing.StringType("VENTILATION"), openClosed("VENTILATION"))
	assert.Equal(t, thing.UnDef, openClosed(""))
}

func Test_StateChannelsAreMapped(t *testing.T) {
	seen := make(map[string]bool)
	for _, channel := range stateChannels {
		id := channel.group + "#" + channel.id
		assert.False(t, seen[id], "duplicate channel %s", id)
		seen[id] = true
	}
}
