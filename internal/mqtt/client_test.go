package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/suite"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

type doneToken struct{}

func (doneToken) Wait() bool { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
func (doneToken) Error() error { return nil }

type receivedMessage struct {
	topic   string
	payload string
}

func (m receivedMessage) Duplicate() bool { return false }
func (m receivedMessage) Qos() byte { return 1 }
func (m receivedMessage) Retained() bool { return false }
func (m receivedMessage) Topic() string { return m.topic }
func (m receivedMessage) MessageID() uint16 { return 1 }
func (m receivedMessage) Payload() []byte { return []byte(m.payload) }
func (m receivedMessage) Ack() {}

type commandRecorder struct {
	mux      sync.Mutex
	channels []thing.ChannelUID
	commands []thing.Command
}

func (r *commandRecorder) handle(_ context.Context, channel thing.ChannelUID, command thing.Command) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.channels = append(r.channels, channel)
	r.commands = append(r.commands, command)
	return nil
}

func (r *commandRecorder) count() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.commands)
}

type message struct {
	topic    string
	retained bool
	payload  string
}

type recordingPublisher struct {
	mux      sync.Mutex
	messages []message
}

func (p *recordingPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.messages = append(p.messages, message{topic: topic, retained: retained, payload: payload.(string)})
	return doneToken{}
}

func (p *recordingPublisher) topics() map[string]string {
	p.mux.Lock()
	defer p.mux.Unlock()
	out := make(map[string]string, len(p.messages))
	for _, m := range p.messages {
		out[m.topic] = m.payload
	}
	return out
}

type MQTTTest struct {
	suite.Suite
	pub    *recordingPublisher
	client *client
	thing  *thing.Thing
}

func TestMQTT(t *testing.T) {
	suite.Run(t, new(MQTTTest))
}

func (s *MQTTTest) SetupTest() {
	s.pub = &recordingPublisher{}
	s.client = NewClient(models.MQTTConfiguration{URL: "tcp://localhost:1883", Prefix: "hab", Discovery: true}, nil).(*client)
	s.client.pub = s.pub
	s.thing = thing.New(thing.NewUID("lynkco", "vehicle", "api", "VIN123"), "Car", nil, s.client)
}

func (s *MQTTTest) TestStatePublished() {
	s.thing.UpdateState("battery", "charge-level", thing.NewQuantity(88, thing.UnitPercent))
	s.thing.UpdateState("doors", "lock", thing.On)
	s.thing.UpdateState("", "vin", thing.StringType("VIN123"))

	topics := s.pub.topics()
	s.Equal("88", topics["hab/lynkco_vehicle_api_VIN123/battery/charge-level"])
	s.Equal("ON", topics["hab/lynkco_vehicle_api_VIN123/doors/lock"])
	s.Equal("VIN123", topics["hab/lynkco_vehicle_api_VIN123/vin"])
	for _, m := range s.pub.messages {
		s.True(m.retained, m.topic)
	}
}

func (s *MQTTTest) TestStatusPublished() {
	s.thing.UpdateStatus(thing.Offline(thing.DetailCommunicationError, "down"))
	s.Equal("offline", s.pub.topics()["hab/lynkco_vehicle_api_VIN123/status"])
}

func (s *MQTTTest) TestDiscoveryOncePerChannel() {
	s.thing.UpdateState("climate", "interior-temperature", thing.NewQuantity(21.5, thing.UnitCelsius))
	s.thing.UpdateState("climate", "interior-temperature", thing.NewQuantity(22, thing.UnitCelsius))

	topic := "homeassistant/sensor/hab_lynkco_vehicle_api_VIN123/climate_interior-temperature/config"
	count := 0
	for _, m := range s.pub.messages {
		if m.topic == topic {
			count++
		}
	}
	s.Equal(1, count)

	var config SensorJSON
	s.Require().NoError(json.Unmarshal([]byte(s.pub.topics()[topic]), &config))
	s.Equal("temperature", config.DeviceClass)
	s.Equal("°C", config.UnitOfMeasurement)
	s.Equal("measurement", config.StateClass)
	s.Equal("hab/lynkco_vehicle_api_VIN123/climate/interior-temperature", config.StateTopic)
	s.Equal("hab/lynkco_vehicle_api_VIN123/status", config.AvailabilityTopic)
	s.Equal([]string{"hab_lynkco_vehicle_api_VIN123"}, config.Device.Identifiers)
	s.Equal("22", s.pub.topics()[config.StateTopic])
}

func (s *MQTTTest) TestNothingPublishedWhenDisconnected() {
	c := NewClient(models.MQTTConfiguration{}, nil)
	s.False(c.IsEnabled())
	s.NoError(c.Connect(context.Background()))
	c.StateUpdated(s.thing.Channel("", "vin"), thing.StringType("x"))
	c.Close()
}

func (s *MQTTTest) TestCommandTopicsRouted() {
	recorder := &commandRecorder{}
	s.client.HandleCommands([]thing.UID{s.thing.UID}, recorder.handle)
	ctx := context.Background()

	s.Require().NoError(s.client.HandleMessage(ctx, "hab/lynkco_vehicle_api_VIN123/climate-control/preclimate/set", []byte("ON")))
	s.Require().NoError(s.client.HandleMessage(ctx, "hab/lynkco_vehicle_api_VIN123/refresh/set", []byte("refresh")))
	s.Equal([]thing.ChannelUID{
		s.thing.Channel("climate-control", "preclimate"),
		s.thing.Channel("", "refresh"),
	}, recorder.channels)
	s.Equal([]thing.Command{thing.On, thing.Refresh}, recorder.commands)

	s.Error(s.client.HandleMessage(ctx, "hab/meater_meaterprobe_p1/cook-state/set", []byte("ON")))
	s.Error(s.client.HandleMessage(ctx, "hab/lynkco_vehicle_api_VIN123/climate-control/preclimate", []byte("ON")))
	s.Error(s.client.HandleMessage(ctx, "other/lynkco_vehicle_api_VIN123/doors-control/lock/set", []byte("ON")))
	s.Equal(2, recorder.count())
}

func (s *MQTTTest) TestSubscribedMessagesProcessed() {
	recorder := &commandRecorder{}
	s.client.HandleCommands([]thing.UID{s.thing.UID}, recorder.handle)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.client.processMessages(ctx)
		close(done)
	}()

	s.client.messagePubHandler(nil, receivedMessage{topic: "hab/lynkco_vehicle_api_VIN123/doors-control/lock/set", payload: "OFF"})
	s.Eventually(func() bool { return recorder.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
	s.Equal(thing.Off, recorder.commands[0])
}
