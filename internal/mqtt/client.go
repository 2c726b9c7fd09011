package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
	"github.com/jgulick48/hab-cloud-bridge/internal/thing"
)

const (
	defaultPrefix   = "hab"
	discoveryPrefix = "homeassistant"
	commandSuffix   = "/set"
	publishTimeout  = 5 * time.Second
)

// CommandHandler receives the commands published to set topics.
type CommandHandler func(ctx context.Context, channel thing.ChannelUID, command thing.Command) error

// Client publishes thing states and statuses to an MQTT broker and turns
// messages on <prefix>/<thing>/[<group>/]<channel>/set into commands.
type Client interface {
	thing.Callback
	Connect(ctx context.Context) error
	Close()
	IsEnabled() bool
	HandleCommands(things []thing.UID, handler CommandHandler)
	HandleMessage(ctx context.Context, topic string, payload []byte) error
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type client struct {
	config     models.MQTTConfiguration
	logger     *zap.Logger
	mqttClient mqtt.Client
	pub        publisher

	messages chan mqtt.Message
	cancel   context.CancelFunc

	mux        sync.Mutex
	discovered map[string]bool
	things     map[string]thing.UID
	commands   CommandHandler
}

func NewClient(config models.MQTTConfiguration, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}
	if config.ClientID == "" {
		config.ClientID = "hab-cloud-bridge-" + config.Prefix
	}
	return &client{
		config:     config,
		logger:     logger.With(zap.String("broker", config.URL)),
		messages:   make(chan mqtt.Message, 16),
		discovered: make(map[string]bool),
		things:     make(map[string]thing.UID),
	}
}

func (c *client) IsEnabled() bool {
	return c.config.IsEnabled()
}

// Connect dials the broker. The bridge status topic is retained as
// "online" and flips to "offline" through the will when the connection drops.
// Commands are handled until ctx is done or Close is called.
func (c *client) Connect(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	statusTopic := c.config.Prefix + "/status"
	opts := mqtt.NewClientOptions().
		AddBroker(c.config.URL).
		SetClientID(c.config.ClientID).
		SetAutoReconnect(true).
		SetResumeSubs(true).
		SetOrderMatters(false).
		SetWill(statusTopic, "offline", 0, true)
	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.OnConnect = func(client mqtt.Client) {
		c.logger.Info("Connected")
		client.Publish(statusTopic, 0, true, "online")
		c.sub(client)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		c.logger.Warn("Connection lost", zap.Error(err))
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.processMessages(ctx)
	c.mqttClient = mqtt.NewClient(opts)
	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		c.cancel()
		return errors.Wrapf(token.Error(), "error connecting to mqtt broker %s", c.config.URL)
	}
	c.mux.Lock()
	c.pub = c.mqttClient
	c.mux.Unlock()
	return nil
}

// sub subscribes to the set topics one and two levels below each thing.
func (c *client) sub(client mqtt.Client) {
	c.mux.Lock()
	enabled := c.commands != nil
	c.mux.Unlock()
	if !enabled {
		return
	}
	filters := map[string]byte{
		c.config.Prefix + "/+/+" + commandSuffix:   1,
		c.config.Prefix + "/+/+/+" + commandSuffix: 1,
	}
	token := client.SubscribeMultiple(filters, c.messagePubHandler)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		c.logger.Warn("Unable to subscribe to command topics", zap.Error(token.Error()))
		return
	}
	c.logger.Info("Subscribed to command topics", zap.String("prefix", c.config.Prefix))
}

func (c *client) messagePubHandler(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.messages <- msg:
	default:
		c.logger.Warn("Command queue full, dropping message", zap.String("topic", msg.Topic()))
	}
}

func (c *client) processMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.messages:
			if err := c.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
				c.logger.Warn("Command failed", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		}
	}
}

// HandleCommands routes commands for things to handler.
func (c *client) HandleCommands(things []thing.UID, handler CommandHandler) {
	c.mux.Lock()
	defer c.mux.Unlock()
	for _, uid := range things {
		c.things[topicSegment(uid.String())] = uid
	}
	c.commands = handler
}

// HandleMessage parses a message received on a set topic and passes the
// command to the registered handler.
func (c *client) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	rest := strings.TrimPrefix(topic, c.config.Prefix+"/")
	if rest == topic || !strings.HasSuffix(rest, commandSuffix) {
		return errors.Newf("%s is not a command topic", topic)
	}
	segments := strings.Split(strings.TrimSuffix(rest, commandSuffix), "/")
	c.mux.Lock()
	uid, known := c.things[segments[0]]
	handler := c.commands
	c.mux.Unlock()
	if !known || handler == nil {
		return errors.Newf("no thing for topic %s", topic)
	}
	var channel thing.ChannelUID
	switch len(segments) {
	case 2:
		channel = thing.NewChannelUID(uid, "", segments[1])
	case 3:
		channel = thing.NewChannelUID(uid, segments[1], segments[2])
	default:
		return errors.Newf("%s is not a command topic", topic)
	}
	command := thing.ParseCommand(string(payload))
	c.logger.Debug("Command received", zap.String("channel", channel.String()), zap.String("command", command.String()))
	return handler(ctx, channel, command)
}

func (c *client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.mqttClient == nil {
		return
	}
	c.publish(c.config.Prefix+"/status", true, "offline")
	c.mqttClient.Disconnect(250)
}

func (c *client) StatusUpdated(uid thing.UID, info thing.StatusInfo) {
	c.publish(c.thingTopic(uid)+"/status", true, strings.ToLower(string(info.Status)))
}

func (c *client) StateUpdated(channel thing.ChannelUID, state thing.State) {
	topic := c.channelTopic(channel)
	payload := state.String()
	switch state.(type) {
	case thing.QuantityType, thing.DecimalType:
		payload = strconv.FormatFloat(state.(thing.Numeric).Float(), 'f', -1, 64)
		if c.config.Discovery {
			c.discover(channel, topic, state)
		}
	}
	c.publish(topic, true, payload)
}

// discover announces a numeric channel to Home Assistant once.
func (c *client) discover(channel thing.ChannelUID, stateTopic string, state thing.State) {
	id := topicSegment(c.config.Prefix + "_" + channel.String())
	c.mux.Lock()
	seen := c.discovered[id]
	c.discovered[id] = true
	c.mux.Unlock()
	if seen {
		return
	}
	thingID := topicSegment(channel.Thing.String())
	config := SensorJSON{
		UniqueId:          id,
		Name:              channel.LocalID(),
		StateTopic:        stateTopic,
		AvailabilityTopic: c.thingTopic(channel.Thing) + "/status",
		DeviceClass:       deviceClass(state),
		UnitOfMeasurement: unitOf(state),
		Device: SensorDevice{
			Manufacturer: channel.Thing.Binding(),
			Name:         channel.Thing.ID(),
			Identifiers:  []string{c.config.Prefix + "_" + thingID},
		},
	}
	if config.UnitOfMeasurement != "" {
		config.StateClass = "measurement"
	}
	payload, err := json.Marshal(config)
	if err != nil {
		c.logger.Warn("Unable to encode discovery config", zap.String("channel", channel.String()), zap.Error(err))
		return
	}
	c.publish(discoveryPrefix+"/sensor/"+c.config.Prefix+"_"+thingID+"/"+topicSegment(channel.LocalID())+"/config", true, string(payload))
}

func (c *client) publish(topic string, retained bool, payload string) {
	c.mux.Lock()
	pub := c.pub
	c.mux.Unlock()
	if pub == nil {
		return
	}
	token := pub.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.logger.Warn("Timed out publishing", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("Error publishing", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *client) thingTopic(uid thing.UID) string {
	return c.config.Prefix + "/" + topicSegment(uid.String())
}

// channelTopic is <prefix>/<thing>/[<group>/]<channel>.
func (c *client) channelTopic(channel thing.ChannelUID) string {
	topic := c.thingTopic(channel.Thing) + "/"
	if channel.Group != "" {
		topic += topicSegment(channel.Group) + "/"
	}
	return topic + topicSegment(channel.ID)
}

var topicReplacer = strings.NewReplacer(":", "_", "#", "_", "+", "_", "/", "_", " ", "_")

func topicSegment(value string) string {
	return topicReplacer.Replace(value)
}
