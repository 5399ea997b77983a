package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lightcore/internal/logger"
)

const (
	disconnectQuiesce = 500
	retryInterval     = 5 * time.Second
)

var ErrNotStarted = errors.New("mqtt client is not started")

// ClientMQTT bridges the universe registry and an MQTT broker. It receives
// channel commands on <prefix>/universe/<id>/set, publishes changed output
// on <prefix>/universe/<id>/output and feedback on <prefix>/feedback/<id>.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	dmxDataCh chan<- DataCh
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	topics map[nameTopic]uint32
	last   map[uint32][]byte
}

// NewClient returns a bridge for cfgClient. Start connects it.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	return &ClientMQTT{
		log:       logger.OrDiscard(log).Module("mqtt"),
		cfgClient: cfgClient,
		newClient: mqtt.NewClient,
		topics:    map[nameTopic]uint32{},
		last:      map[uint32][]byte{},
	}
}

// Start connects to the broker. Commands received later are sent to
// dmxDataCh until ctx is done.
func (c *ClientMQTT) Start(ctx context.Context, dmxDataCh chan<- DataCh) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	c.dmxDataCh = dmxDataCh

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(retryInterval).
		SetKeepAlive(30 * time.Second)

	c.mu.Lock()
	c.client = c.newClient(c.opts)
	c.mu.Unlock()

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

// Stop disconnects from the broker.
func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")

	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, string(t))
	}
	c.mu.Unlock()

	for _, t := range topics {
		c.sub(t)
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	go c.sendDataToEngine(msg)
}

func (c *ClientMQTT) sendDataToEngine(msg mqtt.Message) {
	c.mu.Lock()
	id, ok := c.topics[nameTopic(msg.Topic())]
	c.mu.Unlock()
	if !ok {
		c.log.Errorf("topic %s is not a universe command topic", msg.Topic())
		return
	}

	var data Payload
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		c.log.Errorf("message could not be parsed (%s): %v", msg.Payload(), err)
		return
	}
	c.log.Debugf("message payload parsed. Result: %v", data)

	select {
	case c.dmxDataCh <- DataCh{Universe: id, Data: data}:
	case <-c.ctx.Done():
	}
}

// CommandTopic returns the topic channel commands for universe are read from.
func (c *ClientMQTT) CommandTopic(universe uint32) string {
	return c.topic("universe", strconv.FormatUint(uint64(universe), 10), "set")
}

// OutputTopic returns the topic changed output of universe is published on.
func (c *ClientMQTT) OutputTopic(universe uint32) string {
	return c.topic("universe", strconv.FormatUint(uint64(universe), 10), "output")
}

// FeedbackTopic returns the topic feedback of universe is published on.
func (c *ClientMQTT) FeedbackTopic(universe uint32) string {
	return c.topic("feedback", strconv.FormatUint(uint64(universe), 10))
}

func (c *ClientMQTT) topic(levels ...string) string {
	if c.cfgClient.Prefix == "" {
		return strings.Join(levels, "/")
	}
	return c.cfgClient.Prefix + "/" + strings.Join(levels, "/")
}

// AddUniverse subscribes to the command topic of universe.
func (c *ClientMQTT) AddUniverse(universe uint32) error {
	if c.client == nil {
		return ErrNotStarted
	}
	topic := c.CommandTopic(universe)

	c.mu.Lock()
	if _, ok := c.topics[nameTopic(topic)]; ok {
		c.mu.Unlock()
		c.log.Debugf("topic %s already exists", topic)
		return nil
	}
	c.topics[nameTopic(topic)] = universe
	c.mu.Unlock()

	c.sub(topic)
	return nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) publish(topic string, payload interface{}) {
	msg, err := json.Marshal(payload)
	if err != nil {
		c.log.Errorf("publish topic %s. msg: %v", topic, err)
		return
	}
	token := c.client.Publish(topic, c.cfgClient.Qos, false, msg)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

// UniverseWritten publishes the channels of data that differ from the last
// frame published for universe.
func (c *ClientMQTT) UniverseWritten(universe uint32, data []byte) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	c.mu.Lock()
	prev := c.last[universe]
	var changes Payload
	for i, v := range data {
		if i < len(prev) && prev[i] == v {
			continue
		}
		if i >= len(prev) && v == 0 {
			continue
		}
		changes = append(changes, DMXCommand{Channel: uint16(i), Value: v})
	}
	for i := len(data); i < len(prev); i++ {
		if prev[i] != 0 {
			changes = append(changes, DMXCommand{Channel: uint16(i), Value: 0})
		}
	}
	c.last[universe] = append(prev[:0], data...)
	c.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	c.publish(c.OutputTopic(universe), changes)
}

// SendFeedback publishes a feedback value for universe.
func (c *ClientMQTT) SendFeedback(universe, channel uint32, value uint8) {
	if c.client == nil || !c.client.IsConnected() {
		c.log.Debugf("feedback %d/%d dropped: not connected", universe, channel)
		return
	}
	c.publish(c.FeedbackTopic(universe), Feedback{Universe: universe, Channel: channel, Value: value})
}
