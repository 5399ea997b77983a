package clientmqtt

type MQTTConf struct {
	ClientID string // ClientID - unique client name for the broker.
	Schema   string // Schema - connection type.
	Host     string // Host - MQTT server address.
	Port     string // Port - MQTT server port.
	User     string // User - MQTT server login.
	Password string // Password - MQTT server password.
	Qos      byte   // Qos - quality of service for publish and subscribe.
	Prefix   string // Prefix - first level of every topic.
}

type nameTopic string

// DataCh carries channel commands received for one universe.
type DataCh struct {
	Universe uint32
	Data     Payload
}

type DMXCommand struct {
	Channel uint16 // Channel is the channel a command can talk to (0-511).
	Value   uint8  // Value is the value a DMX channel can represent (0-255).
}

type Payload []DMXCommand

// Feedback is published when a universe feedback value is sent.
type Feedback struct {
	Universe uint32
	Channel  uint32
	Value    uint8
}
