package sink

import (
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/log"
)

var errMQTTOffline = errors.New("mqtt broker not connected")

// MQTT publishes each record as one message.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTT connects to the broker in the background; records emitted while
// offline are reported as write failures.
func NewMQTT(cfg config.MQTTSinkConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetConnectTimeout(timeout).
		SetConnectRetry(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			log.GetLogger().WithField("broker", cfg.Broker).Info("mqtt sink connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.GetLogger().WithError(err).Warn("mqtt sink disconnected")
		})

	m := newMQTTWith(mqtt.NewClient(opts), cfg.Topic, cfg.QoS)
	if token := m.client.Connect(); token.WaitTimeout(timeout) && token.Error() != nil {
		log.GetLogger().WithError(token.Error()).Warn("mqtt sink connect failed, retrying in background")
	}
	return m, nil
}

func newMQTTWith(client mqtt.Client, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Write(line string) error {
	if !m.client.IsConnectionOpen() {
		return errMQTTOffline
	}
	m.client.Publish(m.topic, m.qos, false, line)
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
