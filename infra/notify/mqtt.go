// Package notify pushes assignment notifications to field crews.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldops/fsd/core/events"
	"github.com/fieldops/fsd/core/logger"
)

// Config defines the connection parameters for the MQTT notifier.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Retain      bool   `json:"retain"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "fsd-scheduler"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fsd/assignments"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTNotifier publishes one JSON message per scheduled assignment on
// <prefix>/<resource_id>, so each crew's device subscribes only to its
// own topic.
type MQTTNotifier struct {
	cli    pahoClient
	prefix string
	qos    byte
	retain bool
	log    logger.Logger
}

// NewMQTTNotifier connects to the broker with auto-reconnect enabled.
func NewMQTTNotifier(cfg Config, log logger.Logger) (*MQTTNotifier, error) {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	cli := newMQTTClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	log.Infof("mqtt notifier connected to %s", cfg.Broker)
	return &MQTTNotifier{
		cli:    cli,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		retain: cfg.Retain,
		log:    log,
	}, nil
}

// NotifyScheduled publishes the assignment to the crew's topic.
func (n *MQTTNotifier) NotifyScheduled(ctx context.Context, ev events.ScheduledEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", n.prefix, ev.ResourceID)
	token := n.cli.Publish(topic, n.qos, n.retain, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	n.log.Debugf("published assignment %s to %s", ev.AppointmentID, topic)
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.cli.Disconnect(250)
}
