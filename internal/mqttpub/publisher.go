// Package mqttpub publishes parsed sensor state and device availability to an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/parser"
)

// ErrStopped is returned after Close
var ErrStopped = errors.New("mqtt publisher stopped")

// Config holds the broker settings
type Config struct {
	Broker         string        `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID       string        `yaml:"client_id" default:"blehub"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"blehub"`
	// QoS is nil when unset; an explicit 0 is kept
	QoS            *byte         `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
}

// DefaultQoS is used when Config.QoS is unset
const DefaultQoS byte = 1

// EffectiveQoS returns the configured QoS or DefaultQoS
func (c Config) EffectiveQoS() byte {
	if c.QoS == nil {
		return DefaultQoS
	}
	return *c.QoS
}

// Client is the part of mqtt.Client the publisher needs
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// State is the payload of a device state message
type State struct {
	Address    string                `json:"address"`
	Name       string                `json:"name,omitempty"`
	DeviceType string                `json:"type,omitempty"`
	RSSI       int                   `json:"rssi"`
	Timestamp  time.Time             `json:"timestamp"`
	Sensors    []parser.SensorUpdate `json:"sensors"`
}

type Publisher struct {
	client Client
	cfg    Config
	logger *logrus.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a publisher backed by a paho client with auto reconnect
func New(cfg Config, logger *logrus.Logger) *Publisher {
	defaults.SetDefaults(&cfg)
	if logger == nil {
		logger = logrus.New()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	return NewWithClient(mqtt.NewClient(opts), cfg, logger)
}

// NewWithClient creates a publisher on top of an existing client
func NewWithClient(client Client, cfg Config, logger *logrus.Logger) *Publisher {
	defaults.SetDefaults(&cfg)
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Connect waits for the initial connection, honoring ctx and Close
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// DeviceTopic returns the topic root of a device: <prefix>/<address without colons>
func (p *Publisher) DeviceTopic(address string) string {
	return p.cfg.TopicPrefix + "/" + strings.ToLower(strings.ReplaceAll(address, ":", ""))
}

// PublishState publishes the device state to <device topic>/state
func (p *Publisher) PublishState(state State) error {
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}
	if state.Sensors == nil {
		state.Sensors = []parser.SensorUpdate{}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return p.publish(p.DeviceTopic(state.Address)+"/state", false, data)
}

// PublishAvailability publishes a retained online/offline marker to <device topic>/availability
func (p *Publisher) PublishAvailability(address string, available bool) error {
	payload := "offline"
	if available {
		payload = "online"
	}
	return p.publish(p.DeviceTopic(address)+"/availability", true, []byte(payload))
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := p.client.Publish(topic, p.cfg.EffectiveQoS(), retained, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to publish")
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.WithField("topic", topic).Debug("Published")
	return nil
}

// Close disconnects from the broker. It is safe to call more than once.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.client.Disconnect(250)
		p.logger.Info("MQTT disconnected")
	})
}
