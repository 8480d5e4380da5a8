// Package mqttpub mirrors the device's event lines onto an MQTT broker, one
// topic per event name.
package mqttpub

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/inspec/internal/monitoring"
)

// DefaultTopicPrefix is prepended to every event name.
const DefaultTopicPrefix = "inspec"

// Config describes the broker connection.
type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string

	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "inspec"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	c.TopicPrefix = strings.TrimRight(c.TopicPrefix, "/")
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	return c
}

// Stats counts publish outcomes.
type Stats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Publisher sends name:value events as retained-free messages. Publish never
// blocks the caller; delivery is confirmed on a helper goroutine.
type Publisher struct {
	client mqtt.Client
	cfg    Config

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
	wg        sync.WaitGroup
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection lost, reconnecting: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return NewPublisher(client, cfg), nil
}

// NewPublisher wraps an already configured client.
func NewPublisher(client mqtt.Client, cfg Config) *Publisher {
	return &Publisher{
		client:    client,
		cfg:       cfg.withDefaults(),
		published: make(map[string]uint64),
	}
}

// Topic returns the topic an event is published to.
func (p *Publisher) Topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

// Publish sends value on the event's topic. While the broker is unreachable
// events are counted as errors and dropped.
func (p *Publisher) Publish(name, value string) {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()
		return
	}
	topic := p.Topic(name)
	token := p.client.Publish(topic, p.cfg.QoS, false, value)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.await(topic, token)
	}()
}

func (p *Publisher) await(topic string, token mqtt.Token) {
	var err error
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		err = fmt.Errorf("timeout after %v", p.cfg.PublishTimeout)
	} else {
		err = token.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errors++
		monitoring.Logf("mqtt: publish %s: %v", topic, err)
		return
	}
	p.published[topic]++
}

// Stats returns a copy of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Stats{Published: make(map[string]uint64, len(p.published)), Errors: p.errors}
	for k, v := range p.published {
		out.Published[k] = v
	}
	return out
}

// Close waits for outstanding publishes and disconnects.
func (p *Publisher) Close() {
	p.wg.Wait()
	p.client.Disconnect(250)
}
