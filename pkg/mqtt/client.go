// Package mqtt publishes bus values to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/places"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`

	// MaxPerSecond caps publishes; excess messages are dropped.
	MaxPerSecond int `json:"max_per_second"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:       "localhost",
		Port:         1883,
		ClientID:     "livedatabusd",
		TopicPrefix:  "livedatabus",
		QoS:          1,
		Enabled:      false,
		MaxPerSecond: 10,
	}
}

// Publisher sends samples, formatted locations and places to the broker.
// A nil *Publisher is valid and publishes nothing.
type Publisher struct {
	config  *Config
	logger  *logx.Logger
	limiter *rateLimiter

	newClient func(*MQTT.ClientOptions) MQTT.Client

	mu          sync.RWMutex
	client      MQTT.Client
	connected   bool
	lastPublish time.Time
	dropped     int
}

const connectTimeout = 10 * time.Second

// NewPublisher returns nil when publishing is disabled.
func NewPublisher(config *Config, logger *logx.Logger) *Publisher {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Publisher{
		config:    config,
		logger:    logger,
		limiter:   newRateLimiter(config.MaxPerSecond, time.Second),
		newClient: MQTT.NewClient,
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own afterwards.
func (p *Publisher) Connect() error {
	if p == nil {
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	client := p.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker: timed out after %s", connectTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.mu.Lock()
	p.client = client
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("MQTT client connected", "broker", p.config.Broker, "port", p.config.Port)
	return nil
}

// Disconnect closes the broker connection.
func (p *Publisher) Disconnect() {
	if p == nil {
		return
	}
	p.mu.Lock()
	client := p.client
	wasConnected := p.connected
	p.client = nil
	p.connected = false
	p.mu.Unlock()

	if client != nil && wasConnected {
		client.Disconnect(250)
		p.logger.Info("MQTT client disconnected")
	}
}

func (p *Publisher) onConnect(MQTT.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.logger.Info("MQTT connection established")
}

func (p *Publisher) onConnectionLost(_ MQTT.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.logger.Error("MQTT connection lost", "error", err)
}

// PublishSample publishes an accepted sample.
func (p *Publisher) PublishSample(s location.Sample) error {
	return p.publish("location/sample", map[string]interface{}{
		"timestamp": s.Time(),
		"sample":    s,
	})
}

// PublishLocation publishes the formatted location.
func (p *Publisher) PublishLocation(formatted string) error {
	return p.publish("location/formatted", map[string]interface{}{
		"timestamp": time.Now(),
		"location":  formatted,
	})
}

// PublishPlace publishes a place found near the current location.
func (p *Publisher) PublishPlace(place places.Place) error {
	return p.publish("places", map[string]interface{}{
		"timestamp": place.Location.Time(),
		"place":     place,
	})
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// LastPublish returns the time of the last successful publish.
func (p *Publisher) LastPublish() time.Time {
	if p == nil {
		return time.Time{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPublish
}

// Dropped returns the number of messages dropped by the rate limit.
func (p *Publisher) Dropped() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dropped
}

// Topic returns the full topic for suffix.
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.config.TopicPrefix, suffix)
}

func (p *Publisher) publish(suffix string, payload interface{}) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()
	if client == nil || !connected {
		return nil
	}

	topic := p.Topic(suffix)
	if !p.limiter.Allow() {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Debug("rate limit exceeded, dropping message", "topic", topic)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	p.mu.Lock()
	p.lastPublish = time.Now()
	p.mu.Unlock()
	p.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

// rateLimiter allows maxMessages per window. A non-positive maxMessages
// disables limiting.
type rateLimiter struct {
	mu           sync.Mutex
	lastCheck    time.Time
	messageCount int
	maxMessages  int
	windowSize   time.Duration
}

func newRateLimiter(maxMessages int, window time.Duration) *rateLimiter {
	return &rateLimiter{maxMessages: maxMessages, windowSize: window}
}

func (rl *rateLimiter) Allow() bool {
	if rl.maxMessages <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCheck) >= rl.windowSize {
		rl.messageCount = 0
		rl.lastCheck = now
	}
	if rl.messageCount < rl.maxMessages {
		rl.messageCount++
		return true
	}
	return false
}
