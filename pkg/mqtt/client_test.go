package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/places"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	publishErr error
	messages   []published
	opts       *MQTT.ClientOptions
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() MQTT.Token    { return &fakeToken{err: c.connectErr} }
func (c *fakeClient) Disconnect(uint)        {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(string, byte, MQTT.MessageHandler) MQTT.Token            { return &fakeToken{} }
func (c *fakeClient) SubscribeMultiple(map[string]byte, MQTT.MessageHandler) MQTT.Token { return &fakeToken{} }
func (c *fakeClient) Unsubscribe(...string) MQTT.Token                                  { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, MQTT.MessageHandler)                              {}
func (c *fakeClient) OptionsReader() MQTT.ClientOptionsReader                           { return MQTT.ClientOptionsReader{} }

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func newTestPublisher(t *testing.T, config *Config) (*Publisher, *fakeClient) {
	t.Helper()
	fake := &fakeClient{}
	p := NewPublisher(config, nil)
	require.NotNil(t, p)
	p.newClient = func(opts *MQTT.ClientOptions) MQTT.Client {
		fake.opts = opts
		return fake
	}
	return p, fake
}

func enabledConfig() *Config {
	config := DefaultConfig()
	config.Enabled = true
	config.Username = "user"
	config.Password = "secret"
	return config
}

func TestDisabledPublisherIsNil(t *testing.T) {
	p := NewPublisher(DefaultConfig(), nil)
	assert.Nil(t, p)

	assert.NoError(t, p.Connect())
	assert.NoError(t, p.PublishLocation("[1 - 2]"))
	assert.False(t, p.IsConnected())
	p.Disconnect()
}

func TestPublishBeforeConnectIsSkipped(t *testing.T) {
	p, fake := newTestPublisher(t, enabledConfig())

	require.NoError(t, p.PublishLocation("[1 - 2]"))
	assert.Empty(t, fake.sent())
}

func TestPublishSampleLocationAndPlace(t *testing.T) {
	p, fake := newTestPublisher(t, enabledConfig())
	require.NoError(t, p.Connect())
	assert.True(t, p.IsConnected())
	assert.Equal(t, []string{"tcp://localhost:1883"}, brokers(fake.opts))
	assert.Equal(t, "user", fake.opts.Username)

	sample := location.NewSample(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), 59.3, 18.1, 12, location.GPSProvider)
	require.NoError(t, p.PublishSample(sample))
	require.NoError(t, p.PublishLocation(sample.String()))
	require.NoError(t, p.PublishPlace(places.Place{Name: "Place 1", Location: sample}))

	sent := fake.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "livedatabus/location/sample", sent[0].topic)
	assert.Equal(t, "livedatabus/location/formatted", sent[1].topic)
	assert.Equal(t, "livedatabus/places", sent[2].topic)
	assert.Equal(t, byte(1), sent[0].qos)

	var payload struct {
		Sample location.Sample `json:"sample"`
	}
	require.NoError(t, json.Unmarshal(sent[0].payload, &payload))
	assert.Equal(t, sample, payload.Sample)

	assert.False(t, p.LastPublish().IsZero())
	p.Disconnect()
	assert.False(t, p.IsConnected())
}

func TestPublishErrorsAreReturned(t *testing.T) {
	p, fake := newTestPublisher(t, enabledConfig())
	fake.publishErr = errors.New("broker gone")
	require.NoError(t, p.Connect())

	err := p.PublishLocation("[]")
	assert.ErrorContains(t, err, "livedatabus/location/formatted")
}

func TestConnectError(t *testing.T) {
	p, fake := newTestPublisher(t, enabledConfig())
	fake.connectErr = errors.New("refused")

	assert.ErrorContains(t, p.Connect(), "refused")
	assert.False(t, p.IsConnected())
}

func TestRateLimitDropsExcess(t *testing.T) {
	config := enabledConfig()
	config.MaxPerSecond = 2
	p, fake := newTestPublisher(t, config)
	require.NoError(t, p.Connect())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.PublishLocation("[]"))
	}

	assert.Len(t, fake.sent(), 2)
	assert.Equal(t, 3, p.Dropped())
}

func brokers(opts *MQTT.ClientOptions) []string {
	var out []string
	for _, u := range opts.Servers {
		out = append(out, u.String())
	}
	return out
}
