package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livedatabus")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, location.NetworkProvider, cfg.Provider)
	assert.Equal(t, PermissionPrompt, cfg.Permission)
	assert.Equal(t, livedata.DropRejected, cfg.FilterModeValue())
	assert.Equal(t, ActivationObservers, cfg.Activation)
	assert.False(t, cfg.MQTT.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigParsesSections(t *testing.T) {
	path := writeConfig(t, `
# livedatabus daemon
config livedatabus 'main'
	option log_level 'debug'
	option provider "gps"
	option permission 'granted'
	option filter_mode 'reemit'
	option activation 'lifecycle'

config replay 'replay'
	option trace_path '/tmp/traces.db'
	option trace_name 'commute'
	option interval_ms '250'
	option loop '0'

config mqtt 'mqtt'
	option enabled '1'
	option broker 'broker.lan'
	option port '8883'
	option topic_prefix 'car/location'
	option qos '0'

config places 'places'
	option backend 'sqlite'
	option database_path '/tmp/places.db'
	option search_radius_m '750.5'

config api 'api'
	option enabled 'yes'
	option listen '127.0.0.1:9200'
	option auth_key 'sekrit'

config other 'ignored'
	option anything 'goes here'
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, location.GPSProvider, cfg.Provider)
	assert.Equal(t, PermissionGranted, cfg.Permission)
	assert.Equal(t, livedata.ReemitPrevious, cfg.FilterModeValue())
	assert.Equal(t, ActivationLifecycle, cfg.Activation)

	rc := cfg.ReplayProviderConfig()
	assert.Equal(t, 250*time.Millisecond, rc.Interval)
	assert.False(t, rc.Loop)
	assert.True(t, rc.Restamp)
	assert.Equal(t, "commute", cfg.Replay.TraceName)

	mc := cfg.MQTTPublisherConfig()
	assert.True(t, mc.Enabled)
	assert.Equal(t, "broker.lan", mc.Broker)
	assert.Equal(t, 8883, mc.Port)
	assert.Equal(t, "car/location", mc.TopicPrefix)
	assert.Zero(t, mc.QoS)
	assert.Equal(t, "livedatabusd", mc.ClientID)

	sq := cfg.SQLitePlacesConfig(nil)
	assert.Equal(t, "/tmp/places.db", sq.DatabasePath)
	assert.Equal(t, 750.5, sq.SearchRadius)

	ac := cfg.APIServerConfig()
	assert.True(t, ac.Enabled)
	assert.Equal(t, "127.0.0.1:9200", ac.Listen)
	assert.Equal(t, "sekrit", ac.AuthKey)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"log level":   "config livedatabus 'main'\n\toption log_level 'loud'\n",
		"filter mode": "config livedatabus 'main'\n\toption filter_mode 'sometimes'\n",
		"permission":  "config livedatabus 'main'\n\toption permission 'maybe'\n",
		"activation":  "config livedatabus 'main'\n\toption activation 'always'\n",
		"interval":    "config replay 'replay'\n\toption interval_ms '1'\n",
		"mqtt qos":    "config mqtt 'mqtt'\n\toption enabled '1'\n\toption qos '3'\n",
		"geocode key": "config places 'places'\n\toption backend 'geocode'\n",
		"radius":      "config places 'places'\n\toption search_radius_m '0'\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.ErrorContains(t, err, "validation failed")
		})
	}
}

func TestLoadConfigRejectsMalformedLines(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "config mqtt 'mqtt'\n\toption port 'eighty'\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = LoadConfig(writeConfig(t, "config mqtt 'mqtt'\n\tlist servers 'a'\n\tenable it\n"))
	assert.ErrorContains(t, err, "unexpected")
}

func TestGeocodePlacesConfig(t *testing.T) {
	cfg := Default()
	cfg.Places.GoogleAPIKey = "key"
	cfg.Places.MaxResults = 2

	gc := cfg.GeocodePlacesConfig(livedata.Immediate)
	assert.Equal(t, "key", gc.APIKey)
	assert.Equal(t, 2, gc.MaxResults)
	assert.NotNil(t, gc.Executor)
}
