// Package config loads the daemon configuration from a UCI-style file:
//
//	config livedatabus 'main'
//		option log_level 'info'
//		option provider 'gps'
//
// A missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/api"
	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/mqtt"
	"github.com/markus-lassfolk/livedatabus/pkg/places"
	"github.com/markus-lassfolk/livedatabus/pkg/provider"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/config/livedatabus"

// Permission modes.
const (
	PermissionGranted = "granted"
	PermissionPrompt  = "prompt"
	PermissionDenied  = "denied"
)

// Activation modes: who starts and stops the location provider.
const (
	// ActivationObservers starts the provider while the location bus has
	// active observers.
	ActivationObservers = "observers"
	// ActivationLifecycle starts the provider while the host is at least
	// Started, independently of observers.
	ActivationLifecycle = "lifecycle"
)

// Place backends.
const (
	PlacesSimulated = "simulated"
	PlacesSQLite    = "sqlite"
	PlacesGeocode   = "geocode"
	PlacesOff       = "off"
)

// Config is the daemon configuration.
type Config struct {
	// main
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	Provider   string `json:"provider"`
	Permission string `json:"permission"`
	FilterMode string `json:"filter_mode"`
	Activation string `json:"activation"`

	Replay ReplayConfig `json:"replay"`
	MQTT   MQTTConfig   `json:"mqtt"`
	Places PlacesConfig `json:"places"`
	API    APIConfig    `json:"api"`
}

// ReplayConfig selects the recorded trace the replay provider plays.
type ReplayConfig struct {
	TracePath  string `json:"trace_path"`
	TraceName  string `json:"trace_name"`
	IntervalMS int    `json:"interval_ms"`
	Loop       bool   `json:"loop"`
	Restamp    bool   `json:"restamp"`
}

// MQTTConfig mirrors mqtt.Config.
type MQTTConfig struct {
	Enabled      bool   `json:"enabled"`
	Broker       string `json:"broker"`
	Port         int    `json:"port"`
	ClientID     string `json:"client_id"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	TopicPrefix  string `json:"topic_prefix"`
	QoS          int    `json:"qos"`
	Retain       bool   `json:"retain"`
	MaxPerSecond int    `json:"max_per_second"`
}

// PlacesConfig selects and configures the place lookup backend.
type PlacesConfig struct {
	Backend      string  `json:"backend"`
	DatabasePath string  `json:"database_path"`
	GoogleAPIKey string  `json:"google_api_key"`
	SearchRadius float64 `json:"search_radius_m"`
	MaxResults   int     `json:"max_results"`
}

// APIConfig controls the HTTP listener serving values and metrics.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	AuthKey string `json:"auth_key"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.Provider = location.NetworkProvider
	c.Permission = PermissionPrompt
	c.FilterMode = livedata.DropRejected.String()
	c.Activation = ActivationObservers

	c.Replay = ReplayConfig{
		TracePath:  "/var/lib/livedatabus/traces.db",
		IntervalMS: 1000,
		Loop:       true,
		Restamp:    true,
	}

	mq := mqtt.DefaultConfig()
	c.MQTT = MQTTConfig{
		Enabled:      mq.Enabled,
		Broker:       mq.Broker,
		Port:         mq.Port,
		ClientID:     mq.ClientID,
		TopicPrefix:  mq.TopicPrefix,
		QoS:          mq.QoS,
		Retain:       mq.Retain,
		MaxPerSecond: mq.MaxPerSecond,
	}

	sq := places.DefaultSQLiteConfig()
	c.Places = PlacesConfig{
		Backend:      PlacesSimulated,
		DatabasePath: sq.DatabasePath,
		SearchRadius: sq.SearchRadius,
		MaxResults:   sq.MaxResults,
	}

	c.API = APIConfig{Listen: api.DefaultConfig().Listen}
}

// LoadConfig reads path. A missing file yields the defaults; a file that
// fails validation is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseUCI(path); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sectionType string
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest := splitField(line)
		switch keyword {
		case "config":
			sectionType, _ = splitField(rest)
			sectionType = unquote(sectionType)
		case "option":
			name, value := splitField(rest)
			if name == "" {
				return fmt.Errorf("line %d: option without name", n+1)
			}
			if err := c.parseOption(sectionType, name, unquote(value)); err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
		case "list":
			// list options are not used by the daemon
		default:
			return fmt.Errorf("line %d: unexpected %q", n+1, keyword)
		}
	}
	return nil
}

func (c *Config) parseOption(sectionType, option, value string) error {
	switch sectionType {
	case "livedatabus", "":
		return c.parseMainOption(option, value)
	case "replay":
		return c.parseReplayOption(option, value)
	case "mqtt":
		return c.parseMQTTOption(option, value)
	case "places":
		return c.parsePlacesOption(option, value)
	case "api":
		return c.parseAPIOption(option, value)
	}
	// unknown sections are left to other tools sharing the file
	return nil
}

func (c *Config) parseMainOption(option, value string) error {
	switch option {
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	case "provider":
		c.Provider = value
	case "permission":
		c.Permission = value
	case "filter_mode":
		c.FilterMode = value
	case "activation":
		c.Activation = value
	}
	return nil
}

func (c *Config) parseReplayOption(option, value string) (err error) {
	switch option {
	case "trace_path":
		c.Replay.TracePath = value
	case "trace_name":
		c.Replay.TraceName = value
	case "interval_ms":
		c.Replay.IntervalMS, err = parseInt(option, value)
	case "loop":
		c.Replay.Loop = parseBool(value)
	case "restamp":
		c.Replay.Restamp = parseBool(value)
	}
	return err
}

func (c *Config) parseMQTTOption(option, value string) (err error) {
	switch option {
	case "enabled":
		c.MQTT.Enabled = parseBool(value)
	case "broker":
		c.MQTT.Broker = value
	case "port":
		c.MQTT.Port, err = parseInt(option, value)
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "qos":
		c.MQTT.QoS, err = parseInt(option, value)
	case "retain":
		c.MQTT.Retain = parseBool(value)
	case "max_per_second":
		c.MQTT.MaxPerSecond, err = parseInt(option, value)
	}
	return err
}

func (c *Config) parsePlacesOption(option, value string) (err error) {
	switch option {
	case "backend":
		c.Places.Backend = value
	case "database_path":
		c.Places.DatabasePath = value
	case "google_api_key":
		c.Places.GoogleAPIKey = value
	case "search_radius_m":
		c.Places.SearchRadius, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("invalid %s %q: %w", option, value, err)
		}
	case "max_results":
		c.Places.MaxResults, err = parseInt(option, value)
	}
	return err
}

func (c *Config) parseAPIOption(option, value string) error {
	switch option {
	case "enabled":
		c.API.Enabled = parseBool(value)
	case "listen":
		c.API.Listen = value
	case "auth_key":
		c.API.AuthKey = value
	}
	return nil
}

// Validate checks the values that cannot be fixed up silently.
func (c *Config) Validate() error {
	if !isOneOf(c.LogLevel, "debug", "info", "warn", "error") {
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if !isOneOf(c.LogFormat, "json", "text") {
		return fmt.Errorf("log_format must be json or text")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider must not be empty")
	}
	if !isOneOf(c.Permission, PermissionGranted, PermissionPrompt, PermissionDenied) {
		return fmt.Errorf("permission must be one of granted, prompt, denied")
	}
	if _, err := livedata.ParseFilterMode(c.FilterMode); err != nil {
		return err
	}
	if !isOneOf(c.Activation, ActivationObservers, ActivationLifecycle) {
		return fmt.Errorf("activation must be observers or lifecycle")
	}
	if c.Replay.IntervalMS < 10 || c.Replay.IntervalMS > 3600000 {
		return fmt.Errorf("interval_ms must be between 10 and 3600000")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker must be set when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}
	if !isOneOf(c.Places.Backend, PlacesSimulated, PlacesSQLite, PlacesGeocode, PlacesOff) {
		return fmt.Errorf("places backend must be one of simulated, sqlite, geocode, off")
	}
	if c.Places.Backend == PlacesGeocode && c.Places.GoogleAPIKey == "" {
		return fmt.Errorf("google_api_key is required for the geocode backend")
	}
	if c.Places.SearchRadius <= 0 {
		return fmt.Errorf("search_radius_m must be positive")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api listen address must be set when the api is enabled")
	}
	return nil
}

// FilterModeValue returns the parsed filter mode.
func (c *Config) FilterModeValue() livedata.FilterMode {
	mode, _ := livedata.ParseFilterMode(c.FilterMode)
	return mode
}

// APIServerConfig converts the api section.
func (c *Config) APIServerConfig() *api.Config {
	return &api.Config{Enabled: c.API.Enabled, Listen: c.API.Listen, AuthKey: c.API.AuthKey}
}

// ReplayProviderConfig converts the replay section.
func (c *Config) ReplayProviderConfig() *provider.ReplayConfig {
	return &provider.ReplayConfig{
		Interval: time.Duration(c.Replay.IntervalMS) * time.Millisecond,
		Loop:     c.Replay.Loop,
		Restamp:  c.Replay.Restamp,
	}
}

// MQTTPublisherConfig converts the mqtt section.
func (c *Config) MQTTPublisherConfig() *mqtt.Config {
	return &mqtt.Config{
		Broker:       c.MQTT.Broker,
		Port:         c.MQTT.Port,
		ClientID:     c.MQTT.ClientID,
		Username:     c.MQTT.Username,
		Password:     c.MQTT.Password,
		TopicPrefix:  c.MQTT.TopicPrefix,
		QoS:          c.MQTT.QoS,
		Retain:       c.MQTT.Retain,
		Enabled:      c.MQTT.Enabled,
		MaxPerSecond: c.MQTT.MaxPerSecond,
	}
}

// SQLitePlacesConfig converts the places section for the sqlite backend.
func (c *Config) SQLitePlacesConfig(executor livedata.Executor) *places.SQLiteConfig {
	sq := places.DefaultSQLiteConfig()
	sq.DatabasePath = c.Places.DatabasePath
	sq.SearchRadius = c.Places.SearchRadius
	sq.MaxResults = c.Places.MaxResults
	sq.Executor = executor
	return sq
}

// GeocodePlacesConfig converts the places section for the geocode backend.
func (c *Config) GeocodePlacesConfig(executor livedata.Executor) *places.GeocodeConfig {
	gc := places.DefaultGeocodeConfig()
	gc.APIKey = c.Places.GoogleAPIKey
	if c.Places.MaxResults > 0 {
		gc.MaxResults = c.Places.MaxResults
	}
	gc.Executor = executor
	return gc
}

func splitField(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on", "enabled":
		return true
	}
	return false
}

func parseInt(option, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", option, value, err)
	}
	return v, nil
}

func isOneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}
