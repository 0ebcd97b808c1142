// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package eventhorizon

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the tarpit process configuration. With the EH_ prefix a field
// such as MQTT.MaxClients is read from EH_MQTT_MAX_CLIENTS.
type Config struct {
	Log    LogConfig    `envPrefix:"LOG_"`
	Notify NotifyConfig `envPrefix:"NOTIFY_"`
	Health HealthConfig `envPrefix:"HEALTH_"`
	CoAP   CoAPConfig   `envPrefix:"COAP_"`
	MQTT   MQTTConfig   `envPrefix:"MQTT_"`
	Telnet TelnetConfig `envPrefix:"TELNET_"`
	UPnP   UPnPConfig   `envPrefix:"UPNP_"`
}

type LogConfig struct {
	Level      string `env:"LEVEL"       envDefault:"info"`
	Format     string `env:"FORMAT"      envDefault:"json"`
	File       string `env:"FILE"`
	MaxSize    int    `env:"MAX_SIZE"    envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAge     int    `env:"MAX_AGE"     envDefault:"28"`
	Compress   bool   `env:"COMPRESS"    envDefault:"false"`

	// EventsLevel is the level events are logged at. Set it below Level to
	// keep events out of the log.
	EventsLevel string `env:"EVENTS_LEVEL" envDefault:"info"`
}

type NotifyConfig struct {
	Enabled      bool          `env:"ENABLED"       envDefault:"true"`
	Socket       string        `env:"SOCKET"        envDefault:"/tmp/tarpit_exporter.sock"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"50ms"`
	MaxFailures  int           `env:"MAX_FAILURES"  envDefault:"5"`
	ResetTimeout time.Duration `env:"RESET_TIMEOUT" envDefault:"30s"`
}

// HealthConfig configures the health endpoints. An empty Port disables them.
type HealthConfig struct {
	Port     string        `env:"PORT"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10s"`
}

// RateLimitConfig configures per source IP admission. A zero Capacity
// disables it.
type RateLimitConfig struct {
	Capacity int64   `env:"CAPACITY" envDefault:"16"`
	Refill   float64 `env:"REFILL"   envDefault:"4"`
	MaxKeys  int     `env:"MAX_KEYS" envDefault:"65536"`
}

type CoAPConfig struct {
	Enabled       bool            `env:"ENABLED"        envDefault:"true"`
	Host          string          `env:"HOST"`
	Port          string          `env:"PORT"           envDefault:"5683"`
	Delay         time.Duration   `env:"DELAY"          envDefault:"1000ms"`
	AckTimeout    time.Duration   `env:"ACK_TIMEOUT"    envDefault:"2000ms"`
	MaxRetransmit int             `env:"MAX_RETRANSMIT" envDefault:"4"`
	MaxClients    int             `env:"MAX_CLIENTS"    envDefault:"4096"`
	RateLimit     RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

type MQTTConfig struct {
	Enabled        bool            `env:"ENABLED"         envDefault:"true"`
	Host           string          `env:"HOST"`
	Port           string          `env:"PORT"            envDefault:"1883"`
	MaxEvents      int             `env:"MAX_EVENTS"      envDefault:"4096"`
	WaitTimeout    time.Duration   `env:"WAIT_TIMEOUT"    envDefault:"5000ms"`
	PubrelInterval time.Duration   `env:"PUBREL_INTERVAL" envDefault:"10000ms"`
	MaxPackets     int             `env:"MAX_PACKETS"     envDefault:"50"`
	MaxClients     int             `env:"MAX_CLIENTS"     envDefault:"4096"`
	BufferSize     int             `env:"BUFFER_SIZE"     envDefault:"1024"`
	WSPort         string          `env:"WS_PORT"`
	WSPath         string          `env:"WS_PATH"         envDefault:"/mqtt"`
	CertFile       string          `env:"CERT_FILE"`
	KeyFile        string          `env:"KEY_FILE"`
	RateLimit      RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

type TelnetConfig struct {
	Enabled    bool            `env:"ENABLED"     envDefault:"true"`
	Host       string          `env:"HOST"`
	Port       string          `env:"PORT"        envDefault:"2323"`
	Delay      time.Duration   `env:"DELAY"       envDefault:"10000ms"`
	MaxClients int             `env:"MAX_CLIENTS" envDefault:"4096"`
	RateLimit  RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

type UPnPConfig struct {
	Enabled       bool            `env:"ENABLED"        envDefault:"true"`
	Host          string          `env:"HOST"`
	HTTPPort      string          `env:"HTTP_PORT"      envDefault:"8080"`
	SSDPPort      string          `env:"SSDP_PORT"      envDefault:"1900"`
	AdvertiseHost string          `env:"ADVERTISE_HOST"`
	Delay         time.Duration   `env:"DELAY"          envDefault:"10000ms"`
	MaxClients    int             `env:"MAX_CLIENTS"    envDefault:"4096"`
	RateLimit     RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TLS loads the MQTT certificate. It returns nil when no certificate is
// configured.
func (c MQTTConfig) TLS() (*tls.Config, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load MQTT certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
