// Package config loads the relay's runtime settings via viper, following
// the functional-default pattern the rest of this codebase uses for
// per-component Options.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wimz-robotics/cloud-relay/xhttp"
)

// Default knob values. Named Default* to match the rest of the codebase's
// convention of exporting the zero-value fallback alongside the field it
// backs.
const (
	DefaultWSPingInterval          = 30 * time.Second
	DefaultWSPongTimeout           = 60 * time.Second
	DefaultMaxFrameSize            = 20 * 1024 * 1024 // 20MiB absolute transport cap
	DefaultSoftFrameSize           = 1 * 1024 * 1024  // 1MiB soft cap enforced by the router
	DefaultTURNTTL                 = 24 * time.Hour
	DefaultRateLimitMaxCommands    = 30
	DefaultRateLimitWindow         = 60 * time.Second
	DefaultDiversityThreshold      = 5
	DefaultDiversityWindow         = 10 * time.Second
	DefaultGracePeriod             = 600 * time.Second
	DefaultStaleCommandAge         = 2000 * time.Millisecond
	DefaultJWTAlgorithm            = "HS256"
	DefaultJWTExpiry               = 24 * time.Hour
	DefaultTURNProviderPath        = "/v1/turn/keys"
	DefaultMaxConnections          = 10000
	DefaultTURNRetries             = 2
)

// Config holds every settable knob named in spec.md §6 "Configuration".
type Config struct {
	// DeviceHMACSecret is the shared secret used to verify robot signatures.
	DeviceHMACSecret string `mapstructure:"device_hmac_secret"`

	// TokenSigningKey and TokenAlgorithm back bearer-token verification.
	TokenSigningKey string        `mapstructure:"token_signing_key"`
	TokenAlgorithm  string        `mapstructure:"token_algorithm"`
	TokenLifetime   time.Duration `mapstructure:"token_lifetime"`

	WSPingInterval time.Duration `mapstructure:"ws_ping_interval"`
	WSPongTimeout  time.Duration `mapstructure:"ws_pong_timeout"`

	MaxFrameSize  int `mapstructure:"max_frame_size"`
	SoftFrameSize int `mapstructure:"soft_frame_size"`

	TURNProviderURL   string        `mapstructure:"turn_provider_url"`
	TURNProviderToken string        `mapstructure:"turn_provider_token"`
	TURNTTL           time.Duration `mapstructure:"turn_ttl"`

	RateLimitMaxCommands int           `mapstructure:"rate_limit_max_commands"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window"`
	DiversityThreshold   int           `mapstructure:"diversity_threshold"`
	DiversityWindow      time.Duration `mapstructure:"diversity_window"`

	GracePeriod     time.Duration `mapstructure:"grace_period"`
	StaleCommandAge time.Duration `mapstructure:"stale_command_age"`

	// MaxConnections caps the number of WebSocket connections (robot and
	// app combined) the process will hold upgraded at once; via xhttp.Busy,
	// requests past the cap wait for a free slot and are answered 503 if
	// their context ends first.
	MaxConnections int `mapstructure:"max_connections"`

	// TURNRetries is the number of retries the TURN client's HTTP
	// transactor attempts on a temporary network error.
	TURNRetries int `mapstructure:"turn_retries"`

	ListenAddr string `mapstructure:"listen_addr"`
}

// withDefaults fills in any zero-valued field with the documented default.
func (c *Config) withDefaults() *Config {
	if c.WSPingInterval <= 0 {
		c.WSPingInterval = DefaultWSPingInterval
	}
	if c.WSPongTimeout <= 0 {
		c.WSPongTimeout = DefaultWSPongTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.SoftFrameSize <= 0 {
		c.SoftFrameSize = DefaultSoftFrameSize
	}
	if c.TURNTTL <= 0 {
		c.TURNTTL = DefaultTURNTTL
	}
	if c.RateLimitMaxCommands <= 0 {
		c.RateLimitMaxCommands = DefaultRateLimitMaxCommands
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.DiversityThreshold <= 0 {
		c.DiversityThreshold = DefaultDiversityThreshold
	}
	if c.DiversityWindow <= 0 {
		c.DiversityWindow = DefaultDiversityWindow
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.StaleCommandAge <= 0 {
		c.StaleCommandAge = DefaultStaleCommandAge
	}
	if c.TokenAlgorithm == "" {
		c.TokenAlgorithm = DefaultJWTAlgorithm
	}
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = DefaultJWTExpiry
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.TURNRetries <= 0 {
		c.TURNRetries = DefaultTURNRetries
	}
	return c
}

// New builds a Config from the process's environment and flags, in the
// same spirit as the rest of the fleet's xviper-backed entrypoints:
// flags override environment, environment overrides file, file overrides
// the compiled-in defaults.
func New(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	v.SetConfigName("relay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/wimz-relay")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.TURNProviderURL != "" {
		if _, err := xhttp.ApplyURLParser(url.ParseRequestURI, c.TURNProviderURL); err != nil {
			return nil, err
		}
	}

	return c.withDefaults(), nil
}
