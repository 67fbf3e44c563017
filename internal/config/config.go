package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	Secret      string `mapstructure:"secret"`

	Signaling SignalingConfig `mapstructure:"signaling"`
	Router    RouterConfig    `mapstructure:"router"`
	Calls     CallsConfig     `mapstructure:"calls"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	FreeTier  FreeTierConfig  `mapstructure:"free_tier"`
}

type SignalingConfig struct {
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	OutboundBuffer int           `mapstructure:"outbound_buffer"`
	SlowPeerAction string        `mapstructure:"slow_peer_action"`
	FrameRate      float64       `mapstructure:"frame_rate"`
	FrameBurst     int           `mapstructure:"frame_burst"`
}

type RouterConfig struct {
	NonceWindow  int           `mapstructure:"nonce_window"`
	NonceSenders int           `mapstructure:"nonce_senders"`
	NonceTTL     time.Duration `mapstructure:"nonce_ttl"`
}

type CallsConfig struct {
	RingTimeout   time.Duration `mapstructure:"ring_timeout"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
}

type TokensConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type WebRTCConfig struct {
	STUNURLs       []string `mapstructure:"stun_urls"`
	TURNURLs       []string `mapstructure:"turn_urls"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
	TURNSecret     string   `mapstructure:"turn_secret"`
}

// TURNConfigured reports whether at least one TURN url is set.
func (w WebRTCConfig) TURNConfigured() bool { return len(w.TURNURLs) > 0 }

type DatabaseConfig struct {
	// Path of the sqlite file; empty runs the server in demo mode.
	Path string `mapstructure:"path"`
}

type FreeTierConfig struct {
	CallsPerDay    int  `mapstructure:"calls_per_day"`
	ReceivesPerDay int  `mapstructure:"receives_per_day"`
	AllowTurn      bool `mapstructure:"allow_turn"`
	AllowVideo     bool `mapstructure:"allow_video"`
}

const (
	SlowPeerDrop = "drop"
	SlowPeerKick = "kick"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("environment", "development")
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "callvault-dev-secret")

	v.SetDefault("signaling.read_limit", 65536)
	v.SetDefault("signaling.ping_period", "25s")
	v.SetDefault("signaling.pong_wait", "60s")
	v.SetDefault("signaling.write_wait", "10s")
	v.SetDefault("signaling.outbound_buffer", 64)
	v.SetDefault("signaling.slow_peer_action", SlowPeerDrop)
	v.SetDefault("signaling.frame_rate", 50)
	v.SetDefault("signaling.frame_burst", 100)

	v.SetDefault("router.nonce_window", 256)
	v.SetDefault("router.nonce_senders", 10000)
	v.SetDefault("router.nonce_ttl", "10m")

	v.SetDefault("calls.ring_timeout", "30s")
	v.SetDefault("calls.answer_timeout", "60s")
	v.SetDefault("calls.retention", "30s")

	v.SetDefault("tokens.ttl", "5m")

	v.SetDefault("webrtc.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.turn_urls", []string{})
	v.SetDefault("webrtc.turn_username", "")
	v.SetDefault("webrtc.turn_credential", "")
	v.SetDefault("webrtc.turn_secret", "")

	v.SetDefault("database.path", "")

	v.SetDefault("free_tier.calls_per_day", 20)
	v.SetDefault("free_tier.receives_per_day", 50)
	v.SetDefault("free_tier.allow_turn", false)
	v.SetDefault("free_tier.allow_video", true)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads config/config.<CONFIG_ENV>.yaml, CALLVAULT_* environment
// variables and, when flags is non-nil, bound command-line flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CALLVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for key, name := range map[string]string{
			"port":          "port",
			"mode":          "mode",
			"log_level":     "log-level",
			"database.path": "db",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("database", cfg.Database.Path != "").
		Bool("turn", cfg.WebRTC.TURNConfigured()).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	s := c.Signaling
	if s.ReadLimit <= 0 {
		errs = append(errs, errors.New("signaling.read_limit must be positive"))
	}
	if s.PingPeriod <= 0 || s.PongWait <= 0 || s.WriteWait <= 0 {
		errs = append(errs, errors.New("signaling timeouts must be positive"))
	}
	if s.PingPeriod >= s.PongWait {
		errs = append(errs, errors.New("signaling.ping_period must be shorter than signaling.pong_wait"))
	}
	if s.OutboundBuffer <= 0 {
		errs = append(errs, errors.New("signaling.outbound_buffer must be positive"))
	}
	if s.SlowPeerAction != SlowPeerDrop && s.SlowPeerAction != SlowPeerKick {
		errs = append(errs, fmt.Errorf("signaling.slow_peer_action %q: want %q or %q", s.SlowPeerAction, SlowPeerDrop, SlowPeerKick))
	}
	if s.FrameRate <= 0 || s.FrameBurst <= 0 {
		errs = append(errs, errors.New("signaling.frame_rate and signaling.frame_burst must be positive"))
	}
	if c.Router.NonceWindow <= 0 || c.Router.NonceSenders <= 0 || c.Router.NonceTTL <= 0 {
		errs = append(errs, errors.New("router nonce settings must be positive"))
	}
	if c.Calls.RingTimeout <= 0 || c.Calls.Retention <= 0 || c.Calls.AnswerTimeout < 0 {
		errs = append(errs, errors.New("calls timeouts invalid"))
	}
	if c.Tokens.TTL <= 0 {
		errs = append(errs, errors.New("tokens.ttl must be positive"))
	}
	if len(c.WebRTC.STUNURLs) == 0 {
		errs = append(errs, errors.New("webrtc.stun_urls must not be empty"))
	}
	return errors.Join(errs...)
}
