package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type FilterConfig struct {
	Frequency   float64 `mapstructure:"frequency"`
	Gain        float64 `mapstructure:"gain"`
	ShelfGainDB float64 `mapstructure:"shelf_gain_db"`
}

type AudioConfig struct {
	InputDevice  string `mapstructure:"input_device"`
	OutputDevice string `mapstructure:"output_device"`
	Bitrate      int    `mapstructure:"bitrate"`
}

type WebRTCConfig struct {
	ICEServers      []string      `mapstructure:"ice_servers"`
	IncludeLoopback bool          `mapstructure:"include_loopback"`
	DisableMDNS     bool          `mapstructure:"disable_mdns"`
	GatherTimeout   time.Duration `mapstructure:"gather_timeout"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	RateLimit  int           `mapstructure:"rate_limit"`
	LogLevel   string        `mapstructure:"log_level"`

	Audio  AudioConfig  `mapstructure:"audio"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
	Filter FilterConfig `mapstructure:"filter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("rate_limit", 30)
	v.SetDefault("log_level", "info")

	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.output_device", "")
	v.SetDefault("audio.bitrate", 40000)

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.include_loopback", false)
	v.SetDefault("webrtc.disable_mdns", false)
	v.SetDefault("webrtc.gather_timeout", "15s")

	v.SetDefault("filter.frequency", 200.0)
	v.SetDefault("filter.gain", 0.75)
	v.SetDefault("filter.shelf_gain_db", 0.0)
}

// Load reads the config file at path. An empty path selects
// config/config.<CONFIG_ENV>.yaml. A missing file is not an error: defaults
// and AUDIOSTREAM_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AUDIOSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := path
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

// Validate rejects values the audio pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Filter.Frequency <= 0 || c.Filter.Frequency >= 24000 {
		return fmt.Errorf("filter frequency %v out of range (0, 24000)", c.Filter.Frequency)
	}
	if c.Filter.Gain < 0 {
		return fmt.Errorf("filter gain %v must not be negative", c.Filter.Gain)
	}
	return nil
}
