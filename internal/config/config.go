package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Listen string `mapstructure:"listen"`
	Secret string `mapstructure:"secret"`

	SignalingURL  string `mapstructure:"signaling_url"`
	SignalingPath string `mapstructure:"signaling_path"`

	PhotoPath         string        `mapstructure:"photo_path"`
	PhotoPollInterval time.Duration `mapstructure:"photo_poll_interval"`

	ICEServers      []string      `mapstructure:"ice_servers"`
	NegotiationMode string        `mapstructure:"negotiation_mode"`
	SDPPatch        bool          `mapstructure:"sdp_patch"`
	MaxBitrate      int           `mapstructure:"max_bitrate"`
	ChannelLabel    string        `mapstructure:"channel_label"`
	Channel         string        `mapstructure:"channel"`
	VideoTransform  string        `mapstructure:"video_transform"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	TeardownGrace   time.Duration `mapstructure:"teardown_grace"`
	AllowedCodecs   []string      `mapstructure:"allowed_codecs"`

	LogLevel    string   `mapstructure:"log_level"`
	AutoConnect []string `mapstructure:"auto_connect"`
}

const envPrefix = "VIEWER"

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// A missing file is not an error; VIEWER_* variables override any key.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("listen", cfg.Listen).
		Str("signaling", cfg.SignalingURL+cfg.SignalingPath).
		Str("negotiation", cfg.NegotiationMode).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("listen", ":8090")
	v.SetDefault("secret", "change-me")
	v.SetDefault("signaling_url", "http://localhost:8080")
	v.SetDefault("signaling_path", "/viewonly")
	v.SetDefault("photo_path", "/api/photo-files")
	v.SetDefault("photo_poll_interval", "1s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation_mode", "gathering")
	v.SetDefault("sdp_patch", false)
	v.SetDefault("max_bitrate", 40000000)
	v.SetDefault("channel_label", "chat")
	v.SetDefault("channel", "")
	v.SetDefault("video_transform", "")
	v.SetDefault("probe_interval", "1s")
	v.SetDefault("teardown_grace", "500ms")
	v.SetDefault("allowed_codecs", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("auto_connect", []string{})
}

// Validate rejects values no component could run with.
func (c *Config) Validate() error {
	if c.SignalingURL == "" {
		return fmt.Errorf("config: signaling_url is required")
	}
	if c.PhotoPollInterval < 0 || c.ProbeInterval < 0 || c.TeardownGrace < 0 {
		return fmt.Errorf("config: intervals must not be negative")
	}
	if c.MaxBitrate < 0 {
		return fmt.Errorf("config: max_bitrate must not be negative")
	}
	return nil
}
