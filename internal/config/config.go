// Package config loads uvcout process settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/thesyncim/uvcout"
)

// EnvPrefix prefixes environment overrides, e.g. UVCOUT_OUTPUT_DEVICE.
const EnvPrefix = "UVCOUT"

// Config holds all the settings for the process.
type Config struct {
	LogLevel  string       `mapstructure:"log_level"`
	LogPretty bool         `mapstructure:"log_pretty"`
	Output    OutputConfig `mapstructure:"output"`
	RTP       RTPConfig    `mapstructure:"rtp"`
	RTMP      RTMPConfig   `mapstructure:"rtmp"`
}

// OutputConfig configures the output stage.
type OutputConfig struct {
	Device         string `mapstructure:"device"`
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	Quality        int    `mapstructure:"quality"`
	DecoderThreads int    `mapstructure:"decoder_threads"`
	ScaleMode      string `mapstructure:"scale_mode"`
}

// RTPConfig configures the RTP/H.264 listener. An empty Listen disables it.
type RTPConfig struct {
	Listen      string `mapstructure:"listen"`
	PayloadType uint8  `mapstructure:"payload_type"` // 0 accepts any payload type
	MaxLate     uint16 `mapstructure:"max_late"`     // Reorder window in packets
}

// RTMPConfig configures the RTMP publish listener. An empty Listen disables it.
type RTMPConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetDefault("output.device", uvcout.DefaultDevicePath)
	v.SetDefault("output.width", uvcout.DefaultWidth)
	v.SetDefault("output.height", uvcout.DefaultHeight)
	v.SetDefault("output.quality", uvcout.DefaultJPEGQuality)
	v.SetDefault("output.decoder_threads", 0)
	v.SetDefault("output.scale_mode", uvcout.ScaleModeStretch.String())

	v.SetDefault("rtp.listen", "")
	v.SetDefault("rtp.payload_type", 0)
	v.SetDefault("rtp.max_late", 128)

	v.SetDefault("rtmp.listen", "")
}

// LoadConfig merges defaults, the YAML file at path and UVCOUT_* environment
// variables using the global viper instance, so bound command flags apply.
func LoadConfig(path string) (*Config, error) {
	return Load(viper.GetViper(), path)
}

// Load merges defaults, the YAML file at path and environment variables into
// v and decodes the result. A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.StageConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StageConfig converts the output section to an output stage configuration.
func (c *Config) StageConfig() (uvcout.Config, error) {
	mode, err := uvcout.ParseScaleMode(c.Output.ScaleMode)
	if err != nil {
		return uvcout.Config{}, fmt.Errorf("output.scale_mode: %w", err)
	}
	return uvcout.Config{
		Device:         c.Output.Device,
		Width:          c.Output.Width,
		Height:         c.Output.Height,
		Format:         uvcout.FormatMJPEG,
		Quality:        c.Output.Quality,
		DecoderThreads: c.Output.DecoderThreads,
		ScaleMode:      mode,
	}, nil
}
