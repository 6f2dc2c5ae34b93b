// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"

	"framepairs/pkg/ffmpeg"
	"framepairs/pkg/log"

	"gopkg.in/yaml.v2"
)

// Config stores the conversion configuration.
type Config struct {
	VideoPaths []string `yaml:"videoPaths"`
	OutputPath string   `yaml:"outputPath"`
	FrameSkip  int      `yaml:"frameSkip"`
	PixFmt     string   `yaml:"pixFmt"`
	FFmpegBin  string   `yaml:"ffmpegBin"`
	FFprobeBin string   `yaml:"ffprobeBin"`
	LogLevel   string   `yaml:"logLevel"`
}

// Default values.
const (
	DefaultPixFmt     = "bgr24"
	DefaultFFmpegBin  = "ffmpeg"
	DefaultFFprobeBin = "ffprobe"
	DefaultLogLevel   = "info"
)

// NewConfig returns a config with default values.
func NewConfig() Config {
	return Config{
		PixFmt:     DefaultPixFmt,
		FFmpegBin:  DefaultFFmpegBin,
		FFprobeBin: DefaultFFprobeBin,
		LogLevel:   DefaultLogLevel,
	}
}

// ErrInvalidConfig invalid or incomplete configuration.
var ErrInvalidConfig = errors.New("invalid config")

// ParseConfig parses YAML on top of the default values.
// Unknown keys are rejected.
func ParseConfig(configYAML []byte) (Config, error) {
	config := NewConfig()
	if err := yaml.UnmarshalStrict(configYAML, &config); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal: %v", ErrInvalidConfig, err)
	}
	return config, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (Config, error) {
	configYAML, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	config, err := ParseConfig(configYAML)
	if err != nil {
		return Config{}, fmt.Errorf("%v: %w", path, err)
	}
	return config, nil
}

// Validate fills empty fields with defaults, clamps
// FrameSkip to zero and checks the remaining fields.
func (c *Config) Validate() error {
	if c.FrameSkip < 0 {
		c.FrameSkip = 0
	}
	if c.PixFmt == "" {
		c.PixFmt = DefaultPixFmt
	}
	if c.FFmpegBin == "" {
		c.FFmpegBin = DefaultFFmpegBin
	}
	if c.FFprobeBin == "" {
		c.FFprobeBin = DefaultFFprobeBin
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if len(c.VideoPaths) == 0 {
		return fmt.Errorf("%w: no video paths", ErrInvalidConfig)
	}
	for i, path := range c.VideoPaths {
		if path == "" {
			return fmt.Errorf("%w: video path %v is empty", ErrInvalidConfig, i)
		}
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: no output path", ErrInvalidConfig)
	}
	if _, err := ffmpeg.Channels(c.PixFmt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
