package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateAssembly(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRender() error {
	parsed, err := url.Parse(c.Render.URL)
	if err != nil {
		return fmt.Errorf("render.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("render.url must use http or https, got %q", c.Render.URL)
	}
	if parsed.Host == "" {
		return errors.New("render.url must include a host")
	}
	if c.Render.PollInterval > c.Render.MaxWait {
		return errors.New("render.poll_interval_seconds must not exceed render.max_wait_seconds")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	g := c.Generation
	if g.Width <= 0 || g.Height <= 0 {
		return errors.New("generation.width and generation.height must be positive")
	}
	if g.Width%16 != 0 || g.Height%16 != 0 {
		return errors.New("generation.width and generation.height must be multiples of 16")
	}
	if g.FPS <= 0 {
		return errors.New("generation.fps must be positive")
	}
	if g.FramesPerSegment <= 0 {
		return errors.New("generation.frames_per_segment must be positive")
	}
	return nil
}

func (c *Config) validateAssembly() error {
	if c.Assembly.CRF < 0 || c.Assembly.CRF > 51 {
		return errors.New("assembly.crf must be between 0 and 51")
	}
	switch c.Assembly.Preset {
	case "ultrafast", "superfast", "veryfast", "faster", "fast", "medium", "slow", "slower", "veryslow":
		return nil
	default:
		return fmt.Errorf("assembly.preset: unsupported value %q", c.Assembly.Preset)
	}
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled {
		return nil
	}
	if c.Publish.Endpoint == "" {
		return errors.New("publish.endpoint must be set when publishing is enabled")
	}
	if c.Publish.Bucket == "" {
		return errors.New("publish.bucket must be set when publishing is enabled")
	}
	if c.Publish.AccessKey == "" || c.Publish.SecretKey == "" {
		return errors.New("publish.access_key and publish.secret_key are required. Set REELCHAIN_S3_ACCESS_KEY and REELCHAIN_S3_SECRET_KEY or edit the config file")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
