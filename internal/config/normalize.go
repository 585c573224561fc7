package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeGeneration()
	c.normalizeAssembly()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	if err := c.normalizeEvents(); err != nil {
		return err
	}
	c.normalizePublish()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("REELCHAIN_API_TOKEN"); ok {
			c.Paths.APIToken = value
		}
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeRender() {
	if value, ok := os.LookupEnv("REELCHAIN_RENDER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Render.URL = value
	}
	c.Render.URL = strings.TrimRight(strings.TrimSpace(c.Render.URL), "/")
	if c.Render.URL == "" {
		c.Render.URL = defaultRenderURL
	}
	if c.Render.RequestTimeout <= 0 {
		c.Render.RequestTimeout = defaultRenderRequestTimeout
	}
	if c.Render.TransferTimeout <= 0 {
		c.Render.TransferTimeout = defaultRenderTransferTimeout
	}
	if c.Render.PollInterval <= 0 {
		c.Render.PollInterval = defaultPollInterval
	}
	if c.Render.MaxWait <= 0 {
		c.Render.MaxWait = defaultMaxWait
	}
	if c.Render.MaxConsecutiveFailures <= 0 {
		c.Render.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	c.Render.UploadSubfolder = strings.Trim(strings.TrimSpace(c.Render.UploadSubfolder), "/")
}

func (c *Config) normalizeGeneration() {
	g := &c.Generation
	g.NegativePrompt = strings.TrimSpace(g.NegativePrompt)
	if g.NegativePrompt == "" {
		g.NegativePrompt = DefaultNegativePrompt
	}
	g.OutputPrefix = strings.TrimSpace(g.OutputPrefix)
	if g.OutputPrefix == "" {
		g.OutputPrefix = defaultOutputPrefix
	}
	for _, field := range []struct {
		value    *string
		fallback string
	}{
		{&g.CLIPModel, defaultCLIPModel},
		{&g.VAEModel, defaultVAEModel},
		{&g.HighNoiseModel, defaultHighNoiseModel},
		{&g.LowNoiseModel, defaultLowNoiseModel},
	} {
		*field.value = strings.TrimSpace(*field.value)
		if *field.value == "" {
			*field.value = field.fallback
		}
	}
	g.HighNoiseLoRA = strings.TrimSpace(g.HighNoiseLoRA)
	g.LowNoiseLoRA = strings.TrimSpace(g.LowNoiseLoRA)
}

func (c *Config) normalizeAssembly() {
	a := &c.Assembly
	a.FFmpegBinary = strings.TrimSpace(a.FFmpegBinary)
	a.FFprobeBinary = strings.TrimSpace(a.FFprobeBinary)
	if a.CopyTimeout <= 0 {
		a.CopyTimeout = defaultCopyTimeout
	}
	if a.ReencodeTimeout <= 0 {
		a.ReencodeTimeout = defaultReencodeTimeout
	}
	if a.FrameTimeout <= 0 {
		a.FrameTimeout = defaultFrameTimeout
	}
	if a.ProbeTimeout <= 0 {
		a.ProbeTimeout = defaultProbeTimeout
	}
	a.Preset = strings.ToLower(strings.TrimSpace(a.Preset))
	if a.Preset == "" {
		a.Preset = defaultPreset
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.SchedulerWorkers <= 0 {
		c.Workflow.SchedulerWorkers = defaultSchedulerWorkers
	}
	if c.Workflow.ShutdownGrace <= 0 {
		c.Workflow.ShutdownGrace = defaultShutdownGrace
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("REELCHAIN_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeEvents() error {
	if c.Events.RedisAddr == "" {
		if value, ok := os.LookupEnv("REELCHAIN_REDIS_ADDR"); ok {
			c.Events.RedisAddr = value
		}
	}
	if c.Events.RedisPassword == "" {
		if value, ok := os.LookupEnv("REELCHAIN_REDIS_PASSWORD"); ok {
			c.Events.RedisPassword = value
		}
	}
	if value, ok := os.LookupEnv("REELCHAIN_REDIS_DB"); ok && strings.TrimSpace(value) != "" {
		db, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("events.redis_db: REELCHAIN_REDIS_DB: %w", err)
		}
		c.Events.RedisDB = db
	}
	c.Events.RedisAddr = strings.TrimSpace(c.Events.RedisAddr)
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
	return nil
}

func (c *Config) normalizePublish() {
	p := &c.Publish
	if p.AccessKey == "" {
		if value, ok := os.LookupEnv("REELCHAIN_S3_ACCESS_KEY"); ok {
			p.AccessKey = value
		}
	}
	if p.SecretKey == "" {
		if value, ok := os.LookupEnv("REELCHAIN_S3_SECRET_KEY"); ok {
			p.SecretKey = value
		}
	}
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	p.Endpoint = strings.TrimPrefix(strings.TrimPrefix(p.Endpoint, "https://"), "http://")
	p.Bucket = strings.TrimSpace(p.Bucket)
	if p.PresignHours <= 0 {
		p.PresignHours = defaultPresignHours
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
