package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Render contains connection and polling settings for the render service.
type Render struct {
	URL                    string `toml:"url"`
	RequestTimeout         int    `toml:"request_timeout_seconds"`
	TransferTimeout        int    `toml:"transfer_timeout_seconds"`
	PollInterval           int    `toml:"poll_interval_seconds"`
	MaxWait                int    `toml:"max_wait_seconds"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	UploadSubfolder        string `toml:"upload_subfolder"`
}

// Generation contains the per-job defaults captured into each job's settings.
type Generation struct {
	Width            int    `toml:"width"`
	Height           int    `toml:"height"`
	FPS              int    `toml:"fps"`
	FramesPerSegment int    `toml:"frames_per_segment"`
	NegativePrompt   string `toml:"negative_prompt"`
	OutputPrefix     string `toml:"output_prefix"`
	CLIPModel        string `toml:"clip_model"`
	VAEModel         string `toml:"vae_model"`
	HighNoiseModel   string `toml:"high_noise_model"`
	LowNoiseModel    string `toml:"low_noise_model"`
	HighNoiseLoRA    string `toml:"high_noise_lora"`
	LowNoiseLoRA     string `toml:"low_noise_lora"`
}

// Assembly contains ffmpeg settings for frame extraction and concatenation.
type Assembly struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	CopyTimeout     int    `toml:"copy_timeout_seconds"`
	ReencodeTimeout int    `toml:"reencode_timeout_seconds"`
	FrameTimeout    int    `toml:"frame_timeout_seconds"`
	ProbeTimeout    int    `toml:"probe_timeout_seconds"`
	CRF             int    `toml:"crf"`
	Preset          string `toml:"preset"`
}

// Workflow contains scheduler sizing and shutdown behaviour.
type Workflow struct {
	SchedulerWorkers int `toml:"scheduler_workers"`
	ShutdownGrace    int `toml:"shutdown_grace_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	StageReady     bool   `toml:"stage_ready"`
	StageFailed    bool   `toml:"stage_failed"`
	JobCompleted   bool   `toml:"job_completed"`
}

// Events contains the optional Redis pub/sub fan-out for job events.
type Events struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// Publish contains the optional S3-compatible upload of final videos.
type Publish struct {
	Enabled      bool   `toml:"enabled"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	Bucket       string `toml:"bucket"`
	UseSSL       bool   `toml:"use_ssl"`
	PresignHours int    `toml:"presign_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelchain.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Render        Render        `toml:"render"`
	Generation    Generation    `toml:"generation"`
	Assembly      Assembly      `toml:"assembly"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Events        Events        `toml:"events"`
	Publish       Publish       `toml:"publish"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files beside the config and in the working directory.
// Variables already present in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelchain.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for extraction and assembly.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Assembly.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Assembly.FFprobeBinary); bin != "" {
		return bin
	}
	return defaultFFprobeBinary
}

// RenderRequestTimeout bounds submit, history, queue, and model listing calls.
func (c *Config) RenderRequestTimeout() time.Duration {
	return seconds(c.Render.RequestTimeout)
}

// RenderTransferTimeout bounds artifact downloads and image uploads.
func (c *Config) RenderTransferTimeout() time.Duration {
	return seconds(c.Render.TransferTimeout)
}

// PollInterval is the delay between polls of a submitted render.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Render.PollInterval)
}

// MaxWait bounds how long a stage may stay in polling.
func (c *Config) MaxWait() time.Duration {
	return seconds(c.Render.MaxWait)
}

// CopyTimeout bounds the stream-copy concatenation.
func (c *Config) CopyTimeout() time.Duration {
	return seconds(c.Assembly.CopyTimeout)
}

// FrameTimeout bounds each ffprobe frame count and ffmpeg last-frame
// extraction.
func (c *Config) FrameTimeout() time.Duration {
	return seconds(c.Assembly.FrameTimeout)
}

// ProbeTimeout bounds each ffprobe inspection during assembly.
func (c *Config) ProbeTimeout() time.Duration {
	return seconds(c.Assembly.ProbeTimeout)
}

// ReencodeTimeout bounds each re-encode and the fallback concatenation.
func (c *Config) ReencodeTimeout() time.Duration {
	return seconds(c.Assembly.ReencodeTimeout)
}

// ShutdownGrace bounds how long the daemon waits for in-flight tasks.
func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.Workflow.ShutdownGrace)
}

// IndexPath returns the SQLite job index location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "reelchaind.lock")
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
