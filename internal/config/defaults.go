package config

const (
	defaultConfigPath             = "~/.config/reelchain/config.toml"
	defaultOutputDir              = "~/.local/share/reelchain/output"
	defaultStateDir               = "~/.local/share/reelchain/state"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultRenderURL              = "http://127.0.0.1:8188"
	defaultRenderRequestTimeout   = 30
	defaultRenderTransferTimeout  = 120
	defaultPollInterval           = 2
	defaultMaxWait                = 1200
	defaultMaxConsecutiveFailures = 5
	defaultWidth                  = 640
	defaultHeight                 = 640
	defaultFPS                    = 16
	defaultFramesPerSegment       = 81
	defaultOutputPrefix           = "video/wan_segment"
	defaultCLIPModel              = "umt5_xxl_fp8_e4m3fn_scaled.safetensors"
	defaultVAEModel               = "wan_2.1_vae.safetensors"
	defaultHighNoiseModel         = "wan2.2_i2v_high_noise_14B_fp8_scaled.safetensors"
	defaultLowNoiseModel          = "wan2.2_i2v_low_noise_14B_fp8_scaled.safetensors"
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultCopyTimeout            = 300
	defaultReencodeTimeout        = 600
	defaultFrameTimeout           = 120
	defaultProbeTimeout           = 60
	defaultCRF                    = 18
	defaultPreset                 = "medium"
	defaultSchedulerWorkers       = 4
	defaultShutdownGrace          = 10
	defaultNotifyRequestTimeout   = 10
	defaultRedisChannel           = "reelchain:events"
	defaultPresignHours           = 24
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// DefaultNegativePrompt is applied when a job does not supply its own.
const DefaultNegativePrompt = "blurry, low quality, distorted, deformed, ugly, bad anatomy, watermark, text, logo, static, frozen, jerky motion, artifacts, noise, overexposed, underexposed"

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			APIBind:   defaultAPIBind,
		},
		Render: Render{
			URL:                    defaultRenderURL,
			RequestTimeout:         defaultRenderRequestTimeout,
			TransferTimeout:        defaultRenderTransferTimeout,
			PollInterval:           defaultPollInterval,
			MaxWait:                defaultMaxWait,
			MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		},
		Generation: Generation{
			Width:            defaultWidth,
			Height:           defaultHeight,
			FPS:              defaultFPS,
			FramesPerSegment: defaultFramesPerSegment,
			NegativePrompt:   DefaultNegativePrompt,
			OutputPrefix:     defaultOutputPrefix,
			CLIPModel:        defaultCLIPModel,
			VAEModel:         defaultVAEModel,
			HighNoiseModel:   defaultHighNoiseModel,
			LowNoiseModel:    defaultLowNoiseModel,
		},
		Assembly: Assembly{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			CopyTimeout:     defaultCopyTimeout,
			ReencodeTimeout: defaultReencodeTimeout,
			FrameTimeout:    defaultFrameTimeout,
			ProbeTimeout:    defaultProbeTimeout,
			CRF:             defaultCRF,
			Preset:          defaultPreset,
		},
		Workflow: Workflow{
			SchedulerWorkers: defaultSchedulerWorkers,
			ShutdownGrace:    defaultShutdownGrace,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			StageReady:     true,
			StageFailed:    true,
			JobCompleted:   true,
		},
		Events: Events{
			RedisChannel: defaultRedisChannel,
		},
		Publish: Publish{
			UseSSL:       true,
			PresignHours: defaultPresignHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
