package config

const (
	defaultDataDir                  = "~/.local/share/revoice"
	defaultLogDir                   = "~/.local/share/revoice/logs"
	defaultAPIBind                  = "127.0.0.1:7316"
	defaultSeparationBinary         = "demucs"
	defaultSeparationModel          = "htdemucs"
	defaultSeparationTimeoutSeconds = 1800
	defaultConversionBinary         = "rvc"
	defaultConversionTimeoutSeconds = 1800
	defaultMixingBinary             = "ffmpeg"
	defaultMixingTimeoutSeconds     = 600
	defaultLLMBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                 = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds        = 60
	defaultMaxUploadMiB             = 200
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Separation: Separation{
			Binary:         defaultSeparationBinary,
			Model:          defaultSeparationModel,
			TimeoutSeconds: defaultSeparationTimeoutSeconds,
		},
		Conversion: Conversion{
			Binary:         defaultConversionBinary,
			TimeoutSeconds: defaultConversionTimeoutSeconds,
		},
		Mixing: Mixing{
			Binary:         defaultMixingBinary,
			TimeoutSeconds: defaultMixingTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Uploads: Uploads{
			MaxSizeMiB: defaultMaxUploadMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
