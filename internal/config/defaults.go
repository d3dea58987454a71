package config

const (
	defaultConfigPath         = "~/.config/datadealer/config.toml"
	defaultOutputDir          = "./cut_dataset"
	defaultLogDir             = "~/.local/share/datadealer/logs"
	defaultStateDir           = "~/.local/share/datadealer"
	defaultThreshold          = 0.5
	defaultUnknownPolicy      = UnknownPolicyDrop
	defaultBefore             = 30
	defaultAfter              = 30
	defaultMinGap             = 50
	defaultBatchSize          = 50
	defaultSaveMode           = SaveModeDataset
	defaultPlaceholderAction  = -999.0
	defaultImageWorkers       = 4
	defaultFPS                = 10
	defaultRobotType          = "panda"
	defaultCaptionProvider    = ProviderLocal
	defaultCaptionTimeout     = 30
	defaultRequestsPerMinute  = 60
	defaultCheckpointInterval = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	defaultNtfyTimeout        = 10
)

// Supported values for assembly.save_mode.
const (
	SaveModeDataset = "dataset"
	SaveModeImage   = "image"
	SaveModeBoth    = "both"
)

// Supported values for detect.unknown_policy.
const (
	UnknownPolicyDrop = "drop"
	UnknownPolicyKeep = "keep"
)

// Supported values for caption.provider.
const (
	ProviderLocal      = "local"
	ProviderQwen       = "qwen"
	ProviderDeepSeek   = "deepseek"
	ProviderOpenRouter = "openrouter"
	ProviderGPT        = "gpt"
)

// providerDefaults holds the endpoint and model used when a provider is
// selected without explicit caption.base_url / caption.model.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
	EnvKey  string
}{
	ProviderQwen:       {"https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions", "qwen-turbo", "DASHSCOPE_API_KEY"},
	ProviderDeepSeek:   {"https://api.deepseek.com/chat/completions", "deepseek-chat", "DEEPSEEK_API_KEY"},
	ProviderOpenRouter: {"https://openrouter.ai/api/v1/chat/completions", "google/gemini-2.5-flash", "OPENROUTER_API_KEY"},
	ProviderGPT:        {"", "gpt-4o", "OPENAI_API_KEY"},
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
		},
		Detect: Detect{
			Threshold:     defaultThreshold,
			UnknownPolicy: defaultUnknownPolicy,
		},
		Window: Window{
			Before: defaultBefore,
			After:  defaultAfter,
		},
		Merge: Merge{
			MinGap: defaultMinGap,
		},
		Assembly: Assembly{
			BatchSize:         defaultBatchSize,
			SaveMode:          defaultSaveMode,
			Placeholders:      true,
			PlaceholderAction: defaultPlaceholderAction,
			ImageWorkers:      defaultImageWorkers,
			FPS:               defaultFPS,
			RobotType:         defaultRobotType,
		},
		Caption: Caption{
			Provider:           defaultCaptionProvider,
			TimeoutSeconds:     defaultCaptionTimeout,
			RequestsPerMinute:  defaultRequestsPerMinute,
			CheckpointInterval: defaultCheckpointInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
	}
}
