package config

const (
	defaultDataDir               = "~/.local/share/packetwatch/data"
	defaultLogDir                = "~/.local/share/packetwatch/logs"
	defaultAPIBind               = "127.0.0.1:7519"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultAgingThresholdMinutes = 60
	defaultStallThresholdMinutes = 120
	defaultPollInterval          = 15
	defaultStageTimeout          = 120
	defaultNtfyRequestTimeout    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Alerting: Alerting{
			AgingThresholdMinutes: defaultAgingThresholdMinutes,
			StallThresholdMinutes: defaultStallThresholdMinutes,
		},
		Workflow: Workflow{
			PollInterval: defaultPollInterval,
			StageTimeout: defaultStageTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
	}
}
