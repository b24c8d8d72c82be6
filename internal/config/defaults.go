package config

const (
	DefaultMediaMaxMB     = 8
	MaxTextChunkLimit     = 4000
	DefaultRequestTimeout = 30
	DefaultReconnectDelay = 5
	DefaultHostTimeout    = 300
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		BlueBubbles: BlueBubblesConfig{
			DMPolicy:    PolicyOpen,
			GroupPolicy: PolicyOpen,
			Attachments: AttachmentsConfig{
				Enabled: true,
			},
			MediaMaxMB:            DefaultMediaMaxMB,
			TextChunkLimit:        MaxTextChunkLimit,
			SendReadReceipts:      true,
			RequestTimeoutSeconds: DefaultRequestTimeout,
			ReconnectDelaySeconds: DefaultReconnectDelay,
		},
		Host: HostConfig{
			BaseURL:        "http://127.0.0.1:18789",
			TimeoutSeconds: DefaultHostTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}
