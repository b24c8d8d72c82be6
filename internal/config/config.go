package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Admission policy values shared by the direct and group slots.
const (
	PolicyOpen      = "open"
	PolicyAllowlist = "allowlist"
	PolicyDisabled  = "disabled"
	// PolicyPairing is accepted for direct messages only and currently
	// behaves exactly like PolicyAllowlist.
	PolicyPairing = "pairing"
)

// Config is the root configuration for bluebridge.
type Config struct {
	General     GeneralConfig     `json:"general" yaml:"general"`
	BlueBubbles BlueBubblesConfig `json:"bluebubbles" yaml:"bluebubbles"`
	Host        HostConfig        `json:"host" yaml:"host"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// BlueBubblesConfig is the plugin section handed to the bridge by the host.
type BlueBubblesConfig struct {
	ServerURL string `json:"serverUrl,omitempty" yaml:"serverUrl,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`

	DMPolicy    string         `json:"dmPolicy" yaml:"dmPolicy"`       // open | allowlist | pairing | disabled
	GroupPolicy string         `json:"groupPolicy" yaml:"groupPolicy"` // open | allowlist | disabled
	AllowFrom   FlexStringList `json:"allowFrom" yaml:"allowFrom,omitempty"`
	// GroupAllowFrom falls back to AllowFrom when nil.
	GroupAllowFrom FlexStringList `json:"groupAllowFrom" yaml:"groupAllowFrom,omitempty"`

	Attachments AttachmentsConfig `json:"attachments" yaml:"attachments"`
	MediaMaxMB  int               `json:"mediaMaxMb" yaml:"mediaMaxMb"`

	TextChunkLimit    int     `json:"textChunkLimit" yaml:"textChunkLimit"`
	SendRatePerSecond float64 `json:"sendRatePerSecond,omitempty" yaml:"sendRatePerSecond,omitempty"` // 0 = unlimited
	SendReadReceipts  bool    `json:"sendReadReceipts" yaml:"sendReadReceipts"`
	AckReaction       string  `json:"ackReaction,omitempty" yaml:"ackReaction,omitempty"` // e.g. "like"; empty disables

	RequestTimeoutSeconds int `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
	ReconnectDelaySeconds int `json:"reconnectDelaySeconds" yaml:"reconnectDelaySeconds"`
}

type AttachmentsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// MediaMaxBytes returns the attachment download ceiling in bytes.
func (c BlueBubblesConfig) MediaMaxBytes() int64 {
	mb := c.MediaMaxMB
	if mb <= 0 {
		mb = DefaultMediaMaxMB
	}
	return int64(mb) * 1024 * 1024
}

// HostConfig points at the agent host that owns sessions and generates replies.
type HostConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["+15551234567", 15551234567]).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*f = nil
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		if ss == nil {
			ss = []string{}
		}
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.bluebridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bluebridge"
	}
	return filepath.Join(home, ".bluebridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file carries the server password.
	return os.WriteFile(path, data, 0o600)
}

// NormalizePolicy folds a policy value to its canonical spelling. Policies
// are matched case-insensitively everywhere.
func NormalizePolicy(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	bb := cfg.BlueBubbles
	switch NormalizePolicy(bb.DMPolicy) {
	case "", PolicyOpen, PolicyAllowlist, PolicyPairing, PolicyDisabled:
	default:
		errs = append(errs, "bluebubbles.dmPolicy must be one of: open, allowlist, pairing, disabled")
	}
	switch NormalizePolicy(bb.GroupPolicy) {
	case "", PolicyOpen, PolicyAllowlist, PolicyDisabled:
	default:
		errs = append(errs, "bluebubbles.groupPolicy must be one of: open, allowlist, disabled")
	}
	if bb.MediaMaxMB < 0 {
		errs = append(errs, "bluebubbles.mediaMaxMb must be >= 0")
	}
	if bb.TextChunkLimit < 1 || bb.TextChunkLimit > MaxTextChunkLimit {
		errs = append(errs, fmt.Sprintf("bluebubbles.textChunkLimit must be between 1 and %d", MaxTextChunkLimit))
	}
	if bb.SendRatePerSecond < 0 {
		errs = append(errs, "bluebubbles.sendRatePerSecond must be >= 0")
	}
	if bb.RequestTimeoutSeconds < 1 {
		errs = append(errs, "bluebubbles.requestTimeoutSeconds must be >= 1")
	}
	if bb.ReconnectDelaySeconds < 1 {
		errs = append(errs, "bluebubbles.reconnectDelaySeconds must be >= 1")
	}
	switch bb.AckReaction {
	case "", "love", "like", "dislike", "laugh", "emphasize", "question":
	default:
		errs = append(errs, "bluebubbles.ackReaction must be one of: love, like, dislike, laugh, emphasize, question")
	}

	if cfg.Host.TimeoutSeconds < 1 {
		errs = append(errs, "host.timeoutSeconds must be >= 1")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
