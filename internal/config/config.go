package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Engine    EngineConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Scheduler SchedulerConfig
	Policy    PolicyConfig
	Voice     VoiceConfig
	CRM       CRMConfig
	YouTube   YouTubeConfig
	Facebook  FacebookConfig
	Instagram InstagramConfig
	LinkedIn  LinkedInConfig
	Twitter   TwitterConfig
	Telegram  TelegramConfig
}

type ServerConfig struct {
	Port     int
	MCPStdio bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type EngineConfig struct {
	Provider string
	Model    string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	APIKey string
}

type GeminiConfig struct {
	APIKey string
}

type SchedulerConfig struct {
	FetchInterval   time.Duration
	SweepInterval   time.Duration
	Lookback        time.Duration
	Overlap         time.Duration
	Parallel        bool
	ErrorThreshold  int
	DisableBase     time.Duration
	RestartDelay    time.Duration
	MaxPostAttempts int
}

type PolicyConfig struct {
	AutoApproveConfidence float64
	HighValueWorkflows    string
}

type VoiceConfig struct {
	ProfileFile string
}

type CRMConfig struct {
	BaseURL     string
	LocationID  string
	APIKey      string
	WorkflowIDs string
}

type YouTubeConfig struct {
	ChannelID  string
	APIKey     string
	OAuthToken string
}

type FacebookConfig struct {
	PageID      string
	AccessToken string
}

type InstagramConfig struct {
	AccountID   string
	AccessToken string
}

type LinkedInConfig struct {
	OrganizationID string
	AccessToken    string
}

type TwitterConfig struct {
	UserID      string
	BearerToken string
	UserToken   string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Default models per engine provider, used when engine.model is empty.
var defaultModels = map[string]string{
	"ollama": "llama3.1:8b",
	"openai": "gpt-4o-mini",
	"gemini": "gemini-2.0-flash",
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			Provider: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Scheduler: SchedulerConfig{
			FetchInterval:   5 * time.Minute,
			SweepInterval:   time.Minute,
			Lookback:        2 * time.Hour,
			Parallel:        true,
			ErrorThreshold:  3,
			DisableBase:     5 * time.Minute,
			RestartDelay:    30 * time.Second,
			MaxPostAttempts: 5,
		},
		Policy: PolicyConfig{
			AutoApproveConfidence: 0.8,
			HighValueWorkflows:    "sales_follow_up,appointment_booking",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.replyd.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/replyd/config.json
// and secrets fall back to $XDG_DATA_HOME/replyd/secrets.json.
//
// Environment variables (REPLYD_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	cfg.Engine.Provider = strings.ToLower(strings.TrimSpace(cfg.Engine.Provider))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.Engine.Model == "" {
		cfg.Engine.Model = defaultModels[cfg.Engine.Provider]
	}

	return cfg, nil
}

// applySecrets fills secrets still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func (cfg Config) validate() error {
	switch cfg.Engine.Provider {
	case "ollama":
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return missing("OpenAI API key", "openai.api_key")
		}
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return missing("Gemini API key", "gemini.api_key")
		}
	default:
		return fmt.Errorf("invalid engine.provider %q (valid: ollama, openai, gemini)", cfg.Engine.Provider)
	}
	if cfg.Policy.AutoApproveConfidence < 0 || cfg.Policy.AutoApproveConfidence > 1 {
		return fmt.Errorf("invalid policy.auto_approve_confidence %v: must be between 0 and 1", cfg.Policy.AutoApproveConfidence)
	}
	if cfg.Scheduler.FetchInterval <= 0 || cfg.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	return nil
}

func missing(what, key string) error {
	s := specByKey(key)
	msg := "missing required config: " + what + ". " +
		"Set it via environment variable " + s.env +
		secretHint(s.account())
	return fmt.Errorf("%s", msg)
}

// Workflows splits the comma-separated high value workflow list.
func (c PolicyConfig) Workflows() []string {
	var out []string
	for _, part := range strings.Split(c.HighValueWorkflows, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
