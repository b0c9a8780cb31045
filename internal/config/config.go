package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// EnvPrefix is the namespace prefix for all voice-gateway environment
// variables.
const EnvPrefix = "CUSTAREA_"

// Config holds all gateway configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config
// file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL the carrier dials
	// back, e.g. https://voice.example.com.
	PublicURL string `yaml:"public_url"`

	DBPath       string `yaml:"db_path"`
	RecordingDir string `yaml:"recording_dir"`
	RecordCalls  bool   `yaml:"record_calls"`

	DefaultMethod string `yaml:"default_method"`

	RealtimeModel   string `yaml:"realtime_model"`
	RealtimeBaseURL string `yaml:"realtime_base_url"`

	// ResponderModel is a provider/model_name spec, e.g. openai/gpt-4o-mini.
	ResponderModel string `yaml:"responder_model"`
	SummaryModel   string `yaml:"summary_model"`
	Language       string `yaml:"language"`

	SweepInterval    string `yaml:"sweep_interval"`
	SessionRetention string `yaml:"session_retention"`
	FinalizeDelay    string `yaml:"finalize_delay"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Tenants seeds voice profiles into the store at startup, so a fresh
	// deployment can take calls without a separate provisioning step.
	Tenants []storage.TenantProfile `yaml:"tenants"`

	// Secrets — env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8080",
		PublicURL:             "http://127.0.0.1:8080",
		DBPath:                "data/voice-gateway.db",
		RecordingDir:          "data/recordings",
		DefaultMethod:         "realtime",
		RealtimeModel:         "gpt-realtime",
		ResponderModel:        "openai/gpt-4o-mini",
		SummaryModel:          "gpt-4o-mini",
		Language:              "en-US",
		SweepInterval:         "1m",
		SessionRetention:      "5m",
		FinalizeDelay:         "2s",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the
// result. It returns the config, any validation warnings, and an error
// if the file exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedSweepInterval returns SweepInterval as a duration, falling back
// to one minute if the value is invalid.
func (c *Config) ParsedSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, time.Minute)
}

// ParsedSessionRetention returns SessionRetention as a duration, falling
// back to five minutes if the value is invalid.
func (c *Config) ParsedSessionRetention() time.Duration {
	return parseDurationOr(c.SessionRetention, 5*time.Minute)
}

// ParsedFinalizeDelay returns FinalizeDelay as a duration, falling back
// to two seconds if the value is invalid.
func (c *Config) ParsedFinalizeDelay() time.Duration {
	return parseDurationOr(c.FinalizeDelay, 2*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_DIR"); v != "" {
		cfg.RecordingDir = v
	}
	if v := os.Getenv(EnvPrefix + "RECORD_CALLS"); v != "" {
		if record, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RecordCalls = record
		}
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_METHOD"); v != "" {
		cfg.DefaultMethod = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_MODEL"); v != "" {
		cfg.RealtimeModel = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_BASE_URL"); v != "" {
		cfg.RealtimeBaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "RESPONDER_MODEL"); v != "" {
		cfg.ResponderModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	if v := os.Getenv(EnvPrefix + "LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv(EnvPrefix + "SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv(EnvPrefix + "SESSION_RETENTION"); v != "" {
		cfg.SessionRetention = v
	}
	if v := os.Getenv(EnvPrefix + "FINALIZE_DELAY"); v != "" {
		cfg.FinalizeDelay = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured — realtime calls, synthesis, and summaries are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — the legacy call method is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	switch cfg.DefaultMethod {
	case "realtime", "legacy", "relay":
	default:
		warnings = append(warnings, fmt.Sprintf("Invalid default_method %q — using realtime.", cfg.DefaultMethod))
		cfg.DefaultMethod = "realtime"
	}

	if !strings.Contains(cfg.ResponderModel, "/") {
		warnings = append(warnings, fmt.Sprintf("Invalid responder_model %q — expected provider/model_name, using openai/gpt-4o-mini.", cfg.ResponderModel))
		cfg.ResponderModel = "openai/gpt-4o-mini"
	}

	for _, raw := range []struct{ name, value string }{
		{"sweep_interval", cfg.SweepInterval},
		{"session_retention", cfg.SessionRetention},
		{"finalize_delay", cfg.FinalizeDelay},
	} {
		if _, err := time.ParseDuration(raw.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using the default.", raw.name, raw.value))
		}
	}

	for _, tenant := range cfg.Tenants {
		if tenant.TenantID == "" {
			warnings = append(warnings, "Tenant seed entry without tenant_id skipped.")
		}
	}

	return warnings
}
