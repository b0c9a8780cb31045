package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "PUBLIC_URL", "DB_PATH", "RECORDING_DIR", "RECORD_CALLS",
		"DEFAULT_METHOD", "REALTIME_MODEL", "REALTIME_BASE_URL",
		"RESPONDER_MODEL", "SUMMARY_MODEL", "LANGUAGE",
		"SWEEP_INTERVAL", "SESSION_RETENTION", "FINALIZE_DELAY",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"OPENAI_API_KEY", "DEEPGRAM_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "data/voice-gateway.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.DefaultMethod != "realtime" {
		t.Fatalf("expected default method realtime, got %q", cfg.DefaultMethod)
	}
	if cfg.RealtimeModel != "gpt-realtime" {
		t.Fatalf("expected default realtime_model, got %q", cfg.RealtimeModel)
	}
	if cfg.ResponderModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected default responder_model, got %q", cfg.ResponderModel)
	}
	if cfg.Language != "en-US" {
		t.Fatalf("expected default language, got %q", cfg.Language)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen_addr: 0.0.0.0:9090
public_url: https://voice.example.com
db_path: /custom/db.sqlite
recording_dir: /custom/recordings
record_calls: true
default_method: legacy
responder_model: anthropic/claude-sonnet-4-20250514
finalize_delay: 3s
gdrive_folder_id: my-folder
tenants:
  - tenant_id: tn-1
    name: Acme
    greeting: Thanks for calling Acme.
    voice: alloy
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.PublicURL != "https://voice.example.com" {
		t.Fatalf("expected yaml public_url, got %q", cfg.PublicURL)
	}
	if cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if !cfg.RecordCalls {
		t.Fatal("expected yaml record_calls true")
	}
	if cfg.DefaultMethod != "legacy" {
		t.Fatalf("expected yaml default_method, got %q", cfg.DefaultMethod)
	}
	if cfg.ResponderModel != "anthropic/claude-sonnet-4-20250514" {
		t.Fatalf("expected yaml responder_model, got %q", cfg.ResponderModel)
	}
	if cfg.GDriveFolderID != "my-folder" {
		t.Fatalf("expected yaml gdrive_folder_id, got %q", cfg.GDriveFolderID)
	}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0].TenantID != "tn-1" || cfg.Tenants[0].Greeting != "Thanks for calling Acme." {
		t.Fatalf("expected yaml tenant seed, got %+v", cfg.Tenants)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /from/yaml
realtime_model: model-yaml
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"REALTIME_MODEL", "model-env")
	t.Setenv(EnvPrefix+"RECORD_CALLS", "true")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.RealtimeModel != "model-env" {
		t.Fatalf("expected env override for realtime_model, got %q", cfg.RealtimeModel)
	}
	if !cfg.RecordCalls {
		t.Fatal("expected env override for record_calls")
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oai-secret")
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "ant-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
	if cfg.OpenAIAPIKey != "oai-secret" {
		t.Fatalf("expected openai key from env, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "ant-secret" {
		t.Fatalf("expected anthropic key from env, got %q", cfg.AnthropicAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
openai_api_key: should-be-ignored
deepgram_api_key: also-ignored
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected empty openai key (yaml should be ignored), got %q", cfg.OpenAIAPIKey)
	}
	if cfg.DeepgramAPIKey != "" {
		t.Fatalf("expected empty deepgram key (yaml should be ignored), got %q", cfg.DeepgramAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var deepgramWarning, openaiWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "Deepgram") {
			deepgramWarning = true
		}
		if strings.Contains(w, "OpenAI") {
			openaiWarning = true
		}
	}

	if !deepgramWarning {
		t.Fatalf("expected Deepgram warning when key is missing, got warnings: %v", warnings)
	}
	if !openaiWarning {
		t.Fatalf("expected OpenAI warning when key is missing, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestInvalidMethodFallsBackToRealtime(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"DEFAULT_METHOD", "carrier-pigeon")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DefaultMethod != "realtime" {
		t.Fatalf("expected fallback to realtime, got %q", cfg.DefaultMethod)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "default_method") {
		t.Fatalf("expected default_method warning, got: %v", warnings)
	}
}

func TestInvalidDurationWarningAndFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"FINALIZE_DELAY", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "finalize_delay") {
		t.Fatalf("expected finalize_delay warning, got: %v", warnings)
	}

	if cfg.ParsedFinalizeDelay() != 2*time.Second {
		t.Fatalf("expected fallback to 2s, got %v", cfg.ParsedFinalizeDelay())
	}
	if cfg.ParsedSweepInterval() != time.Minute {
		t.Fatalf("expected default sweep interval, got %v", cfg.ParsedSweepInterval())
	}
	if cfg.ParsedSessionRetention() != 5*time.Minute {
		t.Fatalf("expected default session retention, got %v", cfg.ParsedSessionRetention())
	}
}

func TestInvalidResponderModelFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"RESPONDER_MODEL", "no-provider-prefix")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ResponderModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected fallback responder_model, got %q", cfg.ResponderModel)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "responder_model") {
		t.Fatalf("expected responder_model warning, got: %v", warnings)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/voice-gateway.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	_, _, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}
