package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workstories/internal/correlate"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "./workstories.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.ReportOutputDir != "./reports" || cfg.InputPath != "./evidence.json" {
		t.Fatalf("unexpected path defaults: %q %q", cfg.ReportOutputDir, cfg.InputPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.BudgetResetSchedule != DefaultBudgetResetSchedule || cfg.CorrelateSchedule != "" {
		t.Fatalf("unexpected schedules: %q %q", cfg.BudgetResetSchedule, cfg.CorrelateSchedule)
	}
	if cfg.EmbeddingProvider != "local" || cfg.LLMProvider != "none" {
		t.Fatalf("unexpected providers: %q %q", cfg.EmbeddingProvider, cfg.LLMProvider)
	}
	if cfg.Engine != correlate.DefaultOptions() {
		t.Fatalf("engine options = %+v", cfg.Engine)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.RuleBasedOnly() || cfg.SlackConfigured() {
		t.Fatal("defaults should run the full pipeline without slack")
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: "/tmp/yaml.db"
report_output_dir: "/tmp/yaml-reports"
timezone: "America/Los_Angeles"
monthly_budget_usd: 12.5
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
correlate_schedule: "0 6 * * 1-5"
pricing:
  claude-sonnet-4:
    input: 2
    output: 10
engine:
  confidence_threshold: 0.4
  include_singletons: true
  llm_max_calls: 3
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("MONTHLY_BUDGET_USD", "20")
	t.Setenv("ENGINE_FAN_OUT", "8")
	t.Setenv("ENGINE_ANALYZE_WORK_PATTERNS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if cfg.ReportOutputDir != "/tmp/yaml-reports" {
		t.Fatalf("expected report output dir from yaml, got %q", cfg.ReportOutputDir)
	}
	if cfg.MonthlyBudgetUSD != 20 {
		t.Fatalf("expected budget from env override, got %v", cfg.MonthlyBudgetUSD)
	}
	if cfg.Pricing["claude-sonnet-4"].Output != 10 {
		t.Fatalf("pricing = %+v", cfg.Pricing)
	}
	e := cfg.Engine
	if e.ConfidenceThreshold != 0.4 || !e.IncludeSingletons || e.LLMMaxCalls != 3 {
		t.Fatalf("engine yaml not applied: %+v", e)
	}
	if e.FanOut != 8 || e.AnalyzeWorkPatterns {
		t.Fatalf("engine env not applied: %+v", e)
	}
	// Keys absent from the engine block keep their defaults.
	if e.AutoAcceptThreshold != 0.7 || e.MaxWorkStories != 50 || !e.GenerateInsights {
		t.Fatalf("engine defaults lost: %+v", e)
	}
	if cfg.Location.String() != "America/Los_Angeles" {
		t.Fatalf("location = %v", cfg.Location)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Colony"}, "invalid timezone"},
		{"anthropic without key", map[string]string{"LLM_PROVIDER": "anthropic"}, "anthropic_api_key is required"},
		{"unknown llm provider", map[string]string{"LLM_PROVIDER": "bard"}, "llm_provider must be"},
		{"openai embeddings without key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, "openai_api_key is required when embedding_provider=openai"},
		{"negative budget", map[string]string{"MONTHLY_BUDGET_USD": "-1"}, "monthly_budget_usd"},
		{"bad schedule", map[string]string{"CORRELATE_SCHEDULE": "every day"}, "invalid correlate_schedule"},
		{"bad mode", map[string]string{"CORRELATION_MODE": "fast"}, "correlation_mode"},
		{"engine threshold", map[string]string{"ENGINE_AUTO_ACCEPT_THRESHOLD": "0"}, "auto_accept_threshold"},
		{"unparseable int", map[string]string{"ENGINE_FAN_OUT": "many"}, "invalid ENGINE_FAN_OUT"},
		{"short http timeout", map[string]string{"EXTERNAL_HTTP_TIMEOUT_SECONDS": "2"}, "external_http_timeout_seconds"},
		{"missing catalog", map[string]string{"TECHNOLOGY_CATALOG_PATH": "/nonexistent/tech.yaml"}, "technology_catalog_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestEngineValidationWrapsSentinel(t *testing.T) {
	isolate(t)
	t.Setenv("ENGINE_MAX_WORK_STORIES", "0")
	_, err := Load()
	if !errors.Is(err, correlate.ErrInvalidOptions) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("WS_TEST_STR", "value")
	envOverride(&s, "WS_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	empty := "initial"
	t.Setenv("WS_TEST_EMPTY", "")
	envOverrideAllowEmpty(&empty, "WS_TEST_EMPTY")
	if empty != "" {
		t.Fatalf("envOverrideAllowEmpty failed, got %q", empty)
	}

	i := 1
	t.Setenv("WS_TEST_INT", "42")
	if err := envOverrideInt(&i, "WS_TEST_INT"); err != nil || i != 42 {
		t.Fatalf("envOverrideInt failed, got %d err=%v", i, err)
	}

	f := 0.1
	t.Setenv("WS_TEST_FLOAT", "0.75")
	if err := envOverrideFloat(&f, "WS_TEST_FLOAT"); err != nil || f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f err=%v", f, err)
	}

	b := false
	t.Setenv("WS_TEST_BOOL", "1")
	if err := envOverrideBool(&b, "WS_TEST_BOOL"); err != nil || !b {
		t.Fatalf("envOverrideBool failed, got %v err=%v", b, err)
	}
	t.Setenv("WS_TEST_BOOL", "maybe")
	if err := envOverrideBool(&b, "WS_TEST_BOOL"); err == nil {
		t.Fatal("expected an error for a malformed bool")
	}
}

func TestLoadConfigInvalidTimezoneFatal(t *testing.T) {
	if os.Getenv("TEST_INVALID_TZ_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("TIMEZONE", "Mars/Colony")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigInvalidTimezoneFatal")
	cmd.Env = append(os.Environ(), "TEST_INVALID_TZ_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}
