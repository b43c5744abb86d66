package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"workstories/internal/correlate"
	"workstories/internal/ledger"
	"workstories/internal/story"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const DefaultBudgetResetSchedule = "0 0 1 * *"

type Config struct {
	DBPath                     string `yaml:"db_path"`
	InputPath                  string `yaml:"input_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	Timezone                   string `yaml:"timezone"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	// CorrelateSchedule is a cron expression. Empty runs once and exits.
	CorrelateSchedule   string `yaml:"correlate_schedule"`
	BudgetResetSchedule string `yaml:"budget_reset_schedule"`
	CorrelationMode     string `yaml:"correlation_mode"`

	MonthlyBudgetUSD    float64 `yaml:"monthly_budget_usd"`
	EmbeddingProvider   string  `yaml:"embedding_provider"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	OllamaURL           string  `yaml:"ollama_url"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	Pricing               ledger.PricingTable `yaml:"pricing"`
	TechnologyCatalogPath string              `yaml:"technology_catalog_path"`

	SlackBotToken        string `yaml:"slack_bot_token"`
	BudgetAlertChannelID string `yaml:"budget_alert_channel_id"`

	Engine correlate.Options `yaml:"engine"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig is Load for process start-up: any error is fatal.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads CONFIG_PATH (default config.yaml), applies environment
// overrides, then defaults, then validates.
func Load() (Config, error) {
	cfg := Config{Engine: correlate.DefaultOptions()}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	var errs []error
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.InputPath, "INPUT_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.Timezone, "TIMEZONE")
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	envOverrideAllowEmpty(&cfg.CorrelateSchedule, "CORRELATE_SCHEDULE")
	envOverride(&cfg.BudgetResetSchedule, "BUDGET_RESET_SCHEDULE")
	envOverride(&cfg.CorrelationMode, "CORRELATION_MODE")
	errs = append(errs, envOverrideFloat(&cfg.MonthlyBudgetUSD, "MONTHLY_BUDGET_USD"))
	envOverride(&cfg.EmbeddingProvider, "EMBEDDING_PROVIDER")
	envOverride(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	errs = append(errs, envOverrideInt(&cfg.EmbeddingDimensions, "EMBEDDING_DIMENSIONS"))
	envOverride(&cfg.OllamaURL, "OLLAMA_URL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.TechnologyCatalogPath, "TECHNOLOGY_CATALOG_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.BudgetAlertChannelID, "BUDGET_ALERT_CHANNEL_ID")
	errs = append(errs, engineOverrides(&cfg.Engine)...)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "./workstories.db"
	}
	if cfg.InputPath == "" {
		cfg.InputPath = "./evidence.json"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.BudgetResetSchedule == "" {
		cfg.BudgetResetSchedule = DefaultBudgetResetSchedule
	}
	if cfg.CorrelationMode == "" {
		cfg.CorrelationMode = string(correlate.ModeFull)
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "local"
	}
	if cfg.EmbeddingDimensions == 0 {
		cfg.EmbeddingDimensions = 512
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434/api"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "none"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.MonthlyBudgetUSD == 0 {
		log.Printf("WARNING: monthly_budget_usd is 0; paid tiers are disabled and runs are rule-based in effect.")
	}
	if cfg.SlackBotToken != "" && cfg.BudgetAlertChannelID == "" {
		log.Printf("WARNING: slack_bot_token is set but budget_alert_channel_id is empty; budget alerts are disabled.")
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("invalid monthly_budget_usd '%v': must be >= 0", cfg.MonthlyBudgetUSD)
	}
	if cfg.EmbeddingDimensions < 16 {
		return fmt.Errorf("invalid embedding_dimensions '%d': must be >= 16", cfg.EmbeddingDimensions)
	}
	if cfg.CorrelateSchedule != "" {
		if err := ValidateSchedule(cfg.CorrelateSchedule); err != nil {
			return fmt.Errorf("invalid correlate_schedule '%s': %w", cfg.CorrelateSchedule, err)
		}
	}
	if err := ValidateSchedule(cfg.BudgetResetSchedule); err != nil {
		return fmt.Errorf("invalid budget_reset_schedule '%s': %w", cfg.BudgetResetSchedule, err)
	}

	switch correlate.Mode(cfg.CorrelationMode) {
	case correlate.ModeFull, correlate.ModeRuleBased:
	default:
		return fmt.Errorf("correlation_mode must be 'full' or 'rule-based', got '%s'", cfg.CorrelationMode)
	}

	switch cfg.EmbeddingProvider {
	case "local", "ollama", "none":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when embedding_provider=openai")
		}
	default:
		return fmt.Errorf("embedding_provider must be 'local', 'openai', 'ollama' or 'none', got '%s'", cfg.EmbeddingProvider)
	}

	switch cfg.LLMProvider {
	case "none":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'none', got '%s'", cfg.LLMProvider)
	}

	for model, p := range cfg.Pricing {
		if p.Input < 0 || p.Output < 0 || p.CacheCreation < 0 || p.CacheRead < 0 {
			return fmt.Errorf("invalid pricing for '%s': prices must be >= 0", model)
		}
	}
	if cfg.TechnologyCatalogPath != "" {
		if _, err := story.LoadCatalog(cfg.TechnologyCatalogPath); err != nil {
			return fmt.Errorf("invalid technology_catalog_path '%s': %w", cfg.TechnologyCatalogPath, err)
		}
	}
	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule parses a standard five-field cron expression.
func ValidateSchedule(expr string) error {
	_, err := scheduleParser.Parse(expr)
	return err
}

func engineOverrides(o *correlate.Options) []error {
	errs := []error{
		envOverrideFloat(&o.ConfidenceThreshold, "ENGINE_CONFIDENCE_THRESHOLD"),
		envOverrideInt(&o.MaxWorkStories, "ENGINE_MAX_WORK_STORIES"),
		envOverrideBool(&o.IncludeLowConfidence, "ENGINE_INCLUDE_LOW_CONFIDENCE"),
		envOverrideBool(&o.DetectTechnologyStack, "ENGINE_DETECT_TECHNOLOGY_STACK"),
		envOverrideBool(&o.AnalyzeWorkPatterns, "ENGINE_ANALYZE_WORK_PATTERNS"),
		envOverrideBool(&o.GenerateInsights, "ENGINE_GENERATE_INSIGHTS"),
		envOverrideInt(&o.MinEvidencePerStory, "ENGINE_MIN_EVIDENCE_PER_STORY"),
		envOverrideInt(&o.MaxStoryDurationDays, "ENGINE_MAX_STORY_DURATION_DAYS"),
		envOverrideBool(&o.IncludeSingletons, "ENGINE_INCLUDE_SINGLETONS"),
		envOverrideFloat(&o.AutoAcceptThreshold, "ENGINE_AUTO_ACCEPT_THRESHOLD"),
		envOverrideFloat(&o.EscalationFloor, "ENGINE_ESCALATION_FLOOR"),
		envOverrideFloat(&o.EmbeddingAcceptThreshold, "ENGINE_EMBEDDING_ACCEPT_THRESHOLD"),
		envOverrideFloat(&o.LLMAcceptThreshold, "ENGINE_LLM_ACCEPT_THRESHOLD"),
		envOverrideFloat(&o.LLMMinImportance, "ENGINE_LLM_MIN_IMPORTANCE"),
		envOverrideInt(&o.LLMMaxCalls, "ENGINE_LLM_MAX_CALLS"),
		envOverrideFloat(&o.LLMCallFraction, "ENGINE_LLM_CALL_FRACTION"),
		envOverrideInt(&o.ProximityWindowHours, "ENGINE_PROXIMITY_WINDOW_HOURS"),
		envOverrideInt(&o.MinTokenLength, "ENGINE_MIN_TOKEN_LENGTH"),
		envOverrideInt(&o.MaxCandidates, "ENGINE_MAX_CANDIDATES"),
		envOverrideInt(&o.FanOut, "ENGINE_FAN_OUT"),
		envOverrideInt(&o.CallTimeoutSeconds, "ENGINE_CALL_TIMEOUT_SECONDS"),
	}
	return errs
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.BudgetAlertChannelID != ""
}

func (c Config) RuleBasedOnly() bool {
	return correlate.Mode(c.CorrelationMode) == correlate.ModeRuleBased
}
