package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Server
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	APIPrefix   string `yaml:"api_prefix"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// CORS
	CORSOrigins []string `yaml:"cors_origins"`

	// Auth
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	EnableAuth   bool     `yaml:"enable_auth"`

	// Rate Limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Databricks / Genie
	DatabricksInstance     string `yaml:"databricks_instance"`
	GenieSpaceID           string `yaml:"genie_space_id"`
	DatabricksToken        string `yaml:"databricks_token"`
	DatabricksClientID     string `yaml:"databricks_client_id"`
	DatabricksClientSecret string `yaml:"databricks_client_secret"`
	DatabricksRedirectURI  string `yaml:"databricks_redirect_uri"`
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
	PollTimeoutSeconds     int    `yaml:"poll_timeout_seconds"`
	RequestTimeoutSeconds  int    `yaml:"request_timeout_seconds"`
	FetchResults           bool   `yaml:"fetch_results"`

	// AI / LLM
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"` // override for a custom proxy
	AnthropicModel   string `yaml:"anthropic_model"`
	AgentTimeout     int    `yaml:"agent_timeout"`

	// Reports
	OutputDir     string `yaml:"output_dir"`
	OutputFile    string `yaml:"output_file"`
	ReportIcon    string `yaml:"report_icon"`
	ReportMaxRows int    `yaml:"report_max_rows"`

	// Crew roster; empty means the embedded defaults
	AgentsFile string `yaml:"agents_file"`
	TasksFile  string `yaml:"tasks_file"`

	// Security
	MaxPromptLength    int      `yaml:"max_prompt_length"`
	EnableDataMasking  bool     `yaml:"enable_data_masking"`
	EnablePIIDetection bool     `yaml:"enable_pii_detection"`
	SensitiveColumns   []string `yaml:"sensitive_columns"`
	PIIKeywords        []string `yaml:"pii_keywords"`
	EnableAuditLogging bool     `yaml:"enable_audit_logging"`
}

// Load builds the configuration: defaults, then .env, then the YAML file named by
// DATA_ANALYST_CONFIG, then environment variables.
func Load() (*Config, error) {
	return LoadFile(getEnv("DATA_ANALYST_CONFIG", ""))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		Environment:           DefaultEnvironment,
		APIPrefix:             DefaultAPIPrefix,
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
		CORSOrigins:           append([]string(nil), DefaultCORSOrigins...),
		APIKeyHeader:          "X-API-Key",
		EnableAuth:            true,
		RateLimitPerMinute:    DefaultRateLimitPerMinute,
		PollIntervalSeconds:   int(DefaultPollInterval / time.Second),
		PollTimeoutSeconds:    int(DefaultPollTimeout / time.Second),
		RequestTimeoutSeconds: int(DefaultRequestTimeout / time.Second),
		FetchResults:          true,
		AnthropicModel:        DefaultAnthropicModel,
		AgentTimeout:          DefaultAgentTimeout,
		OutputDir:             DefaultOutputDir,
		OutputFile:            DefaultOutputFile,
		ReportIcon:            DefaultReportIcon,
		ReportMaxRows:         DefaultReportMaxRows,
		MaxPromptLength:       DefaultMaxPromptLength,
		EnableDataMasking:     true,
		EnablePIIDetection:    true,
		SensitiveColumns:      append([]string(nil), DefaultSensitiveColumns...),
		PIIKeywords:           append([]string(nil), DefaultPIIKeywords...),
		EnableAuditLogging:    true,
	}
}

func loadYAML(path string, cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnv("DATA_ANALYST_HOST", ""); v != "" {
		cfg.Host = v
	}
	if v := getEnv("DATA_ANALYST_PORT", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := getEnv("DATA_ANALYST_ENV", ""); v != "" {
		cfg.Environment = v
	}
	if v := getEnv("DATA_ANALYST_LOG_LEVEL", ""); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("DATA_ANALYST_LOG_FORMAT", ""); v != "" {
		cfg.LogFormat = v
	}
	if v := getEnv("DATA_ANALYST_API_KEYS", ""); v != "" {
		cfg.APIKeys = splitList(v)
	}
	if v := getEnv("DATA_ANALYST_CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if v := getEnv("DATABRICKS_INSTANCE", ""); v != "" {
		cfg.DatabricksInstance = v
	}
	if v := getEnv("GENIE_SPACE_ID", ""); v != "" {
		cfg.GenieSpaceID = v
	}
	if v := getEnv("DATABRICKS_TOKEN", ""); v != "" {
		cfg.DatabricksToken = v
	}
	if v := getEnv("DATABRICKS_CLIENT_ID", ""); v != "" {
		cfg.DatabricksClientID = v
	}
	if v := getEnv("DATABRICKS_CLIENT_SECRET", ""); v != "" {
		cfg.DatabricksClientSecret = v
	}
	if v := getEnv("DATABRICKS_REDIRECT_URI", ""); v != "" {
		cfg.DatabricksRedirectURI = v
	}
	if v := getEnv("GENIE_POLL_INTERVAL", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalSeconds = n
		}
	}
	if v := getEnv("GENIE_POLL_TIMEOUT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollTimeoutSeconds = n
		}
	}
	if v := getEnv("GENIE_FETCH_RESULTS", ""); v != "" {
		cfg.FetchResults = parseBool(v)
	}

	if v := getEnv("ANTHROPIC_API_KEY", ""); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := getEnv("ANTHROPIC_BASE_URL", ""); v != "" {
		cfg.AnthropicBaseURL = v
	}
	if v := getEnv("ANTHROPIC_MODEL", ""); v != "" {
		cfg.AnthropicModel = v
	}

	if v := getEnv("REPORT_OUTPUT_DIR", ""); v != "" {
		cfg.OutputDir = v
	}
	if v := getEnv("DATA_ANALYST_AGENTS_FILE", ""); v != "" {
		cfg.AgentsFile = v
	}
	if v := getEnv("DATA_ANALYST_TASKS_FILE", ""); v != "" {
		cfg.TasksFile = v
	}

	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = r
		}
	}
	if v := getEnv("ENABLE_AUTH", ""); v != "" {
		cfg.EnableAuth = parseBool(v)
	}
}

// GenieSettings resolves the workspace and exactly one credential scheme. Problems are
// reported as genie config errors before any network call.
func (c *Config) GenieSettings() (genie.Settings, error) {
	ws := genie.Workspace{Host: c.DatabricksInstance, SpaceID: c.GenieSpaceID}
	if genie.NormalizeHost(ws.Host) == "" {
		return genie.Settings{}, genie.ConfigError("DATABRICKS_INSTANCE is not set")
	}
	if strings.TrimSpace(ws.SpaceID) == "" {
		return genie.Settings{}, genie.ConfigError("GENIE_SPACE_ID is not set")
	}
	cred, err := genie.ResolveCredential(c.DatabricksToken, c.DatabricksClientID,
		c.DatabricksClientSecret, c.DatabricksRedirectURI)
	if err != nil {
		return genie.Settings{}, err
	}
	return genie.Settings{
		Workspace:      ws,
		Credential:     cred,
		PollInterval:   seconds(c.PollIntervalSeconds),
		Timeout:        seconds(c.PollTimeoutSeconds),
		RequestTimeout: seconds(c.RequestTimeoutSeconds),
	}, nil
}

// OutputPath is the default report location.
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, c.OutputFile)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
