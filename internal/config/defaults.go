package config

import "time"

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultEnvironment = "development"
	DefaultAPIPrefix   = "/api/v1"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"

	DefaultRateLimitPerMinute = 60

	DefaultPollInterval   = 5 * time.Second
	DefaultPollTimeout    = 600 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultAgentTimeout   = 300 // seconds

	DefaultOutputDir     = "output"
	DefaultOutputFile    = "databricks_query_output.md"
	DefaultReportIcon    = "📊"
	DefaultReportMaxRows = 100

	DefaultMaxPromptLength = 2000
)

var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
}

var DefaultSensitiveColumns = []string{
	"email", "phone", "ssn", "social_security_number",
	"credit_card", "password", "secret", "token",
	"api_key", "access_key", "private_key",
}

var DefaultPIIKeywords = []string{
	"password", "ssn", "social security", "credit card",
	"bank account", "pin", "secret", "private key",
	"access token", "api key", "personal data",
}
