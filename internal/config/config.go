package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by AGENTD_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("AGENTD_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// Reload re-reads the same files as Load, letting their values replace
// variables that are already set.
func Reload() error {
	envFile := os.Getenv("AGENTD_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Overload(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reload %s: %w", envFile, err)
	}
	if err := godotenv.Overload(envFile + ".secret"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reload %s.secret: %w", envFile, err)
	}
	return nil
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// SQLitePath is used when DATABASE_URL is empty.
func SQLitePath() string {
	return os.Getenv("SQLITE_PATH")
}

// Store drivers
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// StoreDriver returns STORE_DRIVER, or infers it from which of
// DATABASE_URL and SQLITE_PATH is set.
func StoreDriver() string {
	if d := os.Getenv("STORE_DRIVER"); d != "" {
		return d
	}
	switch {
	case DatabaseURL() != "":
		return StorePostgres
	case SQLitePath() != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	return stringEnv("LLM_PROVIDER", "openai")
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "none" if not set.
// Valid values: openai, mock, none
func EmbeddingProvider() string {
	return stringEnv("EMBEDDING_PROVIDER", "none")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "openai":
		return OpenAIAPIKey()
	default:
		return ""
	}
}

// EmbeddingModel names the embedding model. Defaults to text-embedding-3-small.
func EmbeddingModel() string {
	return stringEnv("EMBEDDING_MODEL", "text-embedding-3-small")
}

// EmbeddingBaseURL points at an OpenAI-compatible API root.
func EmbeddingBaseURL() string {
	return stringEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1")
}

// EmbeddingTimeout bounds one embedding request. Defaults to 10s.
func EmbeddingTimeout() time.Duration {
	ms := intEnv("EMBEDDING_TIMEOUT_MS", 10000)
	if ms == 0 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// EmbeddingDimensions asks the model for shortened vectors. 0 keeps the
// model's native size.
func EmbeddingDimensions() int {
	return intEnv("EMBEDDING_DIMENSIONS", 0)
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return stringEnv("LOG_LEVEL", "info")
}

// LogFormat is "json" or "console". Defaults to "json".
func LogFormat() string {
	return stringEnv("LOG_FORMAT", "json")
}

// LogFile enables a rotated JSON log file when set.
func LogFile() string {
	return os.Getenv("LOG_FILE")
}

func AgentID() string {
	return os.Getenv("AGENT_ID")
}

func AgentRole() string {
	return os.Getenv("AGENT_ROLE")
}

// AgentManifest is the path of the YAML agent manifest, if any.
func AgentManifest() string {
	return os.Getenv("AGENT_MANIFEST")
}

func CycleInterval() time.Duration {
	return time.Duration(intEnv("CYCLE_INTERVAL_SECONDS", 300)) * time.Second
}

func StrategicReplanInterval() time.Duration {
	return time.Duration(intEnv("STRATEGIC_REPLAN_INTERVAL_HOURS", 24)) * time.Hour
}

func MaxRetries() int {
	return intEnv("MAX_RETRIES", 3)
}

func RetryBase() time.Duration {
	return time.Duration(intEnv("RETRY_BASE_MS", 500)) * time.Millisecond
}

func BackoffMultiplier() float64 {
	m := floatEnv("BACKOFF_MULTIPLIER", 2.0)
	if m < 1 {
		return 2.0
	}
	return m
}

func MaxBackoff() time.Duration {
	return time.Duration(intEnv("MAX_BACKOFF_MS", 300000)) * time.Millisecond
}

// LoopBackoffBase is the first delay after an errored cycle.
func LoopBackoffBase() time.Duration {
	return time.Duration(intEnv("LOOP_BACKOFF_BASE_MS", 1000)) * time.Millisecond
}

func CapabilityTimeout() time.Duration {
	return time.Duration(intEnv("PER_CAPABILITY_TIMEOUT_MS", 30000)) * time.Millisecond
}

func ReasonerTimeout() time.Duration {
	return time.Duration(intEnv("PER_REASONER_TIMEOUT_MS", 60000)) * time.Millisecond
}

func ReflectInterval() time.Duration {
	return time.Duration(intEnv("REFLECT_INTERVAL_MINUTES", 60)) * time.Minute
}

func ReflectOutcomeThreshold() int {
	return intEnv("REFLECT_OUTCOME_THRESHOLD", 5)
}

func ChurnThreshold() int {
	return intEnv("CHURN_THRESHOLD", 3)
}

func MaxIntentionsPerCycle() int {
	return intEnv("MAX_INTENTIONS_PER_CYCLE", 5)
}

func ExecutionConcurrency() int {
	n := intEnv("EXECUTION_CONCURRENCY", 1)
	if n < 1 {
		return 1
	}
	return n
}

func RetryUnknownErrors() bool {
	return boolEnv("RETRY_UNKNOWN_ERRORS", false)
}

// CapabilityRatePerSec limits calls per capability. Zero means unlimited.
func CapabilityRatePerSec() float64 {
	return floatEnv("CAPABILITY_RATE_PER_SEC", 0)
}

func PlanContextBeliefs() int {
	return intEnv("PLAN_CONTEXT_BELIEFS", 20)
}

func CycleHistory() int {
	return intEnv("CYCLE_HISTORY", 100)
}
