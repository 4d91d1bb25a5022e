package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "RAGSQL_"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Cache      CacheConfig      `json:"cache"`
	Logging    LoggingConfig    `json:"logging"`
	Debug      DebugConfig      `json:"debug"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	LLM        LLMConfig        `json:"llm"`
	Context    ContextConfig    `json:"context"`
	Validation ValidationConfig `json:"validation"`
	Execution  ExecutionConfig  `json:"execution"`
	Warehouse  WarehouseConfig  `json:"warehouse"`
	Schema     SchemaConfig     `json:"schema"`
	Corpus     CorpusConfig     `json:"corpus"`
}

// DatabaseConfig configures the DuckDB file that persists the example index
type DatabaseConfig struct {
	Path            string `json:"path"               env:"DB_PATH"               envDefault:"~/.config/ragsql/index.db"`
	MaxConnections  int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	QueryTimeout    string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
}

// CacheConfig configures the query result cache
type CacheConfig struct {
	Backend     string `json:"backend"           env:"CACHE_BACKEND"      envDefault:"file"` // file, redis
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/ragsql"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB"  envDefault:"500"`
	TTL         string `json:"ttl"               env:"CACHE_TTL"          envDefault:"1h"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"10m"`
	RedisAddr   string `json:"redis_addr"        env:"CACHE_REDIS_ADDR"   envDefault:"localhost:6379"`
	RedisDB     int    `json:"redis_db"          env:"CACHE_REDIS_DB"     envDefault:"0"`
	RedisPrefix string `json:"redis_prefix"      env:"CACHE_REDIS_PREFIX" envDefault:"ragsql:result:"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`                          // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`                          // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                        // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/ragsql/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled     bool `json:"enabled"      env:"DEBUG"              envDefault:"false"`
	MetricsPort int  `json:"metrics_port" env:"DEBUG_METRICS_PORT" envDefault:"9464"`
	Verbose     bool `json:"verbose"      env:"VERBOSE"            envDefault:"false"`
}

// RetrievalConfig configures example retrieval
type RetrievalConfig struct {
	K             int     `json:"k"              env:"RETRIEVAL_K"              envDefault:"8"`
	Hybrid        bool    `json:"hybrid"         env:"RETRIEVAL_HYBRID"         envDefault:"true"`
	VectorWeight  float64 `json:"vector_weight"  env:"RETRIEVAL_VECTOR_WEIGHT"  envDefault:"0.7"`
	LexicalWeight float64 `json:"lexical_weight" env:"RETRIEVAL_LEXICAL_WEIGHT" envDefault:"0.3"`
	Distance      string  `json:"distance"       env:"RETRIEVAL_DISTANCE"       envDefault:"cosine"` // cosine, l2
	EmbedTimeout  string  `json:"embed_timeout"  env:"RETRIEVAL_EMBED_TIMEOUT"  envDefault:"15s"`
}

// EmbeddingConfig configures the embedding provider
type EmbeddingConfig struct {
	Provider   string  `json:"provider"    env:"EMBEDDING_PROVIDER"    envDefault:"local"` // local, openai, ollama
	Model      string  `json:"model"       env:"EMBEDDING_MODEL"       envDefault:"text-embedding-3-small"`
	Dimensions int     `json:"dimensions"  env:"EMBEDDING_DIMENSIONS"  envDefault:"384"`
	BaseURL    string  `json:"base_url"    env:"EMBEDDING_BASE_URL"`
	APIKey     string  `json:"-"           env:"EMBEDDING_API_KEY"`
	RateLimit  float64 `json:"rate_limit"  env:"EMBEDDING_RATE_LIMIT"  envDefault:"20"` // requests per second, 0 disables
	BatchSize  int     `json:"batch_size"  env:"EMBEDDING_BATCH_SIZE"  envDefault:"32"`
	MaxWorkers int     `json:"max_workers" env:"EMBEDDING_MAX_WORKERS" envDefault:"4"`
}

// LLMConfig configures the SQL generation model
type LLMConfig struct {
	Provider      string `json:"provider"       env:"LLM_PROVIDER"       envDefault:"openai"` // openai, anthropic, ollama, offline
	Model         string `json:"model"          env:"LLM_MODEL"          envDefault:"gpt-4o-mini"`
	BaseURL       string `json:"base_url"       env:"LLM_BASE_URL"`
	APIKey        string `json:"-"              env:"LLM_API_KEY"`
	MaxTokens     int    `json:"max_tokens"     env:"LLM_MAX_TOKENS"     envDefault:"1024"`
	RetryAttempts int    `json:"retry_attempts" env:"LLM_RETRY_ATTEMPTS" envDefault:"2"`
	RetryDelay    string `json:"retry_delay"    env:"LLM_RETRY_DELAY"    envDefault:"1s"`
	Timeout       string `json:"timeout"        env:"LLM_TIMEOUT"        envDefault:"60s"`
}

// ContextConfig configures prompt assembly
type ContextConfig struct {
	TokenBudget    int     `json:"token_budget"    env:"CONTEXT_TOKEN_BUDGET"    envDefault:"6000"`
	DedupThreshold float64 `json:"dedup_threshold" env:"CONTEXT_DEDUP_THRESHOLD" envDefault:"0.70"`
}

// ValidationConfig configures the SQL validator
type ValidationConfig struct {
	Level string `json:"level" env:"VALIDATION_LEVEL" envDefault:"schema_strict"` // syntax_only, table_exists, schema_strict
}

// ExecutionConfig configures warehouse execution
type ExecutionConfig struct {
	MaxBytesBilled   int64  `json:"max_bytes_billed"   env:"EXEC_MAX_BYTES_BILLED"   envDefault:"10737418240"`
	Timeout          string `json:"timeout"            env:"EXEC_TIMEOUT"            envDefault:"300s"`
	RetryAttempts    int    `json:"retry_attempts"     env:"EXEC_RETRY_ATTEMPTS"     envDefault:"3"`
	RetryBaseDelay   string `json:"retry_base_delay"   env:"EXEC_RETRY_BASE_DELAY"   envDefault:"500ms"`
	RetryMaxDelay    string `json:"retry_max_delay"    env:"EXEC_RETRY_MAX_DELAY"    envDefault:"8s"`
	BillingIncrement int64  `json:"billing_increment"  env:"EXEC_BILLING_INCREMENT"  envDefault:"10485760"`
	MaxRows          int    `json:"max_rows"           env:"EXEC_MAX_ROWS"           envDefault:"10000"`
}

// WarehouseConfig selects the analytical database queries run against
type WarehouseConfig struct {
	Driver string `json:"driver" env:"WAREHOUSE_DRIVER" envDefault:"duckdb"` // duckdb, postgres
	DSN    string `json:"dsn"    env:"WAREHOUSE_DSN"    envDefault:"~/.config/ragsql/warehouse.db"`
}

// SchemaConfig selects where the schema catalog is loaded from
type SchemaConfig struct {
	Source string `json:"source" env:"SCHEMA_SOURCE" envDefault:"warehouse"` // warehouse, csv, parquet, json
	Path   string `json:"path"   env:"SCHEMA_PATH"`
}

// CorpusConfig locates the example corpus used to build the index
type CorpusConfig struct {
	Path        string `json:"path"         env:"CORPUS_PATH"` // file path or s3://bucket/key
	S3Endpoint  string `json:"s3_endpoint"  env:"CORPUS_S3_ENDPOINT"  envDefault:"localhost:9000"`
	S3Region    string `json:"s3_region"    env:"CORPUS_S3_REGION"    envDefault:"us-east-1"`
	S3AccessKey string `json:"-"            env:"CORPUS_S3_ACCESS_KEY"`
	S3SecretKey string `json:"-"            env:"CORPUS_S3_SECRET_KEY"`
	S3UseSSL    bool   `json:"s3_use_ssl"   env:"CORPUS_S3_USE_SSL"   envDefault:"false"`
}

// LoadConfig loads configuration from file, environment variables, and defaults
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := &Config{}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// envDefault only fills fields the file left empty
	if err := env.ParseWithOptions(config, env.Options{
		Prefix:                       envPrefix,
		SetDefaultsForZeroValuesOnly: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the configuration produced by envDefault tags alone
func DefaultConfig() *Config {
	config := &Config{}
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return config
}

func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "level":
			if str, ok := value.(string); ok && str != "" {
				config.Validation.Level = str
			}
		case "warehouse-dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Warehouse.DSN = str
			}
		case "token-budget":
			if n, ok := value.(int); ok && n > 0 {
				config.Context.TokenBudget = n
			}
		case "k":
			if n, ok := value.(int); ok && n > 0 {
				config.Retrieval.K = n
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs copies non-zero values from source onto target
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				if !t.Field(i).CanSet() {
					continue
				}

				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

func validateConfig(config *Config) error {
	if !oneOf(config.Logging.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	if !oneOf(config.Logging.Format, "text", "json") {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	if !oneOf(config.Logging.Output, "stdout", "stderr", "file") {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	durations := map[string]string{
		"database query timeout":  config.Database.QueryTimeout,
		"cache ttl":               config.Cache.TTL,
		"cache cleanup frequency": config.Cache.CleanupFreq,
		"embedding timeout":       config.Retrieval.EmbedTimeout,
		"llm retry delay":         config.LLM.RetryDelay,
		"llm timeout":             config.LLM.Timeout,
		"execution timeout":       config.Execution.Timeout,
		"execution retry delay":   config.Execution.RetryBaseDelay,
		"execution retry max":     config.Execution.RetryMaxDelay,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if !oneOf(config.Cache.Backend, "file", "redis") {
		return fmt.Errorf("invalid cache backend: %s (must be file or redis)", config.Cache.Backend)
	}

	if config.Retrieval.K < 1 || config.Retrieval.K > 200 {
		return fmt.Errorf("retrieval k must be between 1 and 200: %d", config.Retrieval.K)
	}

	if config.Retrieval.VectorWeight < 0 || config.Retrieval.LexicalWeight < 0 ||
		config.Retrieval.VectorWeight+config.Retrieval.LexicalWeight <= 0 {
		return fmt.Errorf("retrieval weights must be non-negative with a positive sum")
	}

	if !oneOf(config.Retrieval.Distance, "cosine", "l2") {
		return fmt.Errorf("invalid retrieval distance: %s (must be cosine or l2)", config.Retrieval.Distance)
	}

	if !oneOf(config.Embedding.Provider, "local", "openai", "ollama") {
		return fmt.Errorf("invalid embedding provider: %s", config.Embedding.Provider)
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	if !oneOf(config.LLM.Provider, "openai", "anthropic", "ollama", "offline") {
		return fmt.Errorf("invalid llm provider: %s", config.LLM.Provider)
	}

	if config.Context.TokenBudget <= 0 {
		return fmt.Errorf("context token budget must be positive: %d", config.Context.TokenBudget)
	}

	if config.Context.DedupThreshold <= 0 || config.Context.DedupThreshold > 1 {
		return fmt.Errorf("context dedup threshold must be in (0, 1]: %g", config.Context.DedupThreshold)
	}

	if !oneOf(config.Validation.Level, "syntax_only", "table_exists", "schema_strict") {
		return fmt.Errorf(
			"invalid validation level: %s (must be syntax_only, table_exists, or schema_strict)",
			config.Validation.Level,
		)
	}

	if config.Execution.MaxBytesBilled <= 0 {
		return fmt.Errorf("execution max bytes billed must be positive: %d", config.Execution.MaxBytesBilled)
	}

	if !oneOf(config.Warehouse.Driver, "duckdb", "postgres") {
		return fmt.Errorf("invalid warehouse driver: %s (must be duckdb or postgres)", config.Warehouse.Driver)
	}

	if !oneOf(config.Schema.Source, "warehouse", "csv", "parquet", "json") {
		return fmt.Errorf("invalid schema source: %s", config.Schema.Source)
	}

	if config.Schema.Source != "warehouse" && config.Schema.Path == "" {
		return fmt.Errorf("schema path is required for source %s", config.Schema.Source)
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return true
		}
	}

	return false
}

// Duration parses a duration string that validateConfig already accepted
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Cache.Directory = expandPath(c.Cache.Directory)
	c.Logging.File = expandPath(c.Logging.File)
	c.Schema.Path = expandPath(c.Schema.Path)

	if c.Warehouse.Driver == "duckdb" {
		c.Warehouse.DSN = expandPath(c.Warehouse.DSN)
	}

	if !strings.HasPrefix(c.Corpus.Path, "s3://") {
		c.Corpus.Path = expandPath(c.Corpus.Path)
	}
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/ragsql"
	}

	return filepath.Join(homeDir, ".config", "ragsql")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Cache.Directory,
	}

	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
