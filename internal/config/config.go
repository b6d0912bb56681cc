package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "SQLRAG_"

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Index     IndexConfig     `json:"index"     envPrefix:"SQLRAG_"`
	Embedding EmbeddingConfig `json:"embedding" envPrefix:"SQLRAG_"`
	LLM       LLMConfig       `json:"llm"       envPrefix:"SQLRAG_"`
	Prompt    PromptConfig    `json:"prompt"    envPrefix:"SQLRAG_"`
	Repair    RepairConfig    `json:"repair"    envPrefix:"SQLRAG_"`
	Retry     RetryConfig     `json:"retry"     envPrefix:"SQLRAG_"`
	Mirror    MirrorConfig    `json:"mirror"    envPrefix:"SQLRAG_"`
	Cache     CacheConfig     `json:"cache"     envPrefix:"SQLRAG_"`
	Server    ServerConfig    `json:"server"    envPrefix:"SQLRAG_"`
	Logging   LoggingConfig   `json:"logging"   envPrefix:"SQLRAG_"`
	Debug     DebugConfig     `json:"debug"     envPrefix:"SQLRAG_"`
}

// DatabaseConfig describes the database whose schema is indexed. The DB_* keys
// are read without a prefix so an existing .env file keeps working.
type DatabaseConfig struct {
	Driver       string `json:"driver"        env:"DB_DRIVER"        envDefault:"postgres"` // postgres, duckdb, tbls
	Host         string `json:"host"          env:"DB_HOST"          envDefault:"localhost"`
	Port         int    `json:"port"          env:"DB_PORT"          envDefault:"5433"`
	Name         string `json:"name"          env:"DB_NAME"          envDefault:"rag_to_sql"`
	User         string `json:"user"          env:"DB_USER"          envDefault:"postgres"`
	Password     string `json:"password"      env:"DB_PASSWORD"      envDefault:"1234"`
	SSLMode      string `json:"ssl_mode"      env:"DB_SSLMODE"       envDefault:"disable"`
	DSN          string `json:"dsn"           env:"DB_DSN"`                                  // overrides host/port/name/user/password
	Path         string `json:"path"          env:"DB_PATH"`                                 // duckdb file or tbls schema.json
	Schemas      string `json:"schemas"       env:"DB_SCHEMAS"       envDefault:"public"`    // comma separated
	QueryTimeout string `json:"query_timeout" env:"DB_QUERY_TIMEOUT" envDefault:"30s"`
}

// IndexConfig configures the persisted embedding store and retrieval
type IndexConfig struct {
	Path            string `json:"path"              env:"INDEX_PATH"              envDefault:"~/.cache/sqlrag/index.duckdb"`
	TopK            int    `json:"top_k"             env:"INDEX_TOP_K"             envDefault:"5"`
	Concurrency     int    `json:"concurrency"       env:"INDEX_CONCURRENCY"       envDefault:"4"`
	MaxConnections  int    `json:"max_connections"   env:"INDEX_MAX_CONNECTIONS"   envDefault:"4"`
	ConnMaxLifetime string `json:"conn_max_lifetime" env:"INDEX_CONN_MAX_LIFETIME" envDefault:"30m"`
	KeepSnapshots   int    `json:"keep_snapshots"    env:"INDEX_KEEP_SNAPSHOTS"    envDefault:"3"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"EMBEDDING_PROVIDER"   envDefault:"hash"` // hash, openai, ollama
	Model      string `json:"model"      env:"EMBEDDING_MODEL"`
	Dimensions int    `json:"dimensions" env:"EMBEDDING_DIMENSIONS"`
	APIKey     string `json:"-"          env:"EMBEDDING_API_KEY"`
	BaseURL    string `json:"base_url"   env:"EMBEDDING_BASE_URL"`
	Timeout    string `json:"timeout"    env:"EMBEDDING_TIMEOUT"    envDefault:"30s"`
}

// LLMConfig selects the generation model service
type LLMConfig struct {
	Provider    string  `json:"provider"    env:"LLM_PROVIDER"    envDefault:"openai"` // openai, anthropic, ollama
	Model       string  `json:"model"       env:"LLM_MODEL"`
	APIKey      string  `json:"-"           env:"LLM_API_KEY"`
	BaseURL     string  `json:"base_url"    env:"LLM_BASE_URL"`
	Temperature float64 `json:"temperature" env:"LLM_TEMPERATURE" envDefault:"0"`
	MaxTokens   int     `json:"max_tokens"  env:"LLM_MAX_TOKENS"  envDefault:"1024"`
	Timeout     string  `json:"timeout"     env:"LLM_TIMEOUT"     envDefault:"60s"`
}

// PromptConfig controls prompt assembly
type PromptConfig struct {
	Template      string `json:"template"       env:"PROMPT_TEMPLATE"       envDefault:"sql-only"`
	MaxChars      int    `json:"max_chars"      env:"PROMPT_MAX_CHARS"      envDefault:"12000"`
	TemplatesFile string `json:"templates_file" env:"PROMPT_TEMPLATES_FILE"`
}

// RepairConfig controls the validate/repair loop
type RepairConfig struct {
	MaxAttempts int  `json:"max_attempts" env:"REPAIR_MAX_ATTEMPTS" envDefault:"3"`
	AllowWrites bool `json:"allow_writes" env:"REPAIR_ALLOW_WRITES" envDefault:"false"`
}

// RetryConfig controls caller-side retries of whole requests on transport errors
type RetryConfig struct {
	Attempts        int    `json:"attempts"         env:"RETRY_ATTEMPTS"         envDefault:"2"`
	InitialInterval string `json:"initial_interval" env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     string `json:"max_interval"     env:"RETRY_MAX_INTERVAL"     envDefault:"5s"`
}

// MirrorConfig configures the optional S3-compatible index mirror
type MirrorConfig struct {
	Enabled   bool   `json:"enabled"    env:"MIRROR_ENABLED"    envDefault:"false"`
	Endpoint  string `json:"endpoint"   env:"MIRROR_ENDPOINT"   envDefault:"localhost:9000"`
	Bucket    string `json:"bucket"     env:"MIRROR_BUCKET"     envDefault:"sqlrag"`
	Prefix    string `json:"prefix"     env:"MIRROR_PREFIX"     envDefault:"snapshots"`
	AccessKey string `json:"-"          env:"MIRROR_ACCESS_KEY"`
	SecretKey string `json:"-"          env:"MIRROR_SECRET_KEY"`
	UseSSL    bool   `json:"use_ssl"    env:"MIRROR_USE_SSL"    envDefault:"false"`
}

// CacheConfig represents caching configuration
type CacheConfig struct {
	Enabled     bool   `json:"enabled"           env:"CACHE_ENABLED"      envDefault:"true"`
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/sqlrag/questions"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB"  envDefault:"100"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"    envDefault:"168"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string `json:"addr"             env:"SERVER_ADDR"             envDefault:":8080"`
	ReadTimeout     string `json:"read_timeout"     env:"SERVER_READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    string `json:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    envDefault:"120s"`
	ShutdownTimeout string `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RefreshInterval string `json:"refresh_interval" env:"SERVER_REFRESH_INTERVAL" envDefault:"0s"` // 0 disables
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`   // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`   // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"` // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/sqlrag/logs/sqlrag.log"`
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled     bool `json:"enabled"      env:"DEBUG"        envDefault:"false"`
	Verbose     bool `json:"verbose"      env:"VERBOSE"      envDefault:"false"`
	TracePrompt bool `json:"trace_prompt" env:"TRACE_PROMPT" envDefault:"false"`
}

// DefaultConfig returns the configuration with every default applied and no
// environment or file input.
func DefaultConfig() *Config {
	cfg := &Config{}
	// A non-nil, non-empty environment keeps the process environment out.
	isolated := map[string]string{envPrefix + "DEFAULTS_ONLY": "1"}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: isolated}); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}

	return cfg
}

// LoadConfig loads configuration from .env, file, environment variables, and defaults
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
// Precedence, lowest first: defaults, config file, environment (.env included), flags.
func LoadConfigWithOverrides(flagOverrides map[string]any) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load(".env")

	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
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

// loadConfigFromFile loads configuration from a JSON file
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

// applyEnvironmentOverrides copies every value the environment actually changed.
// Fields left at their default by env do not clobber values from the config file.
func applyEnvironmentOverrides(config *Config) error {
	fromEnv := &Config{}
	if err := env.Parse(fromEnv); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	overlayChanged(
		reflect.ValueOf(config).Elem(),
		reflect.ValueOf(DefaultConfig()).Elem(),
		reflect.ValueOf(fromEnv).Elem(),
	)

	return nil
}

func overlayChanged(target, base, overlay reflect.Value) {
	if target.Kind() == reflect.Struct {
		for i := range target.NumField() {
			overlayChanged(target.Field(i), base.Field(i), overlay.Field(i))
		}

		return
	}

	if !reflect.DeepEqual(base.Interface(), overlay.Interface()) {
		target.Set(overlay)
	}
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]any) error {
	for key, value := range overrides {
		switch key {
		case "db-dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Database.DSN = str
			}
		case "db-driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "index-path":
			if str, ok := value.(string); ok && str != "" {
				config.Index.Path = str
			}
		case "top-k":
			if n, ok := asInt(value); ok && n != 0 {
				config.Index.TopK = n
			}
		case "template":
			if str, ok := value.(string); ok && str != "" {
				config.Prompt.Template = str
			}
		case "max-attempts":
			if n, ok := asInt(value); ok && n != 0 {
				config.Repair.MaxAttempts = n
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
		default:
			return fmt.Errorf("unknown override: %s", key)
		}
	}

	return nil
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	if err := oneOf("log level", strings.ToLower(config.Logging.Level), "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if err := oneOf("log format", strings.ToLower(config.Logging.Format), "text", "json"); err != nil {
		return err
	}

	if err := oneOf("log output", strings.ToLower(config.Logging.Output), "stdout", "stderr", "file"); err != nil {
		return err
	}

	if err := oneOf("database driver", config.Database.Driver, "postgres", "duckdb", "tbls"); err != nil {
		return err
	}

	if (config.Database.Driver == "duckdb" || config.Database.Driver == "tbls") && config.Database.Path == "" {
		return fmt.Errorf("database path is required for driver %s", config.Database.Driver)
	}

	if err := oneOf("embedding provider", config.Embedding.Provider, "hash", "openai", "ollama"); err != nil {
		return err
	}

	if err := oneOf("llm provider", config.LLM.Provider, "openai", "anthropic", "ollama"); err != nil {
		return err
	}

	durations := map[string]string{
		"database query timeout":  config.Database.QueryTimeout,
		"index conn max lifetime": config.Index.ConnMaxLifetime,
		"embedding timeout":       config.Embedding.Timeout,
		"llm timeout":             config.LLM.Timeout,
		"retry initial interval":  config.Retry.InitialInterval,
		"retry max interval":      config.Retry.MaxInterval,
		"cache cleanup frequency": config.Cache.CleanupFreq,
		"server read timeout":     config.Server.ReadTimeout,
		"server write timeout":    config.Server.WriteTimeout,
		"server shutdown timeout": config.Server.ShutdownTimeout,
		"server refresh interval": config.Server.RefreshInterval,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	positives := map[string]int{
		"index top k":         config.Index.TopK,
		"index concurrency":   config.Index.Concurrency,
		"index connections":   config.Index.MaxConnections,
		"prompt max chars":    config.Prompt.MaxChars,
		"repair max attempts": config.Repair.MaxAttempts,
		"retry attempts":      config.Retry.Attempts,
	}
	for name, value := range positives {
		if value <= 0 {
			return fmt.Errorf("%s must be positive: %d", name, value)
		}
	}

	if config.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding dimensions must not be negative: %d", config.Embedding.Dimensions)
	}

	if config.Mirror.Enabled && config.Mirror.Bucket == "" {
		return fmt.Errorf("mirror bucket is required when the mirror is enabled")
	}

	return nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return fmt.Errorf("invalid %s: %s (must be one of %s)", name, value, strings.Join(allowed, ", "))
}

// PostgresDSN returns the connection string for the postgres driver
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}

	return u.String()
}

// SchemaList returns the configured schema names
func (d DatabaseConfig) SchemaList() []string {
	var schemas []string

	for _, s := range strings.Split(d.Schemas, ",") {
		if s = strings.TrimSpace(s); s != "" {
			schemas = append(schemas, s)
		}
	}

	return schemas
}

// Duration parses a validated duration string. Callers only pass values that
// validateConfig has already accepted.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
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

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
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
	c.Index.Path = expandPath(c.Index.Path)
	c.Prompt.TemplatesFile = expandPath(c.Prompt.TemplatesFile)
	c.Cache.Directory = expandPath(c.Cache.Directory)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/sqlrag"
	}

	return filepath.Join(homeDir, ".config", "sqlrag")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Index.Path)}
	if c.Cache.Enabled {
		dirs = append(dirs, c.Cache.Directory)
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
