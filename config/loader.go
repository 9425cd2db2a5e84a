// =============================================================================
// 📦 Companion 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    WithEnvPrefix("COMPANION").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → .env → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Companion 的完整配置结构
type Config struct {
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	LLM        LLMConfig        `yaml:"llm" env:"LLM"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" env:"RATE_LIMIT"`
	Moderation ModerationConfig `yaml:"moderation" env:"MODERATION"`
	Memory     MemoryConfig     `yaml:"memory" env:"MEMORY"`
	Prompt     PromptConfig     `yaml:"prompt" env:"PROMPT"`
	Runtime    RuntimeConfig    `yaml:"runtime" env:"RUNTIME"`
	Brain      BrainConfig      `yaml:"brain" env:"BRAIN"`
	Metrics    MetricsConfig    `yaml:"metrics" env:"METRICS"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// RedisConfig Redis 配置（限流计数存储）
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int    `yaml:"max_retries" env:"MAX_RETRIES"`
	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	APIKey          string        `yaml:"api_key" env:"API_KEY"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	Model           string        `yaml:"model" env:"MODEL"`
	EmbeddingModel  string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	ModerationModel string        `yaml:"moderation_model" env:"MODERATION_MODEL"`
	ExtractionModel string        `yaml:"extraction_model" env:"EXTRACTION_MODEL"`
	Temperature     float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens       int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 重试
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 客户端侧 QPS 限制，0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// RateLimitConfig 用户级滑动窗口限流
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" env:"WINDOW"`
	MaxRequests int           `yaml:"max_requests" env:"MAX_REQUESTS"`
	KeyPrefix   string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ModerationConfig 内容审核配置
type ModerationConfig struct {
	Blocklist []string `yaml:"blocklist" env:"BLOCKLIST"`
	// 外部分类器失败时是否放行，默认拒绝
	FailOpen bool `yaml:"fail_open" env:"FAIL_OPEN"`
	// 升级阈值
	TimeoutStrikes  int           `yaml:"timeout_strikes" env:"TIMEOUT_STRIKES"`
	BanStrikes      int           `yaml:"ban_strikes" env:"BAN_STRIKES"`
	TimeoutDuration time.Duration `yaml:"timeout_duration" env:"TIMEOUT_DURATION"`
	// 违规计数的保留时长，0 表示永久
	StrikeWindow time.Duration `yaml:"strike_window" env:"STRIKE_WINDOW"`
}

// MemoryConfig 长期记忆配置
type MemoryConfig struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	RetrieveLimit       int           `yaml:"retrieve_limit" env:"RETRIEVE_LIMIT"`
	MinConfidence       float64       `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	TouchStep           float64       `yaml:"touch_step" env:"TOUCH_STEP"`
	MaxSalience         float64       `yaml:"max_salience" env:"MAX_SALIENCE"`
	DefaultExpiry       time.Duration `yaml:"default_expiry" env:"DEFAULT_EXPIRY"`
	DecayFactor         float64       `yaml:"decay_factor" env:"DECAY_FACTOR"`
	DecayFloor          float64       `yaml:"decay_floor" env:"DECAY_FLOOR"`
	DecayInterval       time.Duration `yaml:"decay_interval" env:"DECAY_INTERVAL"`
}

// PromptConfig Prompt 组装配置
type PromptConfig struct {
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// 历史消息 Token 预算，0 表示仅按条数截断
	HistoryTokenBudget int    `yaml:"history_token_budget" env:"HISTORY_TOKEN_BUDGET"`
	TokenizerModel     string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
}

// RuntimeConfig 单轮对话管线配置
type RuntimeConfig struct {
	FallbackReply         string        `yaml:"fallback_reply" env:"FALLBACK_REPLY"`
	ExtractionTimeout     time.Duration `yaml:"extraction_timeout" env:"EXTRACTION_TIMEOUT"`
	MaxConcurrentExtracts int64         `yaml:"max_concurrent_extracts" env:"MAX_CONCURRENT_EXTRACTS"`
}

// BrainConfig 多引擎决策配置
type BrainConfig struct {
	EngineTimeout time.Duration `yaml:"engine_timeout" env:"ENGINE_TIMEOUT"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Addr      string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	dotEnvPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "COMPANION",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithDotEnv 设置 .env 文件路径，文件中的变量不会覆盖已存在的环境变量
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if l.dotEnvPath != "" {
		if err := godotenv.Load(l.dotEnvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit.window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, "rate_limit.max_requests must be positive")
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		errs = append(errs, "memory.similarity_threshold must be between 0 and 1")
	}
	if c.Memory.MinConfidence < 0 || c.Memory.MinConfidence > 1 {
		errs = append(errs, "memory.min_confidence must be between 0 and 1")
	}
	if c.Memory.DecayFactor <= 0 || c.Memory.DecayFactor >= 1 {
		errs = append(errs, "memory.decay_factor must be in (0, 1)")
	}
	if c.Brain.EngineTimeout <= 0 {
		errs = append(errs, "brain.engine_timeout must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
