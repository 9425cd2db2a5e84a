// =============================================================================
// 📦 Companion 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:        DefaultLogConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		LLM:        DefaultLLMConfig(),
		RateLimit:  DefaultRateLimitConfig(),
		Moderation: DefaultModerationConfig(),
		Memory:     DefaultMemoryConfig(),
		Prompt:     DefaultPromptConfig(),
		Runtime:    DefaultRuntimeConfig(),
		Brain:      DefaultBrainConfig(),
		Metrics:    DefaultMetricsConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Name:                "companion.db",
		Port:                5432,
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:         "https://api.openai.com/v1",
		Model:           "gpt-4o-mini",
		EmbeddingModel:  "text-embedding-3-small",
		ModerationModel: "omni-moderation-latest",
		ExtractionModel: "gpt-4o-mini",
		Temperature:     0.8,
		MaxTokens:       512,
		Timeout:         60 * time.Second,
		MaxRetries:      3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置：每分钟 20 条
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: 20,
		KeyPrefix:   "ratelimit",
	}
}

// DefaultModerationConfig 返回默认审核配置
func DefaultModerationConfig() ModerationConfig {
	return ModerationConfig{
		Blocklist:       []string{},
		FailOpen:        false,
		TimeoutStrikes:  3,
		BanStrikes:      5,
		TimeoutDuration: 10 * time.Minute,
		StrikeWindow:    7 * 24 * time.Hour,
	}
}

// DefaultMemoryConfig 返回默认记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		SimilarityThreshold: 0.7,
		RetrieveLimit:       5,
		MinConfidence:       0.6,
		TouchStep:           0.1,
		MaxSalience:         1.0,
		DefaultExpiry:       30 * 24 * time.Hour,
		DecayFactor:         0.95,
		DecayFloor:          0.05,
		DecayInterval:       24 * time.Hour,
	}
}

// DefaultPromptConfig 返回默认 Prompt 配置
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		HistoryLimit:       20,
		HistoryTokenBudget: 2000,
		TokenizerModel:     "gpt-4o-mini",
	}
}

// DefaultRuntimeConfig 返回默认管线配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		FallbackReply:         "I'd rather not respond to that. Let's talk about something else.",
		ExtractionTimeout:     30 * time.Second,
		MaxConcurrentExtracts: 8,
	}
}

// DefaultBrainConfig 返回默认 Brain 配置
func DefaultBrainConfig() BrainConfig {
	return BrainConfig{
		EngineTimeout: 20 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "companion",
		Addr:      ":9091",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "companion",
		SampleRate:   0.1,
	}
}
