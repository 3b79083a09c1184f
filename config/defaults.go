// =============================================================================
// 📦 AnswerFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Retrieval:  DefaultRetrievalConfig(),
		Quality:    DefaultQualityConfig(),
		Rerank:     DefaultRerankConfig(),
		Cache:      DefaultCacheConfig(),
		Retry:      DefaultRetryConfig(),
		Workflow:   DefaultWorkflowConfig(),
		Services:   DefaultServicesConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Categories:      []string{},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		File:         "",
		MaxSizeMB:    100,
		MaxBackups:   5,
		MaxAgeDays:   14,
		EnableCaller: true,
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend:      "redis",
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Password:  "",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "answerflow",
			TTL:       7 * 24 * time.Hour,
		},
		SQLitePath: "answerflow.db",
	}
}

// DefaultRetrievalConfig 返回默认混合检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		TopK:           5,
		FetchK:         10,
	}
}

// DefaultQualityConfig 返回默认质量评估配置
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MinPassages:      2,
		MinAvgSimilarity: 0.2,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:         true,
		MaxCandidates:   20,
		MaxContentChars: 800,
	}
}

// DefaultCacheConfig 返回默认会话缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:             true,
		SimilarityThreshold: 0.85,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		RetrievalCheckTopK: 5,
		MinRouteConfidence: 0.5,
		MaxStepRetries:     2,
		PreviewChars:       160,
		ContextTokenBudget: 3000,
		RouteRetries:       2,
		SearchRetries:      1,
	}
}

// DefaultServicesConfig 返回默认外部服务配置
func DefaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		Router:            EndpointConfig{BaseURL: "http://localhost:8181", Timeout: 10 * time.Second},
		Embedding:         EndpointConfig{BaseURL: "http://localhost:8182", Timeout: 10 * time.Second},
		VectorStore:       EndpointConfig{BaseURL: "http://localhost:8183", Timeout: 10 * time.Second},
		Generator:         EndpointConfig{BaseURL: "http://localhost:8184", Timeout: 60 * time.Second},
		GeneratorRPS:      0,
		GeneratorBurst:    1,
		TokenizerEncoding: "cl100k_base",
	}
}
