package seq

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config 是分配器的策略配置
type Config struct {
	// OperationTimeout 单次原子自增以及重试层每次读-改-写的超时，超时视为失败并降级
	OperationTimeout time.Duration `json:"operationTimeout" yaml:"operationTimeout"`

	// RetryAttempts 读-改-写重试层的最大尝试次数
	RetryAttempts int `json:"retryAttempts" yaml:"retryAttempts"`

	// RetryDelay 重试层两次尝试之间的固定间隔
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`

	// FallbackDigits 时间戳降级层保留的 Unix 秒低位数字个数
	FallbackDigits int `json:"fallbackDigits" yaml:"fallbackDigits"`

	// DisableTimestampFallback 关闭时间戳降级层；前两层都失败时 Allocate 返回错误
	DisableTimestampFallback bool `json:"disableTimestampFallback" yaml:"disableTimestampFallback"`
}

// GetDefaultConfig 返回环境相关的默认配置
// 所有环境默认保留时间戳降级层，需要严格唯一的部署可设置 SEQ_DISABLE_TIMESTAMP_FALLBACK=true
func GetDefaultConfig(env string) *Config {
	config := &Config{
		OperationTimeout: 2 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       50 * time.Millisecond,
		FallbackDigits:   6,
	}
	if env == "production" {
		config.OperationTimeout = 5 * time.Second
	}
	return config.ApplyEnv()
}

// ApplyEnv 用环境变量覆盖配置：SEQ_RETRY_ATTEMPTS、SEQ_RETRY_DELAY、SEQ_FALLBACK_DIGITS、SEQ_DISABLE_TIMESTAMP_FALLBACK
// 无法解析的值被忽略
func (c *Config) ApplyEnv() *Config {
	c.RetryAttempts = getEnvIntWithDefault("SEQ_RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryDelay = getEnvDurationWithDefault("SEQ_RETRY_DELAY", c.RetryDelay)
	c.FallbackDigits = getEnvIntWithDefault("SEQ_FALLBACK_DIGITS", c.FallbackDigits)
	if v := os.Getenv("SEQ_DISABLE_TIMESTAMP_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DisableTimestampFallback = b
		}
	}
	return c
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if !c.DisableTimestampFallback && (c.FallbackDigits < 1 || c.FallbackDigits > 18) {
		return fmt.Errorf("fallback digits must be in 1-18")
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
