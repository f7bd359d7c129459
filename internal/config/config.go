package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/wishcache/internal/models"
	"goflare.io/wishcache/internal/policy"
	"goflare.io/wishcache/pkg/serialization"
)

// Config 是 wishcache 的完整配置
type Config struct {
	EnableLocalCache  bool
	MaxLocalSize      uint64        // 本地快取的最大大小（字節）
	DefaultExpiration time.Duration // 未指定 TTL 時本地快取使用的過期時間
	// PromotionCeiling caps how long a value copied into the local tier may
	// live there, whatever its policy TTL.
	PromotionCeiling time.Duration
	// Namespace prefixes every key written to Redis. Clear only removes
	// keys under it.
	Namespace string
	Policy    policy.Policy

	PricingConfig    PricingConfig
	ResilienceConfig ResilienceConfig
	KeyFilterConfig  KeyFilterConfig
	Serialization    SerializationConfig
	Logger           *zap.Logger
	Stats            *models.Stats
}

// PricingConfig 批次價格解析配置
type PricingConfig struct {
	ChunkSize        int
	ChunkConcurrency int
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	CircuitBreaker      gobreaker.Settings
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// OperationTimeout bounds each Redis call; zero leaves it to the caller.
	OperationTimeout time.Duration
}

// KeyFilterConfig 布隆過濾器配置
type KeyFilterConfig struct {
	Enabled           bool
	ExpectedItems     uint
	FalsePositiveRate float64
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type    string
	Encoder func(io.Writer) serialization.Encoder
	Decoder func(io.Reader) serialization.Decoder
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrLocalSizeZero    = errors.New("max local size must be greater than 0")
	ErrInvalidChunkSize = errors.New("chunk size must be at least 1")
	ErrInvalidCeiling   = errors.New("promotion ceiling must be positive")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	defaultLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EnableLocalCache:  true,
		MaxLocalSize:      64 * 1024 * 1024, // 64MB
		DefaultExpiration: 5 * time.Minute,
		PromotionCeiling:  5 * time.Minute,
		Namespace:         "wishcache:",
		Policy:            policy.Default(),
		PricingConfig: PricingConfig{
			ChunkSize:        100,
			ChunkConcurrency: 1,
		},
		ResilienceConfig: ResilienceConfig{
			CircuitBreaker: gobreaker.Settings{
				Name:        "wishcache-redis",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			MaxRetries:          3,
			InitialInterval:     50 * time.Millisecond,
			MaxInterval:         500 * time.Millisecond,
			Multiplier:          2,
			RandomizationFactor: 0.1,
			OperationTimeout:    250 * time.Millisecond,
		},
		KeyFilterConfig: KeyFilterConfig{
			Enabled:           false,
			ExpectedItems:     100_000,
			FalsePositiveRate: 0.01,
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
		Logger: defaultLogger,
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Stats == nil {
		cfg.Stats = models.NewStats()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 最終檢查
func (c *Config) Validate() error {
	if c.EnableLocalCache && c.MaxLocalSize == 0 {
		return ErrLocalSizeZero
	}
	if c.PromotionCeiling <= 0 {
		return ErrInvalidCeiling
	}
	if c.PricingConfig.ChunkSize < 1 {
		return ErrInvalidChunkSize
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithMaxLocalSize 設置本地快取的最大大小
func WithMaxLocalSize(size uint64) Option {
	return func(c *Config) error {
		if size == 0 {
			return ErrLocalSizeZero
		}
		c.MaxLocalSize = size
		return nil
	}
}

// WithLocalCache 啟用或停用本地快取
func WithLocalCache(enabled bool) Option {
	return func(c *Config) error {
		c.EnableLocalCache = enabled
		return nil
	}
}

// WithPromotionCeiling 設置本地快取 TTL 上限
func WithPromotionCeiling(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidCeiling
		}
		c.PromotionCeiling = d
		return nil
	}
}

// WithNamespace 設置 Redis 鍵前綴
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		c.Namespace = ns
		return nil
	}
}

// WithPolicy 設置 TTL 策略
func WithPolicy(p policy.Policy) Option {
	return func(c *Config) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
		}
		c.Policy = p
		return nil
	}
}

// WithPolicyFile 從 YAML 文件載入 TTL 策略
func WithPolicyFile(path string) Option {
	return func(c *Config) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open policy file: %w", err)
		}
		defer f.Close()

		p, err := LoadPolicy(f)
		if err != nil {
			return err
		}
		c.Policy = p
		return nil
	}
}

// WithChunkSize 設置批次大小
func WithChunkSize(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return ErrInvalidChunkSize
		}
		c.PricingConfig.ChunkSize = n
		return nil
	}
}

// WithChunkConcurrency 設置同時解析的批次數
func WithChunkConcurrency(n int) Option {
	return func(c *Config) error {
		c.PricingConfig.ChunkConcurrency = max(n, 1)
		return nil
	}
}

// WithCircuitBreaker 設置 Redis 熔斷器
func WithCircuitBreaker(st gobreaker.Settings) Option {
	return func(c *Config) error {
		c.ResilienceConfig.CircuitBreaker = st
		return nil
	}
}

// WithRetry 設置 Redis 重試策略
func WithRetry(maxRetries int, initial, maxInterval time.Duration) Option {
	return func(c *Config) error {
		if maxRetries < 1 {
			return errors.New("max retries must be at least 1")
		}
		c.ResilienceConfig.MaxRetries = maxRetries
		c.ResilienceConfig.InitialInterval = initial
		c.ResilienceConfig.MaxInterval = maxInterval
		return nil
	}
}

// WithOperationTimeout 設置每次 Redis 操作的超時
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.ResilienceConfig.OperationTimeout = d
		return nil
	}
}

// WithKeyFilter 啟用布隆過濾器
func WithKeyFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(c *Config) error {
		if expectedItems == 0 || falsePositiveRate <= 0 || falsePositiveRate >= 1 {
			return errors.New("invalid key filter settings")
		}
		c.KeyFilterConfig = KeyFilterConfig{
			Enabled:           true,
			ExpectedItems:     expectedItems,
			FalsePositiveRate: falsePositiveRate,
		}
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return func(c *Config) error {
		switch serializer {
		case serialization.JSONType:
			c.Serialization = SerializationConfig{Type: serializer, Encoder: serialization.JSONEncoder, Decoder: serialization.JSONDecoder}
		case serialization.GobType:
			c.Serialization = SerializationConfig{Type: serializer, Encoder: serialization.GobEncoder, Decoder: serialization.GobDecoder}
		default:
			return fmt.Errorf("unsupported serialization type: %s", serializer)
		}
		return nil
	}
}

// WithStats 注入統計計數器
func WithStats(stats *models.Stats) Option {
	return func(c *Config) error {
		c.Stats = stats
		return nil
	}
}
