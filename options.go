package wishcache

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/policy"
)

// Option 定義初始化 wishcache 的選項
type Option func(*options) error

type options struct {
	config       []config.Option
	redisOptions *redis.Options
	redisClient  redis.UniversalClient
	memorySize   int
	registerer   prometheus.Registerer
}

func withConfig(opt config.Option) Option {
	return func(o *options) error {
		o.config = append(o.config, opt)
		return nil
	}
}

// WithRedis 使用 Redis 作為共享快取層，連接由 wishcache 建立並在 Close 時關閉
func WithRedis(opts *redis.Options) Option {
	return func(o *options) error {
		if opts == nil {
			return errors.New("redis options must not be nil")
		}
		o.redisOptions = opts
		return nil
	}
}

// WithRedisClient 使用現有的 Redis 客戶端，Close 時不會關閉它
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) error {
		if client == nil {
			return errors.New("redis client must not be nil")
		}
		o.redisClient = client
		return nil
	}
}

// WithMemorySharedTier 未設置 Redis 時，進程內共享層的最大項目數
func WithMemorySharedTier(maxEntries int) Option {
	return func(o *options) error {
		if maxEntries <= 0 {
			return errors.New("max entries must be positive")
		}
		o.memorySize = maxEntries
		return nil
	}
}

// WithMetrics 在 reg 上註冊快取與價格指標
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return withConfig(config.WithLogger(logger))
}

// WithMaxLocalSize 設置本地快取的最大大小（字節）
func WithMaxLocalSize(maxSize uint64) Option {
	return withConfig(config.WithMaxLocalSize(maxSize))
}

// WithLocalCache 啟用或停用本地快取
func WithLocalCache(enabled bool) Option {
	return withConfig(config.WithLocalCache(enabled))
}

// WithPromotionCeiling 設置本地快取 TTL 上限
func WithPromotionCeiling(d time.Duration) Option {
	return withConfig(config.WithPromotionCeiling(d))
}

// WithNamespace 設置 Redis 鍵前綴
func WithNamespace(ns string) Option {
	return withConfig(config.WithNamespace(ns))
}

// WithPolicy 設置 TTL 策略
func WithPolicy(p policy.Policy) Option {
	return withConfig(config.WithPolicy(p))
}

// WithPolicyFile 從 YAML 文件載入 TTL 策略
func WithPolicyFile(path string) Option {
	return withConfig(config.WithPolicyFile(path))
}

// WithChunkSize 設置價格批次大小
func WithChunkSize(n int) Option {
	return withConfig(config.WithChunkSize(n))
}

// WithChunkConcurrency 設置同時解析的價格批次數
func WithChunkConcurrency(n int) Option {
	return withConfig(config.WithChunkConcurrency(n))
}

// WithCircuitBreaker 設置 Redis 熔斷器
func WithCircuitBreaker(st gobreaker.Settings) Option {
	return withConfig(config.WithCircuitBreaker(st))
}

// WithRetry 設置 Redis 重試策略
func WithRetry(maxRetries int, initial, maxInterval time.Duration) Option {
	return withConfig(config.WithRetry(maxRetries, initial, maxInterval))
}

// WithOperationTimeout 設置每次 Redis 操作的超時
func WithOperationTimeout(d time.Duration) Option {
	return withConfig(config.WithOperationTimeout(d))
}

// WithKeyFilter 啟用布隆過濾器，跳過本進程從未寫入的鍵
func WithKeyFilter(expectedItems uint, falsePositiveRate float64) Option {
	return withConfig(config.WithKeyFilter(expectedItems, falsePositiveRate))
}

// WithSerialization 設置序列化方式（json 或 gob）
func WithSerialization(serializer string) Option {
	return withConfig(config.WithSerialization(serializer))
}
