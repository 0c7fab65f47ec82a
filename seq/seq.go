// Package seq 为命名序列分配严格递增的整数编号，例如 "users"、"accounts"。
//
// 分配按层进行：先使用存储的原子自增；失败后退化为带重试的读-改-写；
// 仍然失败时用当前时间派生一个编号。只有第一层保证并发下不重复，
// 后两层以可用性优先，重复由记录插入时的唯一索引拦截。
package seq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/bank-kit/clog"
)

var (
	// ErrEmptySequence 序列名为空
	ErrEmptySequence = errors.New("seq: sequence name cannot be empty")
	// ErrClosed 分配器已关闭
	ErrClosed = errors.New("seq: allocator is closed")
	// ErrExhausted 所有层都失败，只有关闭时间戳降级层时才可能出现
	ErrExhausted = errors.New("seq: all allocation tiers failed")
)

// Allocator 定义序列编号分配器的接口
type Allocator interface {
	// Allocate 返回 name 序列的下一个编号
	// 默认配置下只有 name 为空、分配器已关闭或 ctx 已结束时返回错误
	Allocate(ctx context.Context, name string) (int64, error)

	// Current 返回 name 序列最近一次分配的编号，不修改计数器
	Current(ctx context.Context, name string) (value int64, found bool, err error)

	// Reset 删除 name 序列的计数器，下一次分配将从 1 开始
	// 调用方需要同时清理使用过这些编号的记录
	Reset(ctx context.Context, name string) error

	// Health 检查底层存储的连通性
	Health(ctx context.Context) error

	// Close 等待进行中的调用结束，然后关闭分配器以及它持有的存储
	Close() error
}

type allocator struct {
	store      Store
	strategies []Strategy
	logger     clog.Logger
	metrics    *metrics

	// mu 的读锁覆盖每次调用的全过程，Close 取写锁，等待进行中的调用结束后才关闭存储
	mu     sync.RWMutex
	closed bool
}

var _ Allocator = (*allocator)(nil)

// New 创建分配器，分配器接管 store 的生命周期
// 默认的分配链为 atomic → retry → timestamp，可通过 WithStrategies 替换
func New(ctx context.Context, config *Config, store Store, opts ...Option) (Allocator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	options := parseOptions(opts)
	m, err := newMetrics(options.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	strategies := options.strategies
	if len(strategies) == 0 {
		strategies = defaultStrategies(config, store, options)
	}

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	options.logger.Info("sequence allocator created",
		clog.Strings("tiers", names),
		clog.Int("retry_attempts", config.RetryAttempts),
		clog.Duration("retry_delay", config.RetryDelay))

	return &allocator{
		store:      store,
		strategies: strategies,
		logger:     options.logger,
		metrics:    m,
	}, nil
}

func defaultStrategies(config *Config, store Store, options *Options) []Strategy {
	strategies := []Strategy{
		NewAtomicStrategy(store, config.OperationTimeout),
		NewRetryStrategy(store, config.RetryAttempts, config.RetryDelay, config.OperationTimeout, options.logger.Namespace(TierRetry)),
	}
	if !config.DisableTimestampFallback {
		strategies = append(strategies, NewTimestampStrategy(config.FallbackDigits, options.clock))
	}
	return strategies
}

// loggerFor 带上 ctx 中的 trace_id，便于和创建记录的日志关联
func (a *allocator) loggerFor(ctx context.Context, name string) clog.Logger {
	logger := a.logger.With(clog.String("sequence", name))
	if id := clog.TraceID(ctx); id != "" {
		logger = logger.With(clog.String("trace_id", id))
	}
	return logger
}

func (a *allocator) Allocate(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, ErrEmptySequence
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, ErrClosed
	}

	logger := a.loggerFor(ctx, name)
	errs := make([]error, 0, len(a.strategies))

	for i, s := range a.strategies {
		// 调用方已放弃时直接返回，不把取消当作存储故障继续降级
		if err := ctx.Err(); err != nil {
			logger.Debug("allocation abandoned by caller", clog.Err(err))
			return 0, err
		}
		tier := s.Name()
		start := time.Now()
		id, err := s.Next(ctx, name)
		a.metrics.duration.WithLabelValues(tier).Observe(time.Since(start).Seconds())

		if err != nil {
			a.metrics.failures.WithLabelValues(name, tier).Inc()
			errs = append(errs, &TierError{Tier: tier, Sequence: name, Err: err})
			logger.Warn("allocation tier failed", clog.String("tier", tier), clog.Err(err))
			continue
		}

		a.metrics.allocations.WithLabelValues(name, tier).Inc()
		switch {
		case tier == TierTimestamp:
			logger.Error("store unreachable, issued timestamp-derived id; uniqueness not guaranteed",
				clog.String("tier", tier), clog.Int64("id", id))
		case i > 0:
			logger.Warn("allocated on fallback tier",
				clog.String("tier", tier), clog.Int64("id", id))
		default:
			logger.Debug("allocated", clog.String("tier", tier), clog.Int64("id", id))
		}
		return id, nil
	}

	return 0, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func (a *allocator) Current(ctx context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, ErrEmptySequence
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, false, ErrClosed
	}
	return a.store.Load(ctx, name)
}

func (a *allocator) Reset(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptySequence
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := a.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("reset %q: %w", name, err)
	}
	a.loggerFor(ctx, name).Info("sequence counter reset")
	return nil
}

func (a *allocator) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

func (a *allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", clog.Err(err))
		return err
	}
	a.logger.Info("sequence allocator closed")
	return nil
}
