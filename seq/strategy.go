package seq

import (
	"context"
	"fmt"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/ceyewan/bank-kit/clog"
)

// 内置策略名称，按尝试顺序排列
const (
	TierAtomic    = "atomic"
	TierRetry     = "retry"
	TierTimestamp = "timestamp"
)

// Strategy 是分配链中的一层。Next 要么返回一个可用编号，要么返回错误让分配器进入下一层
type Strategy interface {
	Name() string
	Next(ctx context.Context, name string) (int64, error)
}

// TierError 记录某一层在某个序列上的失败原因
type TierError struct {
	Tier     string
	Sequence string
	Err      error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("seq: tier %s failed for %q: %v", e.Tier, e.Sequence, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// ============================================================================
// 第一层：原子查找并自增
// ============================================================================

type atomicStrategy struct {
	store   Store
	timeout time.Duration
}

// NewAtomicStrategy 使用存储的原子自增，只有这一层保证并发下不重复
func NewAtomicStrategy(store Store, timeout time.Duration) Strategy {
	return &atomicStrategy{store: store, timeout: timeout}
}

func (s *atomicStrategy) Name() string { return TierAtomic }

func (s *atomicStrategy) Next(ctx context.Context, name string) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.store.Increment(ctx, name)
}

// ============================================================================
// 第二层：读-改-写，固定间隔重试
// ============================================================================

type retryStrategy struct {
	store    Store
	attempts int
	delay    time.Duration
	timeout  time.Duration
	logger   clog.Logger
}

// NewRetryStrategy 读取计数器、在内存中加一后写回，失败时间隔 delay 重试，最多 attempts 次
// 每次尝试的读写共同受 timeout 限制，timeout 为 0 表示只受调用方 ctx 限制
// 两个并发调用方可能读到同一个值并得到相同的编号，这一层不做互斥
func NewRetryStrategy(store Store, attempts int, delay, timeout time.Duration, logger clog.Logger) Strategy {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &retryStrategy{
		store:    store,
		attempts: attempts,
		delay:    delay,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *retryStrategy) Name() string { return TierRetry }

func (s *retryStrategy) Next(ctx context.Context, name string) (int64, error) {
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewConstant(s.delay))

	var (
		id      int64
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := s.readModifyWrite(ctx, name)
		if err != nil {
			s.logger.Warn("read-modify-write attempt failed",
				clog.String("sequence", name),
				clog.Int("attempt", attempt),
				clog.Int("max_attempts", s.attempts),
				clog.Err(err))
			return retry.RetryableError(err)
		}
		id = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return id, nil
}

func (s *retryStrategy) readModifyWrite(ctx context.Context, name string) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	current, found, err := s.store.Load(ctx, name)
	if err != nil {
		return 0, err
	}
	next := int64(1)
	if found {
		next = current + 1
	}
	if err := s.store.Save(ctx, name, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ============================================================================
// 第三层：时间戳派生
// ============================================================================

type timestampStrategy struct {
	modulus int64
	clock   func() time.Time
}

// NewTimestampStrategy 取当前 Unix 秒的低 digits 位作为编号，不访问存储，不会失败
// 编号只是大概率不重复，最终由记录插入时的唯一索引兜底
func NewTimestampStrategy(digits int, clock func() time.Time) Strategy {
	modulus := int64(1)
	for i := 0; i < digits; i++ {
		modulus *= 10
	}
	if clock == nil {
		clock = time.Now
	}
	return &timestampStrategy{modulus: modulus, clock: clock}
}

func (s *timestampStrategy) Name() string { return TierTimestamp }

func (s *timestampStrategy) Next(ctx context.Context, name string) (int64, error) {
	id := s.clock().Unix() % s.modulus
	if id <= 0 {
		// 0 不是合法编号，用 modulus 本身代替
		id += s.modulus
	}
	return id, nil
}
