package seq

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
)

var errInjected = errors.New("injected store failure")

// testConfig 使用很短的重试间隔，避免拖慢测试
func testConfig() *Config {
	return &Config{
		OperationTimeout: time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		FallbackDigits:   6,
	}
}

type fixture struct {
	alloc  Allocator
	store  Store
	faults *failinject.Injector
	reg    *prometheus.Registry
	now    time.Time
}

func newFixture(t *testing.T, config *Config) *fixture {
	t.Helper()
	f := &fixture{
		faults: failinject.NewInjector(),
		reg:    prometheus.NewRegistry(),
		now:    time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
	}
	f.store = NewMemoryStore(f.faults)
	alloc, err := New(context.Background(), config, f.store,
		WithLogger(clog.Namespace("test")),
		WithMetrics(f.reg),
		WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.alloc = alloc
	t.Cleanup(func() { _ = alloc.Close() })
	return f
}

func (f *fixture) fail(op string) *failinject.Failpoint {
	fp := f.faults.Failpoint(FailpointName(BackendMemory, op))
	fp.FailWith(errInjected)
	return fp
}

func (f *fixture) allocated(t *testing.T, sequence, tier string) float64 {
	t.Helper()
	am := f.alloc.(*allocator).metrics
	return testutil.ToFloat64(am.allocations.WithLabelValues(sequence, tier))
}

func TestAllocate_SequentialIsMonotonic(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	for want := int64(1); want <= 25; want++ {
		id, err := f.alloc.Allocate(ctx, "users")
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	assert.Equal(t, float64(25), f.allocated(t, "users", TierAtomic))
}

func TestAllocate_IndependentSequences(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var users, accounts []int64
	for i := 0; i < 5; i++ {
		u, err := f.alloc.Allocate(ctx, "users")
		require.NoError(t, err)
		users = append(users, u)

		a, err := f.alloc.Allocate(ctx, "accounts")
		require.NoError(t, err)
		accounts = append(accounts, a)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, users)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, accounts)
}

func TestAllocate_LazyCreation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, found, err := f.alloc.Current(ctx, "new_sequence")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := f.alloc.Allocate(ctx, "new_sequence")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	value, found, err := f.alloc.Current(ctx, "new_sequence")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), value)
}

func TestAllocate_ConcurrentAtomicTier(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// 先推进计数器，验证结果从已有值 +1 开始
	require.NoError(t, f.store.Save(ctx, "x", 100))

	const k = 64
	var wg sync.WaitGroup
	ids := make([]int64, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = f.alloc.Allocate(ctx, "x")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(101+i), id)
	}
}

func TestAllocate_FallsBackToRetryTier(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		id, err := f.alloc.Allocate(ctx, "accounts")
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	fp := f.fail(OpIncrement)
	id, err := f.alloc.Allocate(ctx, "accounts")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	assert.Equal(t, int64(1), fp.Hits())
	assert.Equal(t, float64(1), f.allocated(t, "accounts", TierRetry))

	// 重试层写回了计数器，恢复后原子层从 5 继续
	fp.Deactivate()
	id, err = f.alloc.Allocate(ctx, "accounts")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}

func TestAllocate_RetryTierCreatesMissingCounter(t *testing.T) {
	f := newFixture(t, testConfig())
	f.fail(OpIncrement)

	id, err := f.alloc.Allocate(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	value, found, err := f.store.Load(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), value)
}

func TestAllocate_RetryTierRecoversFromTransientErrors(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "users", 7))

	f.fail(OpIncrement)
	load := f.faults.Failpoint(FailpointName(BackendMemory, OpLoad))
	load.FailTimes(2, errInjected)

	id, err := f.alloc.Allocate(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
	assert.Equal(t, int64(3), load.Hits())
}

func TestAllocate_FullOutageUsesTimestamp(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "users", 41))

	f.fail(OpIncrement)
	load := f.fail(OpLoad)
	f.fail(OpSave)

	id, err := f.alloc.Allocate(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, f.now.Unix()%1_000_000, id)
	assert.NotEqual(t, int64(42), id)
	assert.Equal(t, int64(3), load.Hits(), "retry tier should use its whole attempt budget")
	assert.Equal(t, float64(1), f.allocated(t, "users", TierTimestamp))

	// 降级层不修改计数器
	f.faults.DeactivateAll()
	value, _, err := f.store.Load(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(41), value)
}

func TestAllocate_DisabledTimestampFallback(t *testing.T) {
	config := testConfig()
	config.DisableTimestampFallback = true
	f := newFixture(t, config)

	f.fail(OpIncrement)
	f.fail(OpLoad)

	_, err := f.alloc.Allocate(context.Background(), "users")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errInjected)

	var tierErr *TierError
	require.ErrorAs(t, err, &tierErr)
	assert.Equal(t, "users", tierErr.Sequence)
	assert.Contains(t, err.Error(), TierAtomic)
	assert.Contains(t, err.Error(), TierRetry)
}

func TestAllocate_Validation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.alloc.Allocate(ctx, "")
	assert.ErrorIs(t, err, ErrEmptySequence)

	require.NoError(t, f.alloc.Close())
	require.NoError(t, f.alloc.Close())

	_, err = f.alloc.Allocate(ctx, "users")
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = f.alloc.Current(ctx, "users")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.alloc.Health(ctx), ErrClosed)
}

func TestAllocate_Reset(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.alloc.Allocate(ctx, "users")
		require.NoError(t, err)
	}
	require.NoError(t, f.alloc.Reset(ctx, "users"))

	id, err := f.alloc.Allocate(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	f.fail(OpDelete)
	assert.ErrorIs(t, f.alloc.Reset(ctx, "users"), errInjected)
}

func TestAllocate_Health(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.alloc.Health(ctx))

	f.fail(OpPing)
	assert.ErrorIs(t, f.alloc.Health(ctx), errInjected)
}

func TestNew_Validation(t *testing.T) {
	store := NewMemoryStore(nil)

	_, err := New(context.Background(), nil, store)
	require.Error(t, err)

	_, err = New(context.Background(), testConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store cannot be nil")
}

func TestNew_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx := context.Background()

	a1, err := New(ctx, testConfig(), NewMemoryStore(nil), WithMetrics(reg))
	require.NoError(t, err)
	defer a1.Close()
	a2, err := New(ctx, testConfig(), NewMemoryStore(nil), WithMetrics(reg))
	require.NoError(t, err)
	defer a2.Close()

	_, err = a1.Allocate(ctx, "users")
	require.NoError(t, err)
	_, err = a2.Allocate(ctx, "users")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "seq_allocations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, float64(2), testutil.ToFloat64(a1.(*allocator).metrics.allocations.WithLabelValues("users", TierAtomic)))
}

// stubStrategy 用于验证分配链的遍历顺序
type stubStrategy struct {
	name  string
	id    int64
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Next(ctx context.Context, name string) (int64, error) {
	s.calls++
	return s.id, s.err
}

func TestAllocate_CustomStrategies(t *testing.T) {
	first := &stubStrategy{name: "first", err: errInjected}
	second := &stubStrategy{name: "second", id: 99}
	third := &stubStrategy{name: "third", id: 1}

	alloc, err := New(context.Background(), testConfig(), NewMemoryStore(nil),
		WithStrategies(first, second, third))
	require.NoError(t, err)
	defer alloc.Close()

	id, err := alloc.Allocate(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestAllocate_CallerContextDone(t *testing.T) {
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		want error
	}{
		{"canceled", canceled, context.Canceled},
		{"deadline exceeded", expired, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			_, err := f.alloc.Allocate(tt.ctx, "users")
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.allocated(t, "users", TierTimestamp))

			_, found, err := f.store.Load(context.Background(), "users")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestAllocate_CanceledDuringAtomicTier(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.faults.Failpoint(FailpointName(BackendMemory, OpIncrement)).SetFailAction(func() error {
		cancel()
		return errInjected
	})

	_, err := f.alloc.Allocate(ctx, "users")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Zero(t, f.allocated(t, "users", TierRetry))
	assert.Zero(t, f.allocated(t, "users", TierTimestamp))
}

func TestAllocate_HungStoreReachesTimestampTier(t *testing.T) {
	config := testConfig()
	config.OperationTimeout = 20 * time.Millisecond
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	alloc, err := New(context.Background(), config, hangingStore{Store: NewMemoryStore(nil)},
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer alloc.Close()

	type result struct {
		id  int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := alloc.Allocate(context.Background(), "users")
		done <- result{id, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, now.Unix()%1_000_000, r.id)
	case <-time.After(5 * time.Second):
		t.Fatal("Allocate blocked on a hung store")
	}
}

func TestClose_WaitsForInFlightCalls(t *testing.T) {
	ctx := context.Background()
	faults := failinject.NewInjector()
	store, err := OpenStore(ctx, &StoreConfig{
		Backend:     BackendPebble,
		Path:        filepath.Join(t.TempDir(), "sequences"),
		DialTimeout: time.Second,
	}, WithFailpoints(faults))
	require.NoError(t, err)

	alloc, err := New(ctx, testConfig(), store)
	require.NoError(t, err)

	// 故障点在 Increment 访问 pebble 之前阻塞，直到 release 关闭后放行
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	faults.Failpoint(FailpointName(BackendPebble, OpIncrement)).SetFailAction(func() error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	type result struct {
		id  int64
		err error
	}
	allocated := make(chan result, 1)
	go func() {
		id, err := alloc.Allocate(ctx, "users")
		allocated <- result{id, err}
	}()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- alloc.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an allocation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	r := <-allocated
	require.NoError(t, r.err)
	assert.Equal(t, int64(1), r.id)
	require.NoError(t, <-closed)

	_, err = alloc.Allocate(ctx, "users")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Increment(ctx, "users")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
