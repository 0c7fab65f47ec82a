package storeimpl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
	"github.com/ceyewan/bank-kit/seq/internal/client"
)

type counterStore interface {
	Increment(ctx context.Context, name string) (int64, error)
	Load(ctx context.Context, name string) (int64, bool, error)
	Save(ctx context.Context, name string, value int64) error
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ counterStore = (*MemoryStore)(nil)
	_ counterStore = (*EtcdStore)(nil)
	_ counterStore = (*MongoStore)(nil)
	_ counterStore = (*PebbleStore)(nil)
)

// runStoreContract 对所有后端执行相同的行为检查，prefix 用于隔离共享后端上的数据
func runStoreContract(t *testing.T, store counterStore, faults *failinject.Injector, backend, prefix string) {
	ctx := context.Background()
	users := prefix + "users"
	accounts := prefix + "accounts"
	defer func() {
		_ = store.Delete(ctx, users)
		_ = store.Delete(ctx, accounts)
		_ = store.Delete(ctx, prefix+"concurrent")
	}()
	require.NoError(t, store.Delete(ctx, users))
	require.NoError(t, store.Delete(ctx, accounts))

	t.Run("lazy creation", func(t *testing.T) {
		_, found, err := store.Load(ctx, users)
		require.NoError(t, err)
		assert.False(t, found)

		v, err := store.Increment(ctx, users)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("sequential increments", func(t *testing.T) {
		for want := int64(2); want <= 5; want++ {
			v, err := store.Increment(ctx, users)
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
	})

	t.Run("independent names", func(t *testing.T) {
		v, err := store.Increment(ctx, accounts)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		v, err = store.Increment(ctx, users)
		require.NoError(t, err)
		assert.Equal(t, int64(6), v)
	})

	t.Run("load and save", func(t *testing.T) {
		v, found, err := store.Load(ctx, accounts)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(1), v)

		require.NoError(t, store.Save(ctx, accounts, 41))
		v, err = store.Increment(ctx, accounts)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("delete resets", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, accounts))
		_, found, err := store.Load(ctx, accounts)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("concurrent increments are distinct and consecutive", func(t *testing.T) {
		name := prefix + "concurrent"
		require.NoError(t, store.Delete(ctx, name))

		const k = 20
		var wg sync.WaitGroup
		results := make([]int64, k)
		errs := make([]error, k)
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.Increment(ctx, name)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, v := range results {
			assert.Equal(t, int64(i+1), v)
		}
	})

	t.Run("failpoints", func(t *testing.T) {
		boom := errors.New("injected")
		faults.Failpoint(FailpointName(backend, OpIncrement)).FailWith(boom)
		defer faults.DeactivateAll()

		_, err := store.Increment(ctx, users)
		require.ErrorIs(t, err, boom)

		// 读写路径不受影响
		v, found, err := store.Load(ctx, users)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(6), v)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	faults := failinject.NewInjector()
	store := NewMemoryStore(faults)
	runStoreContract(t, store, faults, BackendMemory, "")
	require.NoError(t, store.Close())
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Increment(ctx, "users")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPebbleStore(t *testing.T) {
	dir := t.TempDir()
	faults := failinject.NewInjector()
	store, err := OpenPebbleStore(dir, faults, clog.Namespace("test"))
	require.NoError(t, err)
	runStoreContract(t, store, faults, BackendPebble, "")
	require.NoError(t, store.Close())

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		first, err := OpenPebbleStore(dir, nil, clog.Namespace("test"))
		require.NoError(t, err)
		require.NoError(t, first.Save(ctx, "accounts", 3))
		require.NoError(t, first.Close())

		second, err := OpenPebbleStore(dir, nil, clog.Namespace("test"))
		require.NoError(t, err)
		defer second.Close()
		v, err := second.Increment(ctx, "accounts")
		require.NoError(t, err)
		assert.Equal(t, int64(4), v)
	})

	t.Run("closed store returns error", func(t *testing.T) {
		ctx := context.Background()
		store, err := OpenPebbleStore(dir, nil, clog.Namespace("test"))
		require.NoError(t, err)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		_, err = store.Increment(ctx, "accounts")
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, _, err = store.Load(ctx, "accounts")
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.ErrorIs(t, store.Save(ctx, "accounts", 9), ErrStoreClosed)
		assert.ErrorIs(t, store.Delete(ctx, "accounts"), ErrStoreClosed)
		assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	})
}

// TestEtcdStore 需要本地 etcd（localhost:2379），不可达时跳过
func TestEtcdStore(t *testing.T) {
	logger := clog.Namespace("test")
	c, err := client.New(client.Config{
		Endpoints: []string{"localhost:2379"},
		Timeout:   2 * time.Second,
		Logger:    logger,
	})
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}

	faults := failinject.NewInjector()
	store := NewEtcdStore(c, "/bank-kit-test/sequences", faults, logger)
	runStoreContract(t, store, faults, BackendEtcd, fmt.Sprintf("t%d-", time.Now().UnixNano()))
	require.NoError(t, store.Close())
}

// TestMongoStore 需要设置 MONGODB_URL，否则跳过
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_URL")
	if uri == "" {
		t.Skip("MONGODB_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := ConnectMongo(ctx, uri)
	require.NoError(t, err)

	faults := failinject.NewInjector()
	store, err := NewMongoStore(ctx, c, "bank_kit_test", true, faults, clog.Namespace("test"))
	require.NoError(t, err)
	runStoreContract(t, store, faults, BackendMongo, fmt.Sprintf("t%d-", time.Now().UnixNano()))
	require.NoError(t, store.Close())
}
