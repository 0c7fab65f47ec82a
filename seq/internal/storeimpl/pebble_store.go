package storeimpl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
)

var pebbleKeyPrefix = []byte("counter/")

// ErrStoreClosed 存储已关闭
var ErrStoreClosed = errors.New("store is closed")

// PebbleStore 单进程内嵌存储，计数器以 8 字节大端整数保存
// 同一目录只能被一个进程打开，Increment 的原子性由 mu 保证
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.Mutex
	closed bool
	faults *failinject.Injector
	logger clog.Logger
}

func OpenPebbleStore(dir string, faults *failinject.Injector, logger clog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	logger.Info("pebble counter store opened", clog.String("dir", dir))
	return &PebbleStore{db: db, faults: faults, logger: logger}, nil
}

func pebbleKey(name string) []byte {
	key := make([]byte, 0, len(pebbleKeyPrefix)+len(name))
	key = append(key, pebbleKeyPrefix...)
	return append(key, name...)
}

// get 调用方需持有 mu
func (s *PebbleStore) get(name string) (int64, bool, error) {
	if s.closed {
		return 0, false, ErrStoreClosed
	}
	raw, closer, err := s.db.Get(pebbleKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pebble get %q: %w", name, err)
	}
	defer closer.Close()
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt counter %q: %d bytes", name, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

// set 调用方需持有 mu
func (s *PebbleStore) set(name string, value int64) error {
	if s.closed {
		return ErrStoreClosed
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	if err := s.db.Set(pebbleKey(name), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %q: %w", name, err)
	}
	return nil
}

func (s *PebbleStore) Increment(ctx context.Context, name string) (int64, error) {
	if err := check(ctx, s.faults, BackendPebble, OpIncrement); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _, err := s.get(name)
	if err != nil {
		return 0, err
	}
	if err := s.set(name, current+1); err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (s *PebbleStore) Load(ctx context.Context, name string) (int64, bool, error) {
	if err := check(ctx, s.faults, BackendPebble, OpLoad); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(name)
}

func (s *PebbleStore) Save(ctx context.Context, name string, value int64) error {
	if err := check(ctx, s.faults, BackendPebble, OpSave); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(name, value)
}

func (s *PebbleStore) Delete(ctx context.Context, name string) error {
	if err := check(ctx, s.faults, BackendPebble, OpDelete); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.db.Delete(pebbleKey(name), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %q: %w", name, err)
	}
	return nil
}

func (s *PebbleStore) Ping(ctx context.Context) error {
	if err := check(ctx, s.faults, BackendPebble, OpPing); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 可重复调用，关闭后其他方法返回 ErrStoreClosed
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
