package storeimpl

import (
	"context"
	"sync"

	"github.com/ceyewan/bank-kit/internal/failinject"
)

// MemoryStore 进程内计数器存储，Increment 由互斥锁串行化
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]int64
	faults *failinject.Injector
}

// NewMemoryStore faults 可以为 nil
func NewMemoryStore(faults *failinject.Injector) *MemoryStore {
	return &MemoryStore{
		values: make(map[string]int64),
		faults: faults,
	}
}

func (s *MemoryStore) Increment(ctx context.Context, name string) (int64, error) {
	if err := check(ctx, s.faults, BackendMemory, OpIncrement); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name]++
	return s.values[name], nil
}

func (s *MemoryStore) Load(ctx context.Context, name string) (int64, bool, error) {
	if err := check(ctx, s.faults, BackendMemory, OpLoad); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, name string, value int64) error {
	if err := check(ctx, s.faults, BackendMemory, OpSave); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := check(ctx, s.faults, BackendMemory, OpDelete); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return check(ctx, s.faults, BackendMemory, OpPing)
}

func (s *MemoryStore) Close() error {
	return nil
}
