package storeimpl

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
	"github.com/ceyewan/bank-kit/seq/internal/client"
)

// maxCASRounds 限制一次 Increment 中 CAS 冲突后的重读次数，避免在极端竞争下无限循环
const maxCASRounds = 64

// EtcdStore 以 etcd key 保存计数器，key 为 <prefix>/<name>，value 为十进制整数
// Increment 通过比较 ModRevision 的事务实现原子自增
type EtcdStore struct {
	client *client.EtcdClient
	prefix string
	faults *failinject.Injector
	logger clog.Logger
}

func NewEtcdStore(c *client.EtcdClient, prefix string, faults *failinject.Injector, logger clog.Logger) *EtcdStore {
	return &EtcdStore{
		client: c,
		prefix: prefix,
		faults: faults,
		logger: logger,
	}
}

func (s *EtcdStore) key(name string) string {
	return path.Join(s.prefix, name)
}

// read 返回当前值与 ModRevision，key 不存在时 rev 为 0
func (s *EtcdStore) read(ctx context.Context, name string) (value int64, rev int64, err error) {
	resp, err := s.client.Get(ctx, s.key(name))
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	kv := resp.Kvs[0]
	value, err = strconv.ParseInt(string(kv.Value), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("corrupt counter %q: %w", s.key(name), err)
	}
	return value, kv.ModRevision, nil
}

func (s *EtcdStore) Increment(ctx context.Context, name string) (int64, error) {
	if err := check(ctx, s.faults, BackendEtcd, OpIncrement); err != nil {
		return 0, err
	}

	for round := 0; round < maxCASRounds; round++ {
		current, rev, err := s.read(ctx, name)
		if err != nil {
			return 0, err
		}
		next := current + 1
		ok, err := s.client.CompareAndPut(ctx, s.key(name), rev, strconv.FormatInt(next, 10))
		if err != nil {
			return 0, err
		}
		if ok {
			return next, nil
		}
		s.logger.Debug("counter changed concurrently, retrying cas",
			clog.String("sequence", name),
			clog.Int("round", round+1))
	}
	return 0, fmt.Errorf("etcd increment %q: %w", name, client.NewError(client.ErrCodeConflict, "too many concurrent updates", nil))
}

func (s *EtcdStore) Load(ctx context.Context, name string) (int64, bool, error) {
	if err := check(ctx, s.faults, BackendEtcd, OpLoad); err != nil {
		return 0, false, err
	}
	value, rev, err := s.read(ctx, name)
	if err != nil {
		return 0, false, err
	}
	return value, rev != 0, nil
}

func (s *EtcdStore) Save(ctx context.Context, name string, value int64) error {
	if err := check(ctx, s.faults, BackendEtcd, OpSave); err != nil {
		return err
	}
	_, err := s.client.Put(ctx, s.key(name), strconv.FormatInt(value, 10))
	return err
}

func (s *EtcdStore) Delete(ctx context.Context, name string) error {
	if err := check(ctx, s.faults, BackendEtcd, OpDelete); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, s.key(name))
	return err
}

func (s *EtcdStore) Ping(ctx context.Context) error {
	if err := check(ctx, s.faults, BackendEtcd, OpPing); err != nil {
		return err
	}
	return s.client.Ping(ctx)
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
