// Package storeimpl 包含计数器存储的各个后端实现。
//
// 每个后端都提供同一组方法：Increment 是原子的查找并自增（记录不存在时创建为 1），
// Load/Save 是普通的读和整体写入，供非原子的重试路径使用。
package storeimpl

import (
	"context"
	"fmt"

	"github.com/ceyewan/bank-kit/internal/failinject"
)

const (
	BackendMemory = "memory"
	BackendEtcd   = "etcd"
	BackendMongo  = "mongo"
	BackendPebble = "pebble"
)

// 故障点名称为 "<backend>.<op>"，例如 "etcd.increment"
const (
	OpIncrement = "increment"
	OpLoad      = "load"
	OpSave      = "save"
	OpDelete    = "delete"
	OpPing      = "ping"
)

// FailpointName 返回某个后端操作对应的故障点名称
func FailpointName(backend, op string) string {
	return backend + "." + op
}

// check 在访问后端之前检查 ctx 与故障点
func check(ctx context.Context, faults *failinject.Injector, backend, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := faults.Check(FailpointName(backend, op)); err != nil {
		return fmt.Errorf("%s %s: %w", backend, op, err)
	}
	return nil
}
