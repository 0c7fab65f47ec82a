package clog

import (
	"go.uber.org/zap"
)

// Field 是 zap.Field 的别名
type Field = zap.Field

// 导出常用的 zap 字段构造函数
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Uint64   = zap.Uint64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Time     = zap.Time
	Duration = zap.Duration
	Any      = zap.Any
	Strings  = zap.Strings
	Int64s   = zap.Int64s
	Err      = zap.Error
	Stringer = zap.Stringer
)

// Component 标记日志来源的组件，如 "store.etcd"
func Component(name string) Field {
	return zap.String("component", name)
}
