package clog

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/bank-kit/clog/internal"
	"go.uber.org/zap"
)

// Logger 定义统一的日志记录接口，封装 zap.Logger 提供类型安全的使用方式
type Logger = internal.Logger

var (
	// defaultLogger 全局默认日志器，使用 atomic.Value 保证并发安全
	defaultLogger atomic.Value

	defaultLoggerOnce sync.Once

	// exitFunc 退出函数，支持测试时进行 mock
	exitFunc = os.Exit

	// traceIDKey 类型安全的上下文键，避免字符串键冲突
	traceIDKey struct{}
)

// SetExitFunc 设置退出函数，用于测试时模拟 os.Exit 行为
func SetExitFunc(fn func(int)) {
	exitFunc = fn
	internal.SetExitFunc(fn)
}

// WithTraceID 将 trace_id 注入到 context 中，返回新的 context
// 通常在一次业务操作的入口处调用，例如创建用户、创建账户
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 返回 ctx 中的 trace_id，不存在时返回空字符串
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithContext 从 context 中获取 Logger 实例
// 如果 ctx 中包含 trace_id，返回的 Logger 会自动在每条日志中添加 "trace_id" 字段
func WithContext(ctx context.Context) Logger {
	logger := getDefaultLogger()
	if id := TraceID(ctx); id != "" {
		return logger.With(zap.String("trace_id", id))
	}
	return logger
}

// getDefaultLogger 获取全局默认日志器
// 初始化失败时会创建 fallback logger 确保系统可用性
func getDefaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		if defaultLogger.Load() != nil {
			return
		}
		logger, err := internal.NewLogger(GetDefaultConfig("development").toInternal(), "")
		if err != nil {
			log.Printf("clog: failed to initialize default logger: %v", err)
			logger = internal.NewFallbackLogger()
		}
		defaultLogger.Store(logger)
	})
	return defaultLogger.Load().(Logger)
}

// New 创建独立的 Logger 实例，支持自定义配置
// 配置无效时返回错误；初始化失败时返回 fallback logger 和原始错误
func New(ctx context.Context, config *Config, opts ...Option) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := ParseOptions(opts...)
	logger, err := internal.NewLogger(config.toInternal(), options.Namespace)
	if err != nil {
		return internal.NewFallbackLogger(), err
	}
	return logger, nil
}

// Init 初始化全局默认日志器，通常在 main 函数中调用一次
// 初始化失败时不会替换现有 logger；重复调用会原子替换
func Init(ctx context.Context, config *Config, opts ...Option) error {
	if err := config.Validate(); err != nil {
		return err
	}

	options := ParseOptions(opts...)
	logger, err := internal.NewLogger(config.toInternal(), options.Namespace)
	if err != nil {
		return err
	}
	// 先触发一次 once，避免之后的懒加载覆盖这里设置的 logger
	defaultLoggerOnce.Do(func() {})
	defaultLogger.Store(logger)
	return nil
}

// Namespace 创建带有层次化命名空间的 Logger 实例
//
// 示例：
//
//	seqLogger := clog.Namespace("seq")
//	storeLogger := seqLogger.Namespace("store") // "seq.store"
func Namespace(name string) Logger {
	return getDefaultLogger().Namespace(name)
}

func Debug(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Fatal 记录 Fatal 级别的日志并调用 exitFunc(1) 退出程序
func Fatal(msg string, fields ...Field) {
	getDefaultLogger().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}
