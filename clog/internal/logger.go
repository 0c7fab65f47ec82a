package internal

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ExitFunc 允许测试时替换 os.Exit
var ExitFunc = os.Exit

// SetExitFunc 设置退出函数
func SetExitFunc(fn func(int)) {
	ExitFunc = fn
}

// Logger 定义日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	WithOptions(opts ...zap.Option) Logger
	Namespace(name string) Logger
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 是 clog.Config 在内部包中的镜像，由上层转换后传入
type Config struct {
	Level       string
	Format      string
	Output      string
	AddSource   bool
	EnableColor bool
	RootPath    string
	Rotation    *RotationConfig
}

// zapLogger 封装 zap.Logger，namespace 在写日志时动态注入
type zapLogger struct {
	*zap.Logger
	namespace string
}

const namespaceKey = "namespace"

// NewLogger 根据配置创建 logger
func NewLogger(cfg *Config, namespace string) (Logger, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}

	encoder := createEncoder(cfg.Format, buildEncoderConfig(cfg.Format, cfg.EnableColor, cfg.RootPath, cfg.AddSource))
	sink, err := buildWriteSyncer(cfg.Output, cfg.Rotation)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}

	return &zapLogger{
		Logger:    zap.New(core, opts...),
		namespace: namespace,
	}, nil
}

// NewFallbackLogger 创建备用 logger，在配置初始化失败时使用
func NewFallbackLogger() Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{Logger: logger}
}

// With 添加字段，namespace 字段由 Namespace 管理，这里过滤掉
func (l *zapLogger) With(fields ...zap.Field) Logger {
	filtered := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if field.Key != namespaceKey {
			filtered = append(filtered, field)
		}
	}
	return &zapLogger{
		Logger:    l.Logger.With(filtered...),
		namespace: l.namespace,
	}
}

// WithOptions 应用 zap 选项
func (l *zapLogger) WithOptions(opts ...zap.Option) Logger {
	return &zapLogger{
		Logger:    l.Logger.WithOptions(opts...),
		namespace: l.namespace,
	}
}

// Namespace 创建子命名空间的 Logger，形如 "seq.store.etcd"
func (l *zapLogger) Namespace(name string) Logger {
	full := name
	if l.namespace != "" {
		full = l.namespace + "." + name
	}
	return &zapLogger{
		Logger:    l.Logger,
		namespace: full,
	}
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) {
	l.write(zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) Info(msg string, fields ...zap.Field) {
	l.write(zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(msg string, fields ...zap.Field) {
	l.write(zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(msg string, fields ...zap.Field) {
	l.write(zapcore.ErrorLevel, msg, fields)
}

// Fatal 记录日志后调用 ExitFunc(1)
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) {
	// 退出交给 ExitFunc，zap 自身只负责写出
	if ce := l.Logger.WithOptions(zap.AddCallerSkip(1), zap.WithFatalHook(deferredExit{})).Check(zapcore.FatalLevel, msg); ce != nil {
		ce.Write(l.withNamespace(fields)...)
	}
	ExitFunc(1)
}

// deferredExit 让 zap 写完 Fatal 日志后不退出进程
type deferredExit struct{}

func (deferredExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// write 统一的写入入口，保证 caller 指向业务代码
func (l *zapLogger) write(level zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.Logger.WithOptions(zap.AddCallerSkip(2)).Check(level, msg); ce != nil {
		ce.Write(l.withNamespace(fields)...)
	}
}

// withNamespace 把 namespace 放在字段的第一个位置
func (l *zapLogger) withNamespace(fields []zap.Field) []zap.Field {
	if l.namespace == "" {
		return fields
	}
	all := make([]zap.Field, len(fields)+1)
	all[0] = zap.String(namespaceKey, l.namespace)
	copy(all[1:], fields)
	return all
}

func defaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    "json",
		Output:    "stdout",
		AddSource: true,
	}
}

// parseLevel 解析日志级别，未知级别按 info 处理
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
