package internal

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// buildEncoderConfig 根据格式创建编码器配置
func buildEncoderConfig(format string, enableColor bool, rootPath string, addSource bool) zapcore.EncoderConfig {
	config := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      zapcore.OmitKey,
	}

	if addSource {
		config.CallerKey = "caller"
		config.EncodeCaller = customCallerEncoder(rootPath)
	}

	if format == "console" {
		if enableColor {
			config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	return config
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// customCallerEncoder 以 rootPath 之后的相对路径显示调用位置
// 未设置 rootPath 或路径中不含 rootPath 时退化为 zap 的短路径
func customCallerEncoder(rootPath string) zapcore.CallerEncoder {
	return func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		if !caller.Defined {
			enc.AppendString("undefined")
			return
		}

		idx := -1
		if rootPath != "" {
			idx = strings.Index(caller.File, rootPath)
		}
		if idx < 0 {
			zapcore.ShortCallerEncoder(caller, enc)
			return
		}

		rel := strings.TrimLeft(caller.File[idx+len(rootPath):], "/\\")
		enc.AppendString(rel + ":" + strconv.Itoa(caller.Line))
	}
}

func createEncoder(format string, config zapcore.EncoderConfig) zapcore.Encoder {
	if format == "console" {
		return zapcore.NewConsoleEncoder(config)
	}
	return zapcore.NewJSONEncoder(config)
}
