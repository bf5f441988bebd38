package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mailadmin/backend/internal/config"
)

// New 根据日志配置创建 zap 日志记录器
//
// 开发模式输出彩色控制台格式，生产模式输出 JSON。配置了 File 时
// 同时写入文件，由 lumberjack 按大小轮转。
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.DPanicLevel))
	}

	core := zapcore.NewCore(newEncoder(cfg.Development), sink, level)
	return zap.New(core, opts...).Named("mailadmin"), nil
}

func newEncoder(development bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// newSink 标准输出，加上可选的轮转文件
func newSink(cfg config.LogConfig) (zapcore.WriteSyncer, error) {
	stdout := zapcore.Lock(os.Stdout)
	if cfg.File == "" {
		return stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", cfg.File, err)
	}
	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	return zapcore.NewMultiWriteSyncer(stdout, file), nil
}

// Must 创建日志记录器，失败时退回到 zap 的生产配置
func Must(cfg config.LogConfig) *zap.Logger {
	log, err := New(cfg)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Warn("failed to build configured logger, using default", zap.Error(err))
		return fallback
	}
	return log
}
