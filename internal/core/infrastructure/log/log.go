// Package log 提供基于 zap 的日志记录器构建，文件输出经 lumberjack 轮转
package log

import (
	"fmt"
	"os"
	"path/filepath"

	logconfig "github.com/weisyn/ledgernode/internal/config/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// createFileWriter 创建日志文件写入器
func createFileWriter(logPath string, options *logconfig.LogOptions) (zapcore.WriteSyncer, error) {
	// 确保日志目录存在
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    options.MaxSize, // megabytes
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge, // days
		Compress:   options.Compress,
	}), nil
}

// New 根据配置创建 zap 日志记录器
func New(options *logconfig.LogOptions) (*zap.Logger, error) {
	if options == nil {
		options = logconfig.New(nil).GetOptions()
	}
	level := zap.NewAtomicLevelAt(options.ZapLevel())

	var cores []zapcore.Core

	// 1. 控制台输出
	if options.ToConsole {
		cores = append(cores, zapcore.NewCore(options.ConsoleEncoder(), zapcore.AddSync(os.Stdout), level))
	}

	// 2. 文件输出
	if options.FilePath != "" {
		absPath, err := filepath.Abs(options.FilePath)
		if err != nil {
			return nil, fmt.Errorf("resolve log path: %w", err)
		}
		writer, err := createFileWriter(absPath, options)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(options.FileEncoder(), writer, level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	var zapOptions []zap.Option
	if options.EnableCaller {
		zapOptions = append(zapOptions, zap.AddCaller())
	}
	if options.EnableStacktrace {
		zapOptions = append(zapOptions, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zapOptions...), nil
}

// NewModuleZapLogger 创建带 module 字段的 zap logger
func NewModuleZapLogger(baseLogger *zap.Logger, module string) *zap.Logger {
	if baseLogger == nil {
		return zap.NewNop()
	}
	return baseLogger.With(zap.String("module", module))
}
