// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 50
	logMaxBackups = 5
	logMaxAgeDays = 14
)

// NewLogger returns a logger using the Zap structured logger.
// If stdout is false, a rotated file logger is used under logDir. Otherwise a
// console logger writing to stdout is used, which suits interactive runs.
func NewLogger(logDir, logName string, debug, stdout bool) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	var core zapcore.Core
	if stdout {
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(cfg),
			zapcore.AddSync(os.Stdout), level)
	} else {
		if logDir == "" {
			logDir = "/tmp"
		}
		if logName == "" {
			logName = filepath.Base(os.Args[0])
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}

		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, logName+".log"),
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}

		core = zapcore.NewCore(zapcore.NewJSONEncoder(cfg),
			zapcore.AddSync(rotator), level)
	}

	var logger *zap.Logger
	if debug {
		logger = zap.New(core, zap.AddCaller())
	} else {
		logger = zap.New(core)
	}

	return logger, nil
}
