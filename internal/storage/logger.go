// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BadgerLogger is a wrapper type to give our logger the expected interface.
// Badger logs printf-style, which maps directly onto a sugared zap logger
type BadgerLogger struct {
	logger *zap.SugaredLogger
}

func NewBadgerLogger() *BadgerLogger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &BadgerLogger{
		logger: logger.Sugar().With("component", "storage"),
	}
}

func (b *BadgerLogger) Infof(msg string, args ...any) {
	b.logger.Infof(msg, args...)
}

func (b *BadgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warnf(msg, args...)
}

func (b *BadgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debugf(msg, args...)
}

func (b *BadgerLogger) Errorf(msg string, args ...any) {
	b.logger.Errorf(msg, args...)
}

// Sync flushes buffered log entries
func (b *BadgerLogger) Sync() error {
	return b.logger.Sync()
}
