// Package logging はzapロガーの生成を担う
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"plantai/internal/config"
)

// New は設定からロガーを生成する
// 返されるAtomicLevelを使うと実行中にログレベルを変更できる
func New(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	atom := zap.NewAtomicLevelAt(level)

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("不明なログ形式: %s", cfg.Format)
	}
	zc.Level = atom
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return logger, atom, nil
}

// ParseLevel はログレベル文字列を解析する。空文字列はinfoとして扱う
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("不明なログレベル: %s", s)
	}
	return level, nil
}
