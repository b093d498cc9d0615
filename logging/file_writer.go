package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriterConfig holds log rotation settings.
type FileWriterConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileWriterConfig returns rotation settings suitable for a
// long-running service: 100MB segments, 5 backups, 30-day retention.
func DefaultFileWriterConfig(filename string) FileWriterConfig {
	return FileWriterConfig{
		Filename:   filename,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// NewFileWriter creates a rotating file write syncer. The parent
// directory is created if missing.
func NewFileWriter(cfg FileWriterConfig) (zapcore.WriteSyncer, error) {
	dir := filepath.Dir(cfg.Filename)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return zapcore.AddSync(rotator), nil
}
