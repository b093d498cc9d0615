package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore builds the zapcore.Core used by the service: a JSON file
// core (always) teed with a console core. In development the console
// encoder is colored and human-readable; in production it emits JSON.
func NewMultiCore(level zapcore.Level, logFilePath string, isDevelopment bool) (zapcore.Core, error) {
	fileWriter, err := NewFileWriter(DefaultFileWriterConfig(logFilePath))
	if err != nil {
		return nil, err
	}
	// Touch the file so startup failures surface immediately rather
	// than on first write.
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()

	return NewMultiCoreWithWriters(level, zapcore.Lock(os.Stdout), fileWriter, isDevelopment), nil
}

// NewMultiCoreWithWriters is the injectable variant used by tests.
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDevelopment bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDevelopment {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, consoleWriter, level)

	return zapcore.NewTee(fileCore, consoleCore)
}
