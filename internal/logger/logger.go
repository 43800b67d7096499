package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON logger at the given level. An empty logFile writes to stdout.
func New(level, logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevel()
	if level == "" {
		level = "info"
	}
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	writeSyncer := zapcore.AddSync(os.Stdout)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), writeSyncer, atom)
	return zap.New(core, zap.AddCaller()), nil
}
