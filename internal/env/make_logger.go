package env

import (
	zap "go.uber.org/zap"
)

func MakeLogger(debug bool) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	if debug {
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logConfig.Development = true
	}

	return logConfig.Build()
}
