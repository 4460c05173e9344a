package main

import (
	"github.com/septivank/hue-event-logger/internal/config"
	"github.com/septivank/hue-event-logger/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewLogger(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("bridge", cfg.Hue.BaseURL())), nil
}
