package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithSession returns a logger tagged with a tail viewer session id
func WithSession(logger *zap.Logger, sessionID string) *zap.Logger {
	return logger.With(zap.String("session_id", sessionID))
}

// WithResource returns a logger tagged with a hub resource
func WithResource(logger *zap.Logger, resourceID, resourceType string) *zap.Logger {
	return logger.With(
		zap.String("resource_id", resourceID),
		zap.String("resource_type", resourceType),
	)
}
