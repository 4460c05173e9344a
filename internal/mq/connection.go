package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const heartbeat = 10 * time.Second

// Connection wraps the RabbitMQ connection used for event publishing
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials RabbitMQ under the given connection name. An empty url
// disables publishing and returns a nil connection.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url, connectionName string) (*Connection, error) {
	if url == "" {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
		return nil, nil
	}

	logger.Info("attempting to connect to RabbitMQ...", zap.String("connection_name", connectionName))

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) RABBITMQ_URL is correct, 3) Credentials are valid. Error: %w", err)
	}

	mqConn := &Connection{conn: conn}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if conn.IsClosed() {
				return fmt.Errorf("[RABBITMQ CONNECTION FAILED] connection closed before start")
			}
			logger.Info("rabbitmq connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel opens a channel on the connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
