package broker

import (
	"context"

	"trustpipe/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, event models.LeaseEvent) error
