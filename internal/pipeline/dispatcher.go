package pipeline

import (
	"context"

	"trustpipe/internal/broker"
	"trustpipe/internal/logger"
	"trustpipe/pkg/models"
)

// Dispatcher hands a fully built notification to the downstream delivery
// consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NotificationMessage) error
}

type KafkaDispatcher struct {
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewKafkaDispatcher(producer broker.Producer, topic string, log logger.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg models.NotificationMessage) error {
	if err := d.producer.Publish(ctx, d.topic, msg.EventID, msg); err != nil {
		return err
	}

	d.logger.DebugwCtx(ctx, "Notification dispatched",
		"kind", msg.Kind,
		"template_id", msg.TemplateID,
	)
	return nil
}
