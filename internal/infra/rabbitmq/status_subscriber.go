package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type FolderEventHandler func(event entity.FolderEvent)

// StatusSubscriber feeds folder events from the status exchange into this
// process. Every instance gets its own exclusive queue, so each one sees
// every event.
type StatusSubscriber struct {
	channel *amqp.Channel
	queue   string
	handler FolderEventHandler
	logger  *zap.Logger
}

func NewStatusSubscriber(conn *amqp.Connection, exchange string, handler FolderEventHandler, logger *zap.Logger) (*StatusSubscriber, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open subscriber channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, StatusRoutingKey, exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind subscriber queue: %w", err)
	}

	return &StatusSubscriber{channel: ch, queue: q.Name, handler: handler, logger: logger}, nil
}

func (s *StatusSubscriber) Start(ctx context.Context) error {
	deliveries, err := s.channel.ConsumeWithContext(ctx, s.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume status events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.dispatch(d.Body)
		}
	}
}

func (s *StatusSubscriber) dispatch(body []byte) {
	var event entity.FolderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Warn("discarding malformed folder event", zap.Error(err), zap.ByteString("body", body))
		return
	}
	s.handler(event)
}

func (s *StatusSubscriber) Close() error {
	return s.channel.Close()
}
