package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExtractionRoutingKey = "video.extraction"
	StatusRoutingKey     = "folder.status"
)

type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
		},
	)
}

func (p *Publisher) Declare(t Topology) error {
	return DeclareTopology(p.channel, t)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

type StatusPublisher struct {
	pub        *Publisher
	routingKey string
}

func NewStatusPublisher(pub *Publisher) *StatusPublisher {
	return &StatusPublisher{pub: pub, routingKey: StatusRoutingKey}
}

func (sp *StatusPublisher) PublishFolderEvent(ctx context.Context, event entity.FolderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal folder event: %w", err)
	}
	return sp.pub.publish(ctx, sp.pub.exchange, sp.routingKey, body, nil)
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.publish(ctx, "", dp.queue, msg, amqp.Table{"x-dlq-reason": reason})
}

// ExtractionDispatcher stages the recording in object storage and queues the
// run for the worker service.
type ExtractionDispatcher struct {
	pub        *Publisher
	recordings port.RecordingStorage
	routingKey string
}

func NewExtractionDispatcher(pub *Publisher, recordings port.RecordingStorage) *ExtractionDispatcher {
	return &ExtractionDispatcher{pub: pub, recordings: recordings, routingKey: ExtractionRoutingKey}
}

func (d *ExtractionDispatcher) Dispatch(ctx context.Context, req entity.ExtractionRequest, size int64, contentType string) error {
	key := fmt.Sprintf("%s/%s%s", req.FolderID, uuid.NewString(), req.RecordingExt)
	if err := d.recordings.StageRecording(ctx, key, req.Recording, size, contentType); err != nil {
		return err
	}

	body, err := json.Marshal(entity.ExtractionMessage{
		FolderID:     req.FolderID,
		UserID:       req.UserID,
		Timestamps:   req.Timestamps,
		RecordingKey: key,
		RecordingExt: req.RecordingExt,
	})
	if err != nil {
		return fmt.Errorf("marshal extraction message: %w", err)
	}

	if err := d.pub.publish(ctx, d.pub.exchange, d.routingKey, body, nil); err != nil {
		_ = d.recordings.RemoveRecording(context.WithoutCancel(ctx), key)
		return fmt.Errorf("publish extraction message: %w", err)
	}
	return nil
}
