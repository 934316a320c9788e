package rabbitmq

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, body []byte) error

// attemptHeader counts deliveries of a message that is retried by republishing.
const attemptHeader = "x-attempt"

// Consumer feeds queued messages to a handler. A failed message is published
// again with its attempt count raised after a backoff, and goes to the DLQ once
// maxAttempts is reached.
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queue       string
	exchange    string
	dlq         string
	workerCount int
	maxAttempts int
	baseDelay   time.Duration
	handler     MessageHandler
	republish   func(ctx context.Context, queue string, msg amqp.Publishing) error
	logger      *zap.Logger
	wg          sync.WaitGroup
}

type ConsumerConfig struct {
	URL         string
	Queue       string
	Exchange    string
	DLQ         string
	StatusQueue string
	Prefetch    int
	WorkerCount int
	BaseDelayMs int
	MaxAttempts int
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = DeclareTopology(ch, Topology{
		Exchange:    cfg.Exchange,
		Queue:       cfg.Queue,
		DLQ:         cfg.DLQ,
		StatusQueue: cfg.StatusQueue,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = ch.Qos(cfg.Prefetch, 0, false)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	c := &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       cfg.Queue,
		exchange:    cfg.Exchange,
		dlq:         cfg.DLQ,
		workerCount: cfg.WorkerCount,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		handler:     handler,
		logger:      logger,
	}
	c.republish = func(ctx context.Context, queue string, msg amqp.Publishing) error {
		return ch.PublishWithContext(ctx, "", queue, false, false, msg)
	}
	return c, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		"",
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting worker pool",
		zap.Int("workers", c.workerCount),
		zap.String("queue", c.queue),
	)

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("context cancelled, waiting for workers to finish")
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.processDelivery(ctx, d, log)
		}
	}
}

func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	err := c.handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := c.getAttemptFromHeaders(d)
	log = log.With(
		zap.Error(err),
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.Int("attempt", attempt),
	)

	if ctx.Err() != nil {
		log.Info("shutting down, returning message to queue")
		_ = d.Nack(false, true)
		return
	}

	if c.maxAttempts > 0 && attempt >= c.maxAttempts {
		log.Error("retries exhausted, dead-lettering message")
		reason := fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, err)
		c.forward(ctx, d, c.dlq, amqp.Table{"x-dlq-reason": reason}, log)
		metrics.RunsTotal.WithLabelValues("dlq").Inc()
		return
	}

	delay := c.calculateBackoff(attempt)
	log.Warn("message processing failed, retrying after backoff", zap.Duration("delay", delay))
	metrics.RequeueTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	}

	c.forward(ctx, d, c.queue, amqp.Table{attemptHeader: int32(attempt + 1)}, log)
}

// forward publishes a copy of d to queue with extra headers and acks d. When
// the publish fails d is requeued as is.
func (c *Consumer) forward(ctx context.Context, d amqp.Delivery, queue string, extra amqp.Table, log *zap.Logger) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	for k, v := range extra {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         d.Body,
	}
	if err := c.republish(context.WithoutCancel(ctx), queue, msg); err != nil {
		log.Error("failed to republish message, requeueing", zap.String("target", queue), zap.NamedError("publish_error", err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) getAttemptFromHeaders(d amqp.Delivery) int {
	switch n := d.Headers[attemptHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	if xDeath, ok := d.Headers["x-death"]; ok {
		if deaths, ok := xDeath.([]interface{}); ok && len(deaths) > 0 {
			return len(deaths)
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func (c *Consumer) calculateBackoff(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
