package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptHeader = "x-attempt"

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

func (c *Consumer) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func DecodeJob(d amqp.Delivery) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil {
		return m, err
	}
	if m.JobID == "" {
		return m, errors.New("rabbitmq: job message without job_id")
	}
	return m, nil
}

// Attempt is how many times the delivery has been through the retry queue.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Retry parks the delivery in the retry queue for delay, then acks the
// original. The message returns to the main queue when the TTL fires.
func (c *Consumer) Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.ch.PublishWithContext(cctx, "", RetryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(Attempt(d) + 1)},
		Timestamp:    time.Now(),
	})
	if err != nil {
		return err
	}
	return d.Ack(false)
}
