package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDecodeJob(t *testing.T) {
	m, err := DecodeJob(amqp.Delivery{Body: []byte(`{"job_id":"01HZX"}`)})
	if err != nil || m.JobID != "01HZX" {
		t.Fatalf("unexpected %+v %v", m, err)
	}

	if _, err := DecodeJob(amqp.Delivery{Body: []byte(`{}`)}); err == nil {
		t.Fatalf("expected error for missing job_id")
	}
	if _, err := DecodeJob(amqp.Delivery{Body: []byte(`not json`)}); err == nil {
		t.Fatalf("expected error for bad body")
	}
}

func TestAttempt(t *testing.T) {
	if n := Attempt(amqp.Delivery{}); n != 0 {
		t.Fatalf("expected 0 without header, got %d", n)
	}
	if n := Attempt(amqp.Delivery{Headers: amqp.Table{attemptHeader: int32(2)}}); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n := Attempt(amqp.Delivery{Headers: amqp.Table{attemptHeader: int64(3)}}); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestRetryQueueName(t *testing.T) {
	if got := RetryQueue("chat_jobs"); got != "chat_jobs.retry" {
		t.Fatalf("unexpected retry queue %q", got)
	}
}
