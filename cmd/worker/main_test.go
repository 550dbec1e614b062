package main

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-relay/internal/app"
)

type ackRecorder struct {
	acks     int
	nacks    int
	requeued bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error { a.acks++; return nil }
func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}
func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type stubRunner struct {
	err     error
	handled int
	gaveUp  []string
}

func (r *stubRunner) Handle(ctx context.Context, jobID string) error {
	r.handled++
	return r.err
}

func (r *stubRunner) GiveUp(ctx context.Context, jobID string, cause error) {
	r.gaveUp = append(r.gaveUp, jobID)
}

type stubRetrier struct {
	delays []time.Duration
}

func (s *stubRetrier) Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
	s.delays = append(s.delays, delay)
	return nil
}

func delivery(ack *ackRecorder, attempt int32) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"job_id":"01J"}`)}
	if attempt > 0 {
		d.Headers = amqp.Table{"x-attempt": attempt}
	}
	return d
}

func TestHandleDelivery_ShutdownRequeuesWithoutWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ack := &ackRecorder{}
	runner := &stubRunner{}
	handleDelivery(ctx, 0, runner, &stubRetrier{}, delivery(ack, 2))

	if runner.handled != 0 || len(runner.gaveUp) != 0 {
		t.Fatalf("drained delivery must not be handled, runner=%+v", runner)
	}
	if ack.nacks != 1 || !ack.requeued {
		t.Fatalf("expected requeue, got %+v", ack)
	}
}

func TestHandleDelivery_Outcomes(t *testing.T) {
	transient := errors.New("db timeout")
	cases := []struct {
		name     string
		err      error
		attempt  int32
		acks     int
		nacks    int
		retries  int
		gaveUp   int
		requeued bool
	}{
		{name: "success", acks: 1},
		{name: "job gone", err: app.ErrJobGone, nacks: 1},
		{name: "transient first attempt", err: transient, retries: 1},
		{name: "transient last attempt", err: transient, attempt: 2, nacks: 1, gaveUp: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &ackRecorder{}
			runner := &stubRunner{err: tc.err}
			retry := &stubRetrier{}
			handleDelivery(context.Background(), 0, runner, retry, delivery(ack, tc.attempt))

			if ack.acks != tc.acks || ack.nacks != tc.nacks || ack.requeued != tc.requeued {
				t.Fatalf("ack=%+v", ack)
			}
			if len(retry.delays) != tc.retries || len(runner.gaveUp) != tc.gaveUp {
				t.Fatalf("retries=%v gaveUp=%v", retry.delays, runner.gaveUp)
			}
		})
	}
}
