package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SettleHandler completes a settlement that has become due.
type SettleHandler interface {
	CompleteSettle(ctx context.Context, tradeNo string) error
}

// NotifyHandler delivers a merchant notification.
type NotifyHandler interface {
	Deliver(ctx context.Context, tradeNo string) error
}

// Worker drains the settle and notification work-queue consumers.
type Worker struct {
	settle SettleHandler
	notify NotifyHandler
}

// NewWorker builds a Worker.
func NewWorker(settle SettleHandler, notify NotifyHandler) *Worker {
	return &Worker{settle: settle, notify: notify}
}

// RunSettle consumes SettleStream messages until ctx is canceled. JetStream
// has no native per-message publish delay, so a message whose NotBefore
// hasn't arrived yet is Nak'd with a delay instead of processed; it will be
// redelivered at roughly that instant without ever incrementing the
// consumer's redelivery-triggered backoff the way a plain Nak would.
func (w *Worker) RunSettle(ctx context.Context, consumer jetstream.Consumer) error {
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.handleSettle(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer cc.Stop()
	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) handleSettle(ctx context.Context, msg jetstream.Msg) {
	var job SettleJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		log.Printf("queue: discarding malformed settle job: %v", err)
		_ = msg.Term()
		return
	}

	if wait := time.Until(job.NotBefore); wait > 0 {
		_ = msg.NakWithDelay(wait)
		return
	}

	if err := w.settle.CompleteSettle(ctx, job.TradeNo); err != nil {
		log.Printf("queue: settle job for %s failed: %v", job.TradeNo, err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// RunNotify consumes NotifyStream messages until ctx is canceled.
func (w *Worker) RunNotify(ctx context.Context, consumer jetstream.Consumer) error {
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.handleNotify(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer cc.Stop()
	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) handleNotify(ctx context.Context, msg jetstream.Msg) {
	var job NotifyJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		log.Printf("queue: discarding malformed notify job: %v", err)
		_ = msg.Term()
		return
	}

	if err := w.notify.Deliver(ctx, job.TradeNo); err != nil {
		log.Printf("queue: notify job for %s failed: %v", job.TradeNo, err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}
