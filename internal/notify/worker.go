package notify

import (
	"context"
	"sync"
	"time"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// MessageSender delivers a rendered notification to a phone number.
type MessageSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

const (
	receiveBatchSize   = 5
	receiveWaitSeconds = 10
)

// Worker drains the notification queue and hands rendered messages to
// the sender. Messages are deleted only after a successful send, so a
// failed delivery stays on the queue for redelivery.
type Worker struct {
	queue  Queue
	sender MessageSender
	logger *logging.Logger
	count  int
	wg     sync.WaitGroup
}

// NewWorker wires a notification worker.
func NewWorker(queue Queue, sender MessageSender, logger *logging.Logger, count int) *Worker {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if sender == nil {
		panic("notify: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if count <= 0 {
		count = 1
	}
	return &Worker{
		queue:  queue,
		sender: sender,
		logger: logger.Component("notify.worker"),
		count:  count,
	}
}

// Start launches the worker goroutines. They run until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
}

// Wait blocks until all worker goroutines have stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.queue.Receive(ctx, receiveBatchSize, receiveWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive notifications", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queueMessage) {
	ev, err := DecodeEvent(msg.Body)
	if err != nil {
		// A payload that cannot ever be processed is dropped rather
		// than redelivered forever.
		w.logger.Error("dropping undecodable notification", "message_id", msg.ID, "error", err)
		w.deleteMessage(ctx, msg)
		return
	}

	text := RenderMessage(ev)
	if text == "" || ev.Phone == "" {
		w.logger.Warn("dropping unroutable notification",
			"event_id", ev.ID, "kind", ev.Kind, "has_phone", ev.Phone != "")
		w.deleteMessage(ctx, msg)
		return
	}

	if err := w.sender.SendSMS(ctx, ev.Phone, text); err != nil {
		w.logger.Error("failed to send notification",
			"event_id", ev.ID, "kind", ev.Kind, "error", err)
		return
	}

	w.logger.Info("notification sent", "event_id", ev.ID, "kind", ev.Kind)
	w.deleteMessage(ctx, msg)
}

func (w *Worker) deleteMessage(ctx context.Context, msg queueMessage) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("failed to delete queue message", "message_id", msg.ID, "error", err)
	}
}
