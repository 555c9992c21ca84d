// Package notify decouples request handlers from the mail transport.
// Handlers enqueue messages and return; a small worker pool delivers them in
// the background. Delivery failures are logged and never propagate to the
// caller of a money-affecting endpoint.
package notify

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is a notification to a single recipient.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message. The transport lives outside this module; the
// server wires a concrete implementation at startup.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender is a Sender that records deliveries in the log. It stands in for
// the external mail service in development and tests.
type LogSender struct {
	lg *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(lg *zap.Logger) *LogSender {
	return &LogSender{lg: lg}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.lg.Info("notification",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// Queue is a buffered, fire-and-forget dispatch queue in front of a Sender.
type Queue struct {
	sender Sender
	lg     *zap.Logger
	ch     chan Message
	grp    *errgroup.Group
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(sender Sender, buffer int, lg *zap.Logger) *Queue {
	return &Queue{
		sender: sender,
		lg:     lg,
		ch:     make(chan Message, buffer),
	}
}

// Start launches the delivery workers. They drain the queue until Close is
// called and the channel is exhausted.
func (q *Queue) Start(ctx context.Context, workers int) {
	grp, ctx := errgroup.WithContext(ctx)
	for range workers {
		grp.Go(func() error {
			for msg := range q.ch {
				if err := q.sender.Send(ctx, msg); err != nil {
					q.lg.Error("notification delivery failed",
						zap.String("to", msg.To),
						zap.String("subject", msg.Subject),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	q.grp = grp
}

// Enqueue submits a message without blocking. When the buffer is full the
// message is dropped with a log entry: notifications are best-effort and a
// slow transport must not back-pressure checkout.
func (q *Queue) Enqueue(msg Message) {
	select {
	case q.ch <- msg:
	default:
		q.lg.Warn("notification queue full, dropping message",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
		)
	}
}

// Close stops accepting messages and waits for the workers to drain.
func (q *Queue) Close() error {
	close(q.ch)
	if q.grp != nil {
		return q.grp.Wait()
	}
	return nil
}
