package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finanzas/internal/amqp"
	"finanzas/internal/services"
)

// EventConsumer delivers loan events until ctx is done. *amqp.Client
// implements it.
type EventConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, *amqp.LoanEvent) error) error
}

// AuditWorker writes an audit snapshot for every loan event it receives.
type AuditWorker struct {
	audit          *services.AuditService
	consumer       EventConsumer
	handlerTimeout time.Duration
}

func NewAuditWorker(audit *services.AuditService, consumer EventConsumer, handlerTimeout time.Duration) *AuditWorker {
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Second
	}
	return &AuditWorker{
		audit:          audit,
		consumer:       consumer,
		handlerTimeout: handlerTimeout,
	}
}

// HandleLoanEvent processes a single loan event. A returned error requeues
// the message.
func (w *AuditWorker) HandleLoanEvent(ctx context.Context, evt *amqp.LoanEvent) error {
	ctx, cancel := context.WithTimeout(ctx, w.handlerTimeout)
	defer cancel()

	slog.InfoContext(ctx, "Processing loan event",
		"event_id", evt.EventID,
		"type", evt.Type,
		"loan_id", evt.LoanID)

	start := time.Now()
	if err := w.audit.Record(ctx, evt); err != nil {
		return fmt.Errorf("audit loan event %s: %w", evt.EventID, err)
	}

	slog.DebugContext(ctx, "Loan event processed",
		"event_id", evt.EventID,
		"duration", time.Since(start))
	return nil
}

// Run consumes events until ctx is cancelled. Cancellation is a clean stop.
func (w *AuditWorker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return errors.New("audit worker has no event consumer")
	}
	err := w.consumer.Consume(ctx, w.HandleLoanEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
