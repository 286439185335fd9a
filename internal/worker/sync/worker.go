package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-dispatcher/internal/queue"
	"github.com/acme/voice-campaign-dispatcher/internal/statussync"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// Reader is the subset of kafka.Reader the worker depends on.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterSink parks events the worker gave up on.
type DeadLetterSink interface {
	Publish(ctx context.Context, letter queue.DeadLetter) error
}

// Worker consumes provider status events and drives the synchronizer.
// Transient failures retry in-process; events that still fail after
// maxAttempts are parked on the dead-letter topic, as are malformed
// payloads. Every message is committed, so one poisoned event never wedges
// the partition.
type Worker struct {
	reader       Reader
	synchronizer *statussync.Synchronizer
	deadLetters  DeadLetterSink
	maxAttempts  int
	retryDelay   time.Duration
	log          *logger.Logger
}

// NewWorker constructs the sync worker.
func NewWorker(reader Reader, synchronizer *statussync.Synchronizer, deadLetters DeadLetterSink, maxAttempts int, log *logger.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		reader:       reader,
		synchronizer: synchronizer,
		deadLetters:  deadLetters,
		maxAttempts:  maxAttempts,
		retryDelay:   500 * time.Millisecond,
		log:          log,
	}
}

// Run processes status events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	tracer := otel.Tracer("dialer.syncworker")

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("sync worker: fetch", zap.Error(err))
			continue
		}

		var event queue.StatusEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			w.log.Error("sync worker: unmarshal", zap.Error(err))
			w.park(ctx, event, msg.Value, err, 1)
			w.commit(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "status.sync", trace.WithAttributes(
			attribute.String("call.id", event.CallID.String()),
			attribute.String("execution.id", event.ExecutionID),
			attribute.String("status.raw", event.RawStatus),
		))

		if err := w.handle(sctx, event); err != nil {
			span.RecordError(err)
			w.log.Error("sync worker: handle event",
				zap.String("call_id", event.CallID.String()),
				zap.Error(err),
			)
			w.park(sctx, event, msg.Value, err, w.maxAttempts)
		}

		w.commit(sctx, msg)
		span.End()
	}
}

// handle retries transient synchronization failures in-process before
// giving up on the event.
func (w *Worker) handle(ctx context.Context, event queue.StatusEvent) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		_, err := w.synchronizer.Sync(ctx, event.ExecutionID, event.CallID, event.QueueItemID)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

func (w *Worker) park(ctx context.Context, event queue.StatusEvent, payload []byte, cause error, deliveries int) {
	letter := queue.DeadLetter{
		Event:      event,
		Payload:    payload,
		Error:      cause.Error(),
		FailedAt:   time.Now().UTC(),
		Deliveries: deliveries,
	}
	if err := w.deadLetters.Publish(ctx, letter); err != nil {
		w.log.Error("sync worker: park dead letter", zap.Error(err))
	}
}

func (w *Worker) commit(ctx context.Context, msg kafka.Message) {
	if err := w.reader.CommitMessages(ctx, msg); err != nil {
		w.log.Error("sync worker: commit", zap.Error(err))
	}
}
