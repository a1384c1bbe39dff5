package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

const (
	logChanSize   = 1000
	logBatchSize  = 100
	logFlushEvery = 5 * time.Second
	logDrainTime  = 30 * time.Second
)

// usageUpdate backfills token counts and cost on an already-inserted log
// row after a streamed response settles.
type usageUpdate struct {
	requestID        string
	promptTokens     int
	completionTokens int
	cost             float64
}

// logOp is one queued recorder operation: exactly one field is set.
type logOp struct {
	insert *gateway.RequestLog
	update *usageUpdate
}

// LogRecorder buffers request log rows and batch-flushes them to the
// store. Inserts and usage updates share one FIFO queue, so an update for
// a streamed request is always applied after its insert. Operations are
// dropped if the channel is full (back-pressure on slow DB).
type LogRecorder struct {
	ch    chan logOp
	store storage.RequestLogStore
}

// NewLogRecorder creates a LogRecorder backed by store.
func NewLogRecorder(store storage.RequestLogStore) *LogRecorder {
	return &LogRecorder{
		ch:    make(chan logOp, logChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (l *LogRecorder) Name() string { return "log_recorder" }

// Record enqueues a request log row. It never blocks; drops on full channel.
func (l *LogRecorder) Record(r gateway.RequestLog) {
	select {
	case l.ch <- logOp{insert: &r}:
	default:
		slog.Warn("request log dropped, channel full", "request_id", r.RequestID)
	}
}

// UpdateUsage enqueues a token-count backfill for a streamed request's log
// row. It never blocks; drops on full channel.
func (l *LogRecorder) UpdateUsage(requestID string, promptTokens, completionTokens int, cost float64) {
	op := logOp{update: &usageUpdate{
		requestID:        requestID,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		cost:             cost,
	}}
	select {
	case l.ch <- op:
	default:
		slog.Warn("usage update dropped, channel full", "request_id", requestID)
	}
}

// QueueDepth returns the number of queued operations.
func (l *LogRecorder) QueueDepth() int { return len(l.ch) }

// Run processes operations until ctx is cancelled, then drains the queue.
func (l *LogRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.RequestLog, 0, logBatchSize)

	for {
		select {
		case op := <-l.ch:
			buf = l.apply(ctx, buf, op)

		case <-ticker.C:
			if len(buf) > 0 {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			l.drain(buf)
			return nil
		}
	}
}

// apply folds one operation into the insert buffer. Updates force a flush
// of pending inserts first so the row they target exists.
func (l *LogRecorder) apply(ctx context.Context, buf []gateway.RequestLog, op logOp) []gateway.RequestLog {
	switch {
	case op.insert != nil:
		buf = append(buf, *op.insert)
		if len(buf) >= logBatchSize {
			l.flush(ctx, buf)
			buf = buf[:0]
		}
	case op.update != nil:
		if len(buf) > 0 {
			l.flush(ctx, buf)
			buf = buf[:0]
		}
		u := op.update
		if err := l.store.UpdateRequestLogUsage(ctx, u.requestID, u.promptTokens, u.completionTokens, u.cost); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "usage update failed",
				slog.String("request_id", u.requestID),
				slog.String("error", err.Error()),
			)
		}
	}
	return buf
}

func (l *LogRecorder) drain(buf []gateway.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTime)
	defer cancel()

	for {
		select {
		case op := <-l.ch:
			buf = l.apply(ctx, buf, op)
		default:
			if len(buf) > 0 {
				l.flush(ctx, buf)
			}
			return
		}
	}
}

func (l *LogRecorder) flush(ctx context.Context, buf []gateway.RequestLog) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.RequestLog, len(buf))
	copy(batch, buf)

	if err := l.store.InsertRequestLogs(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
