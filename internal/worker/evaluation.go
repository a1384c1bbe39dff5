package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

const (
	evalChanSize   = 256
	evalBatchSize  = 32
	evalFlushEvery = 10 * time.Second
	evalDrainTime  = 30 * time.Second
)

// EvaluationWriter buffers shadow-mode comparison pairs and batch-writes
// them to the store. Pairs are dropped if the channel is full; evaluation
// data is best-effort by design.
type EvaluationWriter struct {
	ch    chan gateway.EvaluationPair
	store storage.EvaluationStore
}

// NewEvaluationWriter creates an EvaluationWriter backed by store.
func NewEvaluationWriter(store storage.EvaluationStore) *EvaluationWriter {
	return &EvaluationWriter{
		ch:    make(chan gateway.EvaluationPair, evalChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (e *EvaluationWriter) Name() string { return "evaluation_writer" }

// RecordPair enqueues a comparison pair. It never blocks.
func (e *EvaluationWriter) RecordPair(p gateway.EvaluationPair) {
	select {
	case e.ch <- p:
	default:
		slog.Warn("evaluation pair dropped, channel full", "request_id", p.RequestID)
	}
}

// Run processes pairs until ctx is cancelled, then drains the queue.
func (e *EvaluationWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(evalFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.EvaluationPair, 0, evalBatchSize)

	for {
		select {
		case p := <-e.ch:
			buf = append(buf, p)
			if len(buf) >= evalBatchSize {
				e.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				e.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			e.drain(buf)
			return nil
		}
	}
}

func (e *EvaluationWriter) drain(buf []gateway.EvaluationPair) {
	ctx, cancel := context.WithTimeout(context.Background(), evalDrainTime)
	defer cancel()

	for {
		select {
		case p := <-e.ch:
			buf = append(buf, p)
			if len(buf) >= evalBatchSize {
				e.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				e.flush(ctx, buf)
			}
			return
		}
	}
}

func (e *EvaluationWriter) flush(ctx context.Context, buf []gateway.EvaluationPair) {
	batch := make([]gateway.EvaluationPair, len(buf))
	copy(batch, buf)

	if err := e.store.InsertEvaluationPairs(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "evaluation flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
