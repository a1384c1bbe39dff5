package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/himmiroute/himmi/internal/billing"
	"github.com/himmiroute/himmi/internal/storage"
	"github.com/himmiroute/himmi/internal/telemetry"
)

const (
	settlementChanSize  = 1000
	settlementDrainTime = 30 * time.Second
)

// SettlementWorker applies deferred stream charges. Each settlement runs
// the same transaction as inline billing; the request_settlements ledger
// makes re-delivery harmless. After a charge lands, the worker queues a
// usage backfill for the request's log row.
type SettlementWorker struct {
	ch       chan billing.Settlement
	store    storage.BillingStore
	recorder *LogRecorder
	metrics  *telemetry.Metrics
}

// NewSettlementWorker creates a SettlementWorker. recorder and metrics may
// be nil in tests.
func NewSettlementWorker(store storage.BillingStore, recorder *LogRecorder, metrics *telemetry.Metrics) *SettlementWorker {
	return &SettlementWorker{
		ch:       make(chan billing.Settlement, settlementChanSize),
		store:    store,
		recorder: recorder,
		metrics:  metrics,
	}
}

// Name returns the worker identifier.
func (w *SettlementWorker) Name() string { return "settlement" }

// Settle enqueues a settlement. It never blocks; drops on full channel
// (the charge is lost, favoring availability over revenue).
func (w *SettlementWorker) Settle(s billing.Settlement) {
	select {
	case w.ch <- s:
	default:
		slog.Warn("settlement dropped, channel full", "request_id", s.Charge.RequestID)
	}
	if w.metrics != nil {
		w.metrics.QueueDepth.WithLabelValues("settlements").Set(float64(len(w.ch)))
	}
}

// Run applies settlements until ctx is cancelled, then drains the queue.
func (w *SettlementWorker) Run(ctx context.Context) error {
	for {
		select {
		case s := <-w.ch:
			w.applyOne(ctx, s)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *SettlementWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), settlementDrainTime)
	defer cancel()

	for {
		select {
		case s := <-w.ch:
			w.applyOne(ctx, s)
		default:
			return
		}
	}
}

func (w *SettlementWorker) applyOne(ctx context.Context, s billing.Settlement) {
	c := s.Charge
	applied, err := w.store.ApplyCharge(ctx, c)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "settlement failed",
			slog.String("request_id", c.RequestID),
			slog.String("error", err.Error()),
		)
		w.count("failed")
		return
	}
	if !applied {
		// Another settlement for this request already won.
		w.count("duplicate")
		return
	}
	w.count("applied")

	if w.recorder != nil {
		w.recorder.UpdateUsage(c.RequestID, c.PromptTokens, c.CompletionTokens, c.Cost())
	}
}

func (w *SettlementWorker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	}
}
