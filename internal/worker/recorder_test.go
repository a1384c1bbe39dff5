package worker

import (
	"context"
	"testing"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/billing"
	"github.com/himmiroute/himmi/internal/storage"
	"github.com/himmiroute/himmi/internal/testutil"
)

// settlementFor prices a settlement at $2/M input, $10/M output.
func settlementFor(requestID string, tenantID, keyID int64, prompt, completion int) billing.Settlement {
	return billing.Settlement{Charge: storage.Charge{
		RequestID: requestID, TenantID: tenantID, APIKeyID: keyID,
		PromptTokens: prompt, CompletionTokens: completion,
		InputCost: 2.0, OutputCost: 10.0,
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestLogRecorder_InsertAndDrain(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	rec := NewLogRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	rec.Record(gateway.RequestLog{RequestID: "r1", ModelSlug: "gpt-5.2"})
	rec.Record(gateway.RequestLog{RequestID: "r2", ModelSlug: "gpt-5.2"})

	// Cancellation drains the queue before returning.
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	logs := store.RequestLogs()
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
}

func TestLogRecorder_UpdateAfterInsert(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	rec := NewLogRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// Insert and update queued back to back: the shared FIFO guarantees
	// the insert is flushed before the update runs.
	rec.Record(gateway.RequestLog{RequestID: "r1", ModelSlug: "gpt-5.2"})
	rec.UpdateUsage("r1", 120, 30, 0.0005)

	waitFor(t, func() bool {
		logs := store.RequestLogs()
		return len(logs) == 1 && logs[0].PromptTokens == 120
	})

	logs := store.RequestLogs()
	if logs[0].CompletionTokens != 30 || logs[0].Cost != 0.0005 {
		t.Errorf("log after update = %+v", logs[0])
	}

	cancel()
	<-done
}

func TestSettlementWorker_AppliesChargeAndBackfills(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	tenant, _, key := store.Seed(1.0, "sk-or-v1-x")

	rec := NewLogRecorder(store)
	sw := NewSettlementWorker(store, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- rec.Run(ctx) }()
	go func() { done <- sw.Run(ctx) }()

	rec.Record(gateway.RequestLog{RequestID: "r1", TenantID: tenant.ID, APIKeyID: key.ID})
	sw.Settle(settlementFor("r1", tenant.ID, key.ID, 1000, 500))

	waitFor(t, func() bool {
		logs := store.RequestLogs()
		return len(logs) == 1 && logs[0].PromptTokens == 1000
	})

	credits, err := store.GetTenantCredits(ctx, tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 1000 * 2.0/1e6 + 500 * 10.0/1e6 = 0.007
	if want := 1.0 - 0.007; credits != want {
		t.Errorf("credits = %v, want %v", credits, want)
	}

	cancel()
	<-done
	<-done
}

func TestSettlementWorker_DuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	tenant, _, key := store.Seed(1.0, "sk-or-v1-x")
	sw := NewSettlementWorker(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	sw.Settle(settlementFor("r1", tenant.ID, key.ID, 1000, 500))
	sw.Settle(settlementFor("r1", tenant.ID, key.ID, 1000, 500))

	waitFor(t, func() bool { return store.Settled("r1") })
	cancel()
	<-done

	credits, err := store.GetTenantCredits(context.Background(), tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1.0 - 0.007; credits != want {
		t.Errorf("credits = %v, want single deduction %v", credits, want)
	}
}

func TestEvaluationWriter(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	ew := NewEvaluationWriter(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ew.Run(ctx) }()

	ew.RecordPair(gateway.EvaluationPair{RequestID: "r1", PrimaryModel: "gpt-5.2", ShadowModel: "sonar"})
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	pairs := store.EvaluationPairs()
	if len(pairs) != 1 || pairs[0].ShadowModel != "sonar" {
		t.Errorf("pairs = %+v", pairs)
	}
}
