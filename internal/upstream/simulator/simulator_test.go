package simulator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/himmiroute/himmi/internal"
)

func req(prompt string) *gateway.ChatRequest {
	return &gateway.ChatRequest{
		Model:    "gpt-5.2",
		Messages: []gateway.Message{{Role: "user", Content: []byte(`"` + prompt + `"`)}},
	}
}

func TestComplete_Deterministic(t *testing.T) {
	t.Parallel()

	sim := New(0)
	a, err := sim.Complete(context.Background(), req("what is 2+2"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := sim.Complete(context.Background(), req("what is 2+2"))
	if err != nil {
		t.Fatal(err)
	}

	if a.Content() != b.Content() {
		t.Error("same prompt should produce identical responses")
	}
	if !strings.Contains(a.Content(), "what is 2+2") {
		t.Errorf("response should echo the prompt: %q", a.Content())
	}
	if a.Usage == nil || a.Usage.PromptTokens == 0 || a.Usage.CompletionTokens == 0 {
		t.Errorf("usage = %+v, want nonzero synthetic counts", a.Usage)
	}
}

func TestStream_MatchesComplete(t *testing.T) {
	t.Parallel()

	sim := New(0)
	full, err := sim.Complete(context.Background(), req("hello"))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := sim.Stream(context.Background(), req("hello"))
	if err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	var usage *gateway.Usage
	var done bool
	for c := range ch {
		if c.Err != nil {
			t.Fatal(c.Err)
		}
		if c.Usage != nil {
			usage = c.Usage
		}
		if c.Done {
			done = true
			continue
		}
		b.WriteString(gjson.GetBytes(c.Data, "choices.0.delta.content").String())
	}

	if b.String() != full.Content() {
		t.Errorf("streamed %q, complete %q", b.String(), full.Content())
	}
	if usage == nil || usage.TotalTokens != full.Usage.TotalTokens {
		t.Errorf("stream usage = %+v, complete usage = %+v", usage, full.Usage)
	}
	if !done {
		t.Error("stream never reached Done")
	}
}

func TestStream_CancelWithoutConsumerEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sim := New(0)

	// A reply long enough to overflow the chunk buffer, and no reader:
	// the producer must still exit once the context ends.
	prompt := strings.Repeat("word ", 64)
	ch, err := sim.Stream(ctx, req(prompt))
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	closed := make(chan struct{})
	go func() {
		for range ch {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel never closed after cancel")
	}
}

func TestStream_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := New(0)
	ch, err := sim.Stream(ctx, req("hello"))
	if err != nil {
		t.Fatal(err)
	}

	// Drain; a cancelled context must still close the channel.
	sawErrOrDone := false
	for c := range ch {
		if c.Err != nil || c.Done {
			sawErrOrDone = true
		}
	}
	if !sawErrOrDone {
		t.Error("cancelled stream ended without error or done chunk")
	}
}
