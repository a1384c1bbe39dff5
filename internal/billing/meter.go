package billing

import (
	"context"
	"sync"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

// StreamMeter wraps an upstream chunk channel, forwards chunks untouched,
// and accumulates token usage as it passes through. When the stream ends
// -- upstream exhaustion, context cancellation, or Close() from the HTTP
// surface -- the meter releases its settlement exactly once with whatever
// usage it has seen. A client that disconnects mid-stream is still charged
// for the tokens the upstream reported up to that point; a stream that
// ends before any usage arrives settles nothing.
type StreamMeter struct {
	out     chan gateway.StreamChunk
	settler Settler
	charge  storage.Charge

	mu    sync.Mutex
	usage gateway.Usage

	releaseOnce sync.Once
	cancel      context.CancelFunc
}

// NewStreamMeter starts metering upstream. charge carries the identity and
// unit costs; its token counts are filled in from observed usage at release
// time. The returned meter's Chunks channel is closed when upstream closes
// or ctx is cancelled.
func NewStreamMeter(ctx context.Context, upstream <-chan gateway.StreamChunk, charge storage.Charge, settler Settler) *StreamMeter {
	ctx, cancel := context.WithCancel(ctx)
	m := &StreamMeter{
		out:     make(chan gateway.StreamChunk, 8),
		settler: settler,
		charge:  charge,
		cancel:  cancel,
	}
	go m.pump(ctx, upstream)
	return m
}

// Chunks returns the metered channel the consumer reads instead of the
// upstream channel.
func (m *StreamMeter) Chunks() <-chan gateway.StreamChunk {
	return m.out
}

// Close releases the settlement with the usage observed so far and stops
// the pump. Safe to call multiple times; the HTTP surface defers it so the
// release path runs even when the client abandons the response.
func (m *StreamMeter) Close() {
	m.cancel()
	m.release()
}

// pump forwards chunks from upstream to out, recording usage. It owns
// closing out and always ends in release().
func (m *StreamMeter) pump(ctx context.Context, upstream <-chan gateway.StreamChunk) {
	defer close(m.out)
	defer m.release()

	for {
		select {
		case chunk, ok := <-upstream:
			if !ok {
				return
			}
			if chunk.Usage != nil {
				m.record(*chunk.Usage)
			}
			select {
			case m.out <- chunk:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// record keeps the latest usage totals. Providers report cumulative usage
// in a terminal chunk, so replace beats add.
func (m *StreamMeter) record(u gateway.Usage) {
	m.mu.Lock()
	m.usage = u
	m.mu.Unlock()
}

// Usage returns the usage observed so far.
func (m *StreamMeter) Usage() gateway.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

func (m *StreamMeter) release() {
	m.releaseOnce.Do(func() {
		m.mu.Lock()
		c := m.charge
		c.PromptTokens = m.usage.PromptTokens
		c.CompletionTokens = m.usage.CompletionTokens
		m.mu.Unlock()
		// Zero observed usage means nothing to charge. Settling anyway
		// would insert a settlement row and lock the tenant for a no-op.
		if c.PromptTokens == 0 && c.CompletionTokens == 0 {
			return
		}
		if m.settler != nil {
			m.settler.Settle(Settlement{Charge: c})
		}
	})
}
