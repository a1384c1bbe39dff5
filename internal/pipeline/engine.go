package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/himmiroute/himmi/internal/telemetry"
)

// Terminal is the pseudo-stage that ends a walk.
const Terminal = "END"

// maxSteps bounds a single walk. The graph is nine stages deep at most;
// anything past this is a wiring bug, not a long request.
const maxSteps = 16

// stageFunc transforms the state. Stages never return errors directly;
// request-level failures go in State.Err.
type stageFunc func(ctx context.Context, s State) State

// condFunc picks the next stage from the post-stage state.
type condFunc func(s State) string

// Engine walks a static stage graph. Stages and edges are fixed at
// construction; Run is safe for concurrent use.
type Engine struct {
	entry  string
	stages map[string]stageFunc
	edges  map[string]string
	conds  map[string]condFunc
	tracer trace.Tracer
}

func newEngine(entry string) *Engine {
	return &Engine{
		entry:  entry,
		stages: make(map[string]stageFunc),
		edges:  make(map[string]string),
		conds:  make(map[string]condFunc),
		tracer: telemetry.Tracer("pipeline"),
	}
}

// stage registers fn under name with a static edge to next.
func (e *Engine) stage(name string, fn stageFunc, next string) {
	e.stages[name] = fn
	e.edges[name] = next
}

// conditional registers fn under name with a conditional edge.
func (e *Engine) conditional(name string, fn stageFunc, cond condFunc) {
	e.stages[name] = fn
	e.conds[name] = cond
}

// Run walks the graph from the entry stage until Terminal. The returned
// error is an engine fault (unknown stage, runaway walk); request-level
// failures ride in the returned State.Err.
func (e *Engine) Run(ctx context.Context, s State) (State, error) {
	cur := e.entry
	for steps := 0; cur != Terminal; steps++ {
		if steps >= maxSteps {
			return s, fmt.Errorf("pipeline: walk exceeded %d steps at %q", maxSteps, cur)
		}
		fn, ok := e.stages[cur]
		if !ok {
			return s, fmt.Errorf("pipeline: unknown stage %q", cur)
		}

		spanCtx, span := e.tracer.Start(ctx, "pipeline."+cur,
			trace.WithAttributes(attribute.String("request.id", s.RequestID)))
		s = fn(spanCtx, s)
		if s.Err != nil {
			span.SetAttributes(attribute.String("stage.error", s.Err.Error()))
		}
		span.End()

		if cond, ok := e.conds[cur]; ok {
			cur = cond(s)
			continue
		}
		next := e.edges[cur]
		if next == "" {
			return s, fmt.Errorf("pipeline: stage %q has no outgoing edge", cur)
		}
		cur = next
	}
	return s, nil
}
