package agents

import (
	"context"
	"sync"

	"umlgen/internal/domain/entity"
	"umlgen/internal/runtime"
)

// Collector receives the renderer output of a run.
type Collector struct {
	mu      sync.Mutex
	results []entity.RenderResult
}

var _ runtime.Handler = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Handle(_ context.Context, msg runtime.Envelope, _ runtime.Publisher) error {
	res, ok := msg.Payload.(entity.RenderResult)
	if !ok {
		return runtime.UnexpectedPayload(msg.Topic, msg.Payload)
	}
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	return nil
}

// Result merges every collected RenderResult into one, in arrival order.
func (c *Collector) Result() (entity.RenderResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.results) == 0 {
		return entity.RenderResult{}, false
	}
	merged := entity.RenderResult{RunID: c.results[0].RunID}
	for i, r := range c.results {
		merged.Diagrams = append(merged.Diagrams, r.Diagrams...)
		if r.Summary == "" {
			continue
		}
		if i > 0 && merged.Summary != "" {
			merged.Summary += "\n\n"
		}
		merged.Summary += r.Summary
	}
	return merged, true
}
