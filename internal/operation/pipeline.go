package operation

import "fmt"

type node struct {
	op   Operation
	prev *node
}

// Pipeline is a persistent, append-only list of operations. Then never
// modifies the receiver, so pipelines built from a common prefix share it.
// The zero value is an empty pipeline.
type Pipeline struct {
	last *node
	n    int
}

// Then returns a pipeline with op appended.
func (p Pipeline) Then(op Operation) Pipeline {
	return Pipeline{last: &node{op: op, prev: p.last}, n: p.n + 1}
}

func (p Pipeline) Len() int { return p.n }

// Steps lists the operations in execution order.
func (p Pipeline) Steps() []Operation {
	out := make([]Operation, p.n)
	i := p.n - 1
	for cur := p.last; cur != nil; cur = cur.prev {
		out[i] = cur.op
		i--
	}
	return out
}

// Wire renders the pipeline as the list of step descriptors carried by the
// pipe operation.
func (p Pipeline) Wire() []any {
	steps := p.Steps()
	out := make([]any, len(steps))
	for i, op := range steps {
		out[i] = op.Step()
	}
	return out
}

// ParsePipeline rebuilds a pipeline from its wire form.
func ParsePipeline(v any) (Pipeline, error) {
	var p Pipeline
	if v == nil {
		return p, nil
	}
	items, ok := v.([]any)
	if !ok {
		return p, fmt.Errorf("%w: pipeline must be a list, got %T", ErrMalformedStep, v)
	}
	for i, item := range items {
		op, err := FromStep(item)
		if err != nil {
			return Pipeline{}, fmt.Errorf("step %d: %w", i, err)
		}
		p = p.Then(op)
	}
	return p, nil
}
