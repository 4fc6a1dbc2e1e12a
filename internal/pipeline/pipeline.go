// Package pipeline builds an operator graph from a JSON spec, wires the
// streams between operators and drives their lifecycle. Operators start
// consumers first so that every reader is subscribed before its producer
// emits, and stop producers first so that stop propagates downstream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/stream"
)

// Options control how a pipeline is assembled.
type Options struct {
	// BufferSize is the queue depth of every stream reader.
	BufferSize int
	// PushPolicy is applied to every operator's sinks.
	PushPolicy stream.PushPolicy
	Deps       operator.Deps
}

// Edge is one stream connection.
type Edge struct {
	From string `json:"from"`
	Sink string `json:"sink"`
	To   string `json:"to"`
	Port string `json:"port"`
}

// opNode is a graph vertex carrying the operator name for DOT output.
type opNode struct {
	id   int64
	name string
	typ  string
}

func (n opNode) ID() int64     { return n.id }
func (n opNode) DOTID() string { return n.name }
func (n opNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "label", Value: n.name + " (" + n.typ + ")"}}
}

// Pipeline is a wired set of operators.
type Pipeline struct {
	names []string
	ops   map[string]operator.Operator
	edges []Edge

	// g has an edge from each producer to each of its consumers.
	g     *simple.DirectedGraph
	nodes map[string]opNode
	order []string // producers first
	bufSz int
}

// Build creates every operator in spec through reg and connects their
// streams.
func Build(spec *Spec, reg *operator.Registry, opts Options) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = stream.DefaultBufferSize
	}
	p := &Pipeline{
		ops:   make(map[string]operator.Operator, len(spec.Operators)),
		g:     simple.NewDirectedGraph(),
		nodes: make(map[string]opNode, len(spec.Operators)),
		bufSz: opts.BufferSize,
	}

	for i, o := range spec.Operators {
		params, err := o.Params()
		if err != nil {
			return nil, err
		}
		monitoring.Diagf("creating operator %q of type %q", o.Name, o.Type)
		op, err := reg.Create(o.Type, o.Name, params, opts.Deps)
		if err != nil {
			return nil, err
		}
		if opts.PushPolicy != stream.PushDrop {
			if err := op.SetPushPolicy(opts.PushPolicy); err != nil {
				return nil, err
			}
		}
		n := opNode{id: int64(i), name: o.Name, typ: o.Type}
		p.g.AddNode(n)
		p.nodes[o.Name] = n
		p.ops[o.Name] = op
		p.names = append(p.names, o.Name)
	}

	for _, o := range spec.Operators {
		cur := p.ops[o.Name]
		for _, port := range o.ports() {
			src, sink := SplitRef(o.Inputs[port])
			if src == o.Name {
				return nil, fmt.Errorf("operator %q reads its own output", o.Name)
			}
			s, err := p.ops[src].Sink(sink)
			if err != nil {
				return nil, err
			}
			if err := cur.SetSource(port, s); err != nil {
				return nil, err
			}
			p.g.SetEdge(p.g.NewEdge(p.nodes[src], p.nodes[o.Name]))
			p.edges = append(p.edges, Edge{From: src, Sink: sink, To: o.Name, Port: port})
			monitoring.Diagf("connected %s:%s -> %s:%s", src, sink, o.Name, port)
		}
	}

	sorted, err := topo.SortStabilized(p.g, byID)
	if err != nil {
		return nil, fmt.Errorf("pipeline has a cycle: %w", err)
	}
	for _, n := range sorted {
		p.order = append(p.order, n.(opNode).name)
	}
	return p, nil
}

func byID(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

// Operator returns the operator with the given name.
func (p *Pipeline) Operator(name string) (operator.Operator, error) {
	op, ok := p.ops[name]
	if !ok {
		return nil, fmt.Errorf("no operator named %q", name)
	}
	return op, nil
}

// Operators returns every operator in spec order.
func (p *Pipeline) Operators() []operator.Operator {
	out := make([]operator.Operator, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.ops[name])
	}
	return out
}

// Edges returns the stream connections in wiring order.
func (p *Pipeline) Edges() []Edge { return append([]Edge(nil), p.edges...) }

// StartOrder lists operators consumers first.
func (p *Pipeline) StartOrder() []string {
	out := make([]string, len(p.order))
	for i, name := range p.order {
		out[len(p.order)-1-i] = name
	}
	return out
}

// StopOrder lists operators producers first.
func (p *Pipeline) StopOrder() []string { return append([]string(nil), p.order...) }

// Start starts every operator. If one fails, the operators already started
// are stopped and the error is returned.
func (p *Pipeline) Start(ctx context.Context) error {
	order := p.StartOrder()
	monitoring.Diagf("pipeline start order: %s", strings.Join(order, " "))
	for _, name := range order {
		if err := p.ops[name].Start(ctx, p.bufSz); err != nil {
			if stopErr := p.Stop(); stopErr != nil {
				monitoring.Opsf("pipeline: stop after failed start: %v", stopErr)
			}
			return fmt.Errorf("start %q: %w", name, err)
		}
	}
	return nil
}

// Stop stops every operator, producers first. It keeps going past
// failures and returns them joined.
func (p *Pipeline) Stop() error {
	monitoring.Diagf("pipeline stop order: %s", strings.Join(p.order, " "))
	var errs []error
	for _, name := range p.order {
		if err := p.ops[name].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every operator's run loop has exited, which happens
// once a stop frame has passed through the whole graph, or until ctx is
// done.
func (p *Pipeline) Wait(ctx context.Context) error {
	for _, name := range p.order {
		select {
		case <-p.ops[name].Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns the statistics of every operator in spec order.
func (p *Pipeline) Stats() []operator.Stats {
	out := make([]operator.Stats, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.ops[name].Stats())
	}
	return out
}

// Graph renders the dataflow graph in Graphviz DOT format.
func (p *Pipeline) Graph() (string, error) {
	b, err := dot.Marshal(p.g, "pipeline", "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pipeline graph: %w", err)
	}
	return string(b), nil
}
