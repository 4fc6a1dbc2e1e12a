// Package flowcontrol bounds the number of frames in flight between an
// Entrance and its matching Exit. The Entrance hands out a fixed number of
// tokens; a frame carries its token until an Exit, or any operator that
// drops it, returns the token.
package flowcontrol

import (
	"fmt"
	"sync"

	"github.com/banshee-data/camflow/internal/frame"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
)

const (
	EntranceType = "FlowControlEntrance"
	ExitType     = "FlowControlExit"

	sourceName = "input"
	sinkName   = "output"
)

// TokenStats is a consistent snapshot of an entrance's accounting.
type TokenStats struct {
	Max            int    `json:"max_tokens"`
	Available      int    `json:"available"`
	Held           int    `json:"held"`
	Admitted       uint64 `json:"admitted"`
	Dropped        uint64 `json:"dropped"`
	UnknownReturns uint64 `json:"unknown_returns"`
}

// Entrance admits frames while tokens are available. In blocking mode it
// waits for a token; otherwise frames that find no token are dropped.
type Entrance struct {
	*operator.Base

	maxTokens int
	block     bool

	mu        sync.Mutex
	cond      *sync.Cond
	available int
	// held counts tokens per frame id. Ids from different cameras may
	// collide, so this is a multiset.
	held           map[uint64]int
	stopping       bool
	admitted       uint64
	dropped        uint64
	unknownReturns uint64
}

// NewEntrance creates an entrance with maxTokens tokens.
func NewEntrance(name string, maxTokens int, block bool) (*Entrance, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive, got %d", maxTokens)
	}
	e := &Entrance{
		maxTokens: maxTokens,
		block:     block,
		available: maxTokens,
		held:      make(map[uint64]int),
	}
	e.cond = sync.NewCond(&e.mu)
	e.Base = operator.NewBase(name, EntranceType, []string{sourceName}, []string{sinkName}, e)
	return e, nil
}

func (e *Entrance) Init() error { return nil }

func (e *Entrance) Process() {
	f := e.GetFrame(sourceName)
	if f == nil {
		return
	}
	if e.admit(f) {
		e.PushFrame(sinkName, f)
	}
}

// admit takes a token for f and attaches the entrance as its owner. It
// reports false when the frame was dropped or the entrance is stopping.
func (e *Entrance) admit(f *frame.Frame) bool {
	id := f.ID()
	if f.Owner() != nil {
		operator.Invariantf("frame %d is already under flow control", id)
	}

	e.mu.Lock()
	if e.block {
		for e.available == 0 && !e.stopping {
			e.cond.Wait()
		}
		if e.stopping {
			e.mu.Unlock()
			monitoring.Diagf("%s: stopping, abandoning frame %d", e.Name(), id)
			return false
		}
	}
	if e.available == 0 {
		e.dropped++
		e.mu.Unlock()
		monitoring.Diagf("%s: insufficient flow control tokens, dropping frame %d", e.Name(), id)
		return false
	}
	e.held[id]++
	e.available--
	e.admitted++
	e.mu.Unlock()

	f.SetOwner(e)
	return true
}

// ReturnToken gives back the token held by frame id. Returning a token that
// was never issued is logged and counted but otherwise ignored; returning
// more tokens than exist panics.
func (e *Entrance) ReturnToken(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.held[id]
	if !ok {
		e.unknownReturns++
		monitoring.Opsf("%s: frame %d releasing token that was not issued", e.Name(), id)
		return
	}
	if n == 1 {
		delete(e.held, id)
	} else {
		e.held[id] = n - 1
	}
	e.available++
	if e.available > e.maxTokens {
		operator.Invariantf("%s: more flow control tokens returned (%d) than distributed (%d)",
			e.Name(), e.available, e.maxTokens)
	}
	e.cond.Signal()
}

// OnStop wakes any Process call waiting for a token.
func (e *Entrance) OnStop() error {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.cond.Broadcast()
	return nil
}

// Tokens returns the current token accounting.
func (e *Entrance) Tokens() TokenStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	held := 0
	for _, n := range e.held {
		held += n
	}
	return TokenStats{
		Max:            e.maxTokens,
		Available:      e.available,
		Held:           held,
		Admitted:       e.admitted,
		Dropped:        e.dropped,
		UnknownReturns: e.unknownReturns,
	}
}

// Blocking reports whether the entrance waits for tokens.
func (e *Entrance) Blocking() bool { return e.block }

// Exit returns the token of every frame passing through it.
type Exit struct {
	*operator.Base
}

// NewExit creates a flow-control exit.
func NewExit(name string) *Exit {
	x := &Exit{}
	x.Base = operator.NewBase(name, ExitType, []string{sourceName}, []string{sinkName}, x)
	return x
}

func (x *Exit) Init() error   { return nil }
func (x *Exit) OnStop() error { return nil }

func (x *Exit) Process() {
	f := x.GetFrame(sourceName)
	if f == nil {
		return
	}
	f.ReleaseFlowControl()
	x.PushFrame(sinkName, f)
}

// Register adds the flow-control operator types to reg.
func Register(reg *operator.Registry) {
	reg.Register(EntranceType, func(name string, p operator.Params, _ operator.Deps) (operator.Operator, error) {
		maxTokens, err := p.RequireInt("max_tokens")
		if err != nil {
			return nil, err
		}
		block, err := p.Bool("block", false)
		if err != nil {
			return nil, err
		}
		e, err := NewEntrance(name, maxTokens, block)
		if err != nil {
			return nil, err
		}
		return e, nil
	})
	reg.Register(ExitType, func(name string, _ operator.Params, _ operator.Deps) (operator.Operator, error) {
		return NewExit(name), nil
	})
}
