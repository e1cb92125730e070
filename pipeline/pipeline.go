// Package pipeline composes independent processing stages into an ordered
// chain. Every stage receives the shared per-request value and a continuation
// that advances to the next stage. The engine keeps a dispatch record per run
// and turns misuse of the continuation into a *failure.ContractError.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"corsgate/failure"
)

// ErrInvalidStage is returned by Compose when a stage is nil.
var ErrInvalidStage = errors.New("pipeline: stage is not callable")

const (
	reasonInvokedTwice  = "stage invoked multiple times"
	reasonNotAwaited    = "continuation not awaited by its caller"
	reasonLateContinued = "continuation invoked after its stage returned"
)

// Next advances the chain to the following stage and returns once that stage,
// and everything after it, has finished.
type Next func() error

// Stage is one unit of the chain.
type Stage[C any] interface {
	Process(c C, next Next) error
}

// StageFunc adapts a plain function to Stage.
type StageFunc[C any] func(c C, next Next) error

// Process calls f(c, next).
func (f StageFunc[C]) Process(c C, next Next) error {
	return f(c, next)
}

// Pipeline is an immutable, ordered chain of stages. It is safe to Run
// concurrently; every run gets its own dispatch record.
type Pipeline[C any] struct {
	stages []Stage[C]
}

// Compose builds a Pipeline from stages.
//
// Parameters:
// - stages: The stages to chain, in execution order.
//
// Returns:
// - *Pipeline[C]: The composed pipeline.
// - error: ErrInvalidStage if any stage is nil.
func Compose[C any](stages ...Stage[C]) (*Pipeline[C], error) {
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidStage, i)
		}
	}
	return &Pipeline[C]{stages: append([]Stage[C](nil), stages...)}, nil
}

// MustCompose is like Compose but panics on an invalid stage.
func MustCompose[C any](stages ...Stage[C]) *Pipeline[C] {
	p, err := Compose(stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of stages in the pipeline.
func (p *Pipeline[C]) Len() int {
	return len(p.stages)
}

// Run executes the stages in order for c. When final is non-nil it is invoked
// as the terminal continuation after the last stage; otherwise reaching past
// the last stage completes as a no-op.
//
// Parameters:
// - c: The per-request value shared by every stage.
// - final: Optional terminal continuation.
//
// Returns:
// - error: The first failure returned by a stage, or a *failure.ContractError.
func (p *Pipeline[C]) Run(c C, final Next) error {
	r := &run[C]{
		pipeline: p,
		value:    c,
		final:    final,
		slots:    make([]slotState, len(p.stages)+1),
		faults:   make([]error, len(p.stages)+1),
	}
	return r.dispatch(0)
}

type slotState int

const (
	pending slotState = iota
	running
	completed
	failed
)

// run is the dispatch record of a single Pipeline.Run.
type run[C any] struct {
	pipeline *Pipeline[C]
	value    C
	final    Next

	mu     sync.Mutex
	slots  []slotState
	faults []error // contract faults indexed by the stage that misused its continuation
}

// violation records a contract fault against the stage owner and returns it.
func (r *run[C]) violation(owner int, reason string) error {
	err := failure.NewContractError(owner, reason)
	if r.faults[owner] == nil {
		r.faults[owner] = err
	}
	return err
}

func (r *run[C]) dispatch(i int) error {
	r.mu.Lock()
	if r.slots[i] != pending {
		err := r.violation(i-1, reasonInvokedTwice)
		r.mu.Unlock()
		return err
	}
	r.slots[i] = running
	r.mu.Unlock()

	returned := false
	defer func() {
		// A panicking stage fails its slot.
		if !returned {
			r.mu.Lock()
			r.slots[i] = failed
			r.mu.Unlock()
		}
	}()

	var err error
	if i == len(r.pipeline.stages) {
		if r.final != nil {
			err = r.final()
		}
	} else {
		err = r.pipeline.stages[i].Process(r.value, r.continuation(i))
	}
	returned = true

	r.mu.Lock()
	defer r.mu.Unlock()

	if i+1 < len(r.slots) && r.slots[i+1] == running {
		r.slots[i] = failed
		return errors.Join(r.violation(i, reasonNotAwaited), err)
	}
	if err != nil {
		r.slots[i] = failed
		return err
	}
	if fault := r.faults[i]; fault != nil {
		// The stage swallowed the error from misusing its own continuation.
		r.slots[i] = failed
		return fault
	}
	r.slots[i] = completed
	return nil
}

// continuation returns the Next handed to stage i.
func (r *run[C]) continuation(i int) Next {
	return func() error {
		r.mu.Lock()
		if r.slots[i] != running {
			err := r.violation(i, reasonLateContinued)
			r.mu.Unlock()
			return err
		}
		r.mu.Unlock()
		return r.dispatch(i + 1)
	}
}
