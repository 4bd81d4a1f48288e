// Package saga runs an ordered list of steps with compensating actions,
// approximating atomicity across the primary store, the tuple store, the
// identity provider and the cache, which share no transaction.
//
// This is deliberately an in-process, per-request compensating sequence. There
// is no persisted saga log, no retry and no resumption after a crash: whatever
// steps already committed stay committed.
package saga

import (
	"context"
	"fmt"
	"log"
)

// Context carries state between steps of one saga invocation. A value produced
// by one step (e.g. a generated id) is read by later steps and by their
// compensations. It is scoped to a single Run and never shared across sagas.
type Context map[string]any

// Set stores a value under key.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// String returns the string stored under key, or "" if absent.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Step pairs a forward action with an optional compensating action.
// Compensate is nil for steps with no undoable effect (e.g. cache
// invalidation).
type Step struct {
	Name       string
	Execute    func(ctx context.Context, sctx Context) error
	Compensate func(ctx context.Context, sctx Context) error
}

// CompensationOutcome records the result of one compensation call during an
// unwind.
type CompensationOutcome struct {
	Step string
	Err  error
}

// Result describes a failed saga run: which step failed, the original error,
// and the outcome of every compensation attempted during the unwind.
type Result struct {
	Name         string
	FailedStep   int
	Cause        error
	Compensation []CompensationOutcome
}

// Saga executes steps strictly in order and, on failure, unwinds the already
// committed steps in reverse.
type Saga struct {
	name  string
	steps []Step
}

// New creates a saga with the given name and ordered steps.
func New(name string, steps ...Step) *Saga {
	return &Saga{name: name, steps: steps}
}

// Run executes the saga. On success it returns nil. On failure it compensates
// completed steps in reverse order, logs every compensation outcome, and
// returns the original triggering error unchanged so callers see the real
// cause rather than a wrapper.
func (s *Saga) Run(ctx context.Context, sctx Context) error {
	res := s.RunDetailed(ctx, sctx)
	if res == nil {
		return nil
	}
	for _, co := range res.Compensation {
		if co.Err != nil {
			log.Printf("saga %s: compensation %q failed: %v", s.name, co.Step, co.Err)
		}
	}
	return res.Cause
}

// RunDetailed executes the saga and returns nil on success, or a Result
// describing the failure and the unwind.
//
// If step k fails, steps k-1..0 are compensated in that order. Step k itself
// is never compensated: its Execute is responsible for cleaning up any partial
// effect of its own before returning an error. A failing compensation does not
// abort the unwind; its error is recorded and the earlier steps are still
// compensated, guaranteeing maximal (not guaranteed-complete) rollback.
func (s *Saga) RunDetailed(ctx context.Context, sctx Context) *Result {
	for i, step := range s.steps {
		if step.Execute == nil {
			continue
		}
		err := step.Execute(ctx, sctx)
		if err == nil {
			continue
		}
		log.Printf("saga %s: step %q failed: %v", s.name, step.Name, err)

		res := &Result{Name: s.name, FailedStep: i, Cause: err}
		for j := i - 1; j >= 0; j-- {
			prev := s.steps[j]
			if prev.Compensate == nil {
				continue
			}
			cerr := prev.Compensate(ctx, sctx)
			if cerr != nil {
				cerr = fmt.Errorf("compensate %s: %w", prev.Name, cerr)
			}
			res.Compensation = append(res.Compensation, CompensationOutcome{Step: prev.Name, Err: cerr})
		}
		return res
	}
	return nil
}
