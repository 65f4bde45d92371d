package workflow

import (
	"errors"

	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/state"
)

// Group runs signatures concurrently and completes when all of them have.
//
// While any member has never been started, the round only starts members
// (each subject to admission control on its own, a denial does not block the
// others) and returns ok=false. Once every member was started, failed members
// are retried or backed off, and results are returned when all completed.
func Group(c Context, out *decision.List, sigs ...Signature) (Results, bool, error) {
	for _, s := range sigs {
		c.reference(s.Kind, s.ID)
	}

	allStarted := true
	for _, s := range sigs {
		if s.Status(c) != state.StatusNotStarted {
			continue
		}
		allStarted = false
		if s.Bind != nil {
			in, err := s.Bind(nil)
			if err != nil {
				return nil, false, err
			}
			s.Input = in
		}
		if err := s.start(c, out); err != nil && !errors.Is(err, ErrConcurrencyExceeded) {
			return nil, false, err
		}
	}
	if !allStarted {
		return nil, false, nil
	}

	results := make(Results, len(sigs))
	finished := true
	for _, s := range sigs {
		res, done, err := s.Evaluate(c, out)
		if errors.Is(err, ErrConcurrencyExceeded) {
			finished = false
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if !done {
			finished = false
			continue
		}
		results[s.ID] = res
	}
	if !finished {
		return nil, false, nil
	}
	return results, true, nil
}
