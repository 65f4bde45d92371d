package workflow

import (
	"errors"

	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/state"
)

// Chain runs signatures one after another. Each round it walks the chain in
// order and stops at the first signature that is not complete, after letting
// it start, retry or wait. Results are returned only once every signature
// completed; until then ok is false.
//
// Results accumulate in order, and a signature's Bind sees the results of
// every signature before it.
func Chain(c Context, out *decision.List, sigs ...Signature) (Results, bool, error) {
	for _, s := range sigs {
		c.reference(s.Kind, s.ID)
	}

	results := make(Results, len(sigs))
	for _, s := range sigs {
		if s.Bind != nil && s.Status(c) != state.StatusComplete {
			in, err := s.Bind(results)
			if err != nil {
				return nil, false, err
			}
			s.Input = in
		}
		res, done, err := s.Evaluate(c, out)
		if errors.Is(err, ErrConcurrencyExceeded) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if !done {
			return nil, false, nil
		}
		results[s.ID] = res
	}
	return results, true, nil
}
