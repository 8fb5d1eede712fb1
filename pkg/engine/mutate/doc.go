// Package mutate applies mutation rules to proposed action values.
//
// It is a pure function layer with no back-reference to the evaluator:
// the evaluator owns control flow and calls in here, and the what-if
// simulator re-invokes only this layer with alternate parameters to
// produce counterfactual values without re-deriving blocking decisions.
package mutate
