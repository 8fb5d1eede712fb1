// Package rcp defines the Runtime Control Policy data model: policies,
// the closed rule union (guard, limit, gate, mutation), proposed actions
// submitted by optimization producers, and evaluation results.
//
// The model is deliberately declarative. Policies are versioned documents
// that are immutable once published; everything that can vary at runtime
// lives in the evaluation context, never in the policy itself, so that a
// recorded evaluation can be replayed byte for byte.
package rcp
