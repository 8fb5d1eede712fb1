// Package engine evaluates proposed action batches against materialized
// policy version sets.
//
// Evaluation is deterministic and side-effect free: the same batch,
// context and version set always produce an identical result, and the
// evaluator never consults the clock, storage or live telemetry. That
// property is what makes recorded decisions replayable byte for byte.
package engine
