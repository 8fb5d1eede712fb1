// Package replay re-executes recorded decisions.
//
// Replay proves determinism: it loads a decision record, re-runs the
// evaluator with the recorded batch, context and exact policy version
// set, and compares the outcome byte-for-byte against what was
// recorded. Any drift is an engine defect and is surfaced loudly.
//
// What-if runs the same machinery with substituted inputs (a different
// policy version, or different mutation parameters) to answer "what
// would have happened" without persisting anything.
package replay
