// Package decision records every evaluation outcome as an immutable
// audit record.
//
// A record captures everything replay needs to reproduce the decision
// bit-for-bit: the submitted batch, the evaluation context, the exact
// policy version set and the result. Records are content-addressed, so
// re-recording the same evaluation is idempotent.
//
// Recording is asynchronous: the recorder enqueues records to a
// buffered channel drained by a background worker, so the evaluation
// path never blocks on storage.
package decision
