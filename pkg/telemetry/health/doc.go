// Package health implements liveness and readiness probes for the
// admin server.
//
// Components register a CheckFunc under a name; readiness runs all
// checks concurrently with a per-check timeout and reports "ready" or
// "degraded". Liveness never runs checks; it only proves the process
// is serving.
//
// Typical registrations are ping checks for the policy store, the
// decision store, and the governance state store.
package health
