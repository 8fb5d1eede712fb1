// Package canary rolls a policy version out to an increasing traffic
// fraction while watching SLO metrics, promoting on sustained
// compliance and rolling back automatically on sustained breach.
//
// The controller runs on its own schedule, decoupled from request
// traffic. Rollback force-disables the policy through the store's
// single side channel and is terminal: a rolled-back version is never
// automatically re-enabled.
package canary
