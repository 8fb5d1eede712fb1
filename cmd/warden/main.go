// Warden is a runtime control policy governance engine.
//
// It evaluates proposed runtime changes against declarative policies,
// records every decision immutably, and governs policy changes through
// approvals and canary rollouts.
//
// Usage:
//
//	# Start the daemon with default configuration
//	warden run
//
//	# Start with a configuration file
//	warden run --config /etc/warden/warden.yaml
//
//	# Lint policy drafts
//	warden validate ./policies
//
//	# Re-verify a recorded decision
//	warden replay 4f0c...
//
//	# Counterfactual: what if policy risk-ceiling were at version 3?
//	warden whatif 4f0c... --policy risk-ceiling=3
//
//	# Query recorded decisions
//	warden decisions --source bandit-v3 --disposition blocked
package main

func main() {
	Execute()
}
