// Package approval implements the two-person activation workflow.
//
// A high-authority policy change is submitted as an approval request
// and activated only after enough distinct approvers, each holding
// sufficient authority, have signed off. The proposer can never approve
// their own request. Requests carry a persisted deadline and a
// background sweeper rejects overdue requests, so an unattended request
// fails closed even across restarts.
package approval
