package rcp

import (
	"fmt"
	"time"
)

// Scope determines which action batches a policy applies to.
type Scope string

const (
	// ScopeGlobal applies to every batch regardless of origin.
	ScopeGlobal Scope = "global"

	// ScopeAlgorithm applies to batches produced by a specific algorithm.
	ScopeAlgorithm Scope = "algorithm"

	// ScopeSegment applies to batches targeting a specific traffic segment.
	ScopeSegment Scope = "segment"
)

// Specificity returns the ordering weight of the scope. More specific
// scopes evaluate first: segment > algorithm > global.
func (s Scope) Specificity() int {
	switch s {
	case ScopeSegment:
		return 3
	case ScopeAlgorithm:
		return 2
	case ScopeGlobal:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeAlgorithm || s == ScopeSegment
}

// Mode controls whether a policy may alter actions or only observe them.
type Mode string

const (
	// ModeMonitor evaluates and records rule outcomes but never changes
	// a disposition or a proposed value.
	ModeMonitor Mode = "monitor"

	// ModeEnforce allows the policy to modify or block actions.
	ModeEnforce Mode = "enforce"
)

// Valid reports whether the mode is one of the known values.
func (m Mode) Valid() bool {
	return m == ModeMonitor || m == ModeEnforce
}

// Authority is the privilege tier required to create, modify, approve or
// delete a policy. Higher values outrank lower ones.
type Authority int

const (
	AuthorityObserver Authority = 1
	AuthorityOperator Authority = 2
	AuthorityAdmin    Authority = 3
	AuthorityOwner    Authority = 4
)

// authorityNames maps the YAML/JSON spellings to authority levels.
var authorityNames = map[string]Authority{
	"observer": AuthorityObserver,
	"operator": AuthorityOperator,
	"admin":    AuthorityAdmin,
	"owner":    AuthorityOwner,
}

// ParseAuthority converts a textual authority level to its typed value.
func ParseAuthority(s string) (Authority, error) {
	if a, ok := authorityNames[s]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown authority level %q", s)
}

// String returns the canonical spelling of the authority level.
func (a Authority) String() string {
	switch a {
	case AuthorityObserver:
		return "observer"
	case AuthorityOperator:
		return "operator"
	case AuthorityAdmin:
		return "admin"
	case AuthorityOwner:
		return "owner"
	default:
		return fmt.Sprintf("authority(%d)", int(a))
	}
}

// Valid reports whether the authority is one of the defined tiers.
func (a Authority) Valid() bool {
	return a >= AuthorityObserver && a <= AuthorityOwner
}

// Policy is a versioned governance document. Once published a policy
// version is immutable; changes produce a new version.
type Policy struct {
	// ID uniquely identifies the policy across versions (kebab-case).
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable policy name.
	Name string `yaml:"name" json:"name"`

	// Description explains the intent of the policy.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Scope selects which batches the policy applies to.
	Scope Scope `yaml:"scope" json:"scope"`

	// Target narrows the scope: an algorithm identifier for
	// ScopeAlgorithm, a segment identifier for ScopeSegment, empty for
	// ScopeGlobal.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// Mode is monitor or enforce.
	Mode Mode `yaml:"mode" json:"mode"`

	// Enabled is the document-level enablement flag. The store may
	// additionally force-disable a policy as a canary rollback side
	// effect; the effective flag is the conjunction of both.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Authority is the minimum authority level required to publish,
	// activate or delete this policy.
	Authority Authority `yaml:"-" json:"authority"`

	// AuthorityName is the textual authority level as written in drafts.
	AuthorityName string `yaml:"authority" json:"-"`

	// Priority orders policies within the same scope specificity.
	// Higher values evaluate first.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Rules are evaluated in declared order.
	Rules []*Rule `yaml:"rules" json:"rules"`

	// CreatedAt is set by the store at publish time and is the final
	// ordering tie-break for equal-priority policies.
	CreatedAt time.Time `yaml:"-" json:"created_at"`

	// UpdatedAt is set by the store when a newer version supersedes
	// this one.
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

// Rule returns the rule with the given ID, or nil if not present.
func (p *Policy) Rule(id string) *Rule {
	for _, r := range p.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// EnabledRules returns the rules that are not disabled, in declared order.
func (p *Policy) EnabledRules() []*Rule {
	out := make([]*Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Enabled() {
			out = append(out, r)
		}
	}
	return out
}

// AppliesTo reports whether the policy is applicable to a batch with the
// given algorithm and segment identifiers.
func (p *Policy) AppliesTo(algorithm, segment string) bool {
	switch p.Scope {
	case ScopeGlobal:
		return true
	case ScopeAlgorithm:
		return p.Target == algorithm
	case ScopeSegment:
		return p.Target == segment
	default:
		return false
	}
}

// VersionRef identifies one immutable policy version.
type VersionRef struct {
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`
}

func (r VersionRef) String() string {
	return fmt.Sprintf("%s@v%d", r.PolicyID, r.Version)
}

// PolicyVersion pairs an immutable policy document with its version
// number. The store materializes these; the evaluator and the replay
// engine consume them without touching storage.
type PolicyVersion struct {
	Policy  *Policy `json:"policy"`
	Version int     `json:"version"`

	// Checksum is the SHA-256 of the canonical policy document,
	// recorded for audit drill-down.
	Checksum string `json:"checksum,omitempty"`
}

// Ref returns the version reference for this policy version.
func (v *PolicyVersion) Ref() VersionRef {
	return VersionRef{PolicyID: v.Policy.ID, Version: v.Version}
}
