package rcp

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema/policy.schema.json
var policySchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// draftSchema compiles the embedded policy document schema once.
func draftSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(policySchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decode embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("policy.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("register embedded schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("policy.schema.json")
	})
	return schema, schemaErr
}

// Validate checks a policy document for publication. It rejects unknown
// rule kinds, missing or mismatched payloads, invalid predicates, and
// required-authority conflicts (a rule requiring an authority lower
// than its policy's minimum). A nil return means the document may be
// published.
func Validate(p *Policy) error {
	if p == nil {
		return &ValidationError{Problems: []string{"policy is nil"}}
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if p.ID == "" {
		add("missing policy id")
	}
	if p.Name == "" {
		add("missing policy name")
	}
	if !p.Scope.Valid() {
		add("unknown scope %q", p.Scope)
	}
	if p.Scope != ScopeGlobal && p.Target == "" {
		add("scope %q requires a target", p.Scope)
	}
	if p.Scope == ScopeGlobal && p.Target != "" {
		add("global scope must not set a target")
	}
	if !p.Mode.Valid() {
		add("unknown mode %q", p.Mode)
	}
	if !p.Authority.Valid() {
		add("unknown authority level")
	}
	if len(p.Rules) == 0 {
		add("policy has no rules")
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		where := fmt.Sprintf("rule %d", i)
		if r == nil {
			add("%s is null", where)
			continue
		}
		if r.ID != "" {
			where = fmt.Sprintf("rule %q", r.ID)
		}
		if r.ID == "" {
			add("%s: missing rule id", where)
		} else if seen[r.ID] {
			add("%s: duplicate rule id", where)
		}
		seen[r.ID] = true

		if !r.Kind.Valid() {
			add("%s: unknown rule kind %q", where, r.Kind)
			continue
		}
		if r.payload() == nil {
			add("%s: kind %s has no %s payload", where, r.Kind, r.Kind)
			continue
		}
		problems = append(problems, validatePayload(where, r)...)

		// Required-authority conflict: a rule may demand more authority
		// than the policy minimum, never less.
		if r.Authority != 0 && r.Authority < p.Authority {
			return &AuthorityConflictError{
				Subject:  fmt.Sprintf("policy %s %s", p.ID, where),
				Required: p.Authority,
				Held:     r.Authority,
				Detail: fmt.Sprintf("rule authority %s is below the policy minimum %s",
					r.Authority, p.Authority),
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{PolicyID: p.ID, Problems: problems}
	}
	return nil
}

func validatePayload(where string, r *Rule) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch r.Kind {
	case KindGuard:
		problems = append(problems, validateCondition(where, &r.Guard.When)...)

	case KindLimit:
		l := r.Limit
		if !l.Field.Known() {
			add("%s: unknown limit field %q", where, l.Field)
		}
		if !l.Overflow.Valid() {
			add("%s: unknown overflow policy %q", where, l.Overflow)
		}

	case KindGate:
		g := r.Gate
		if g.Window == nil && len(g.Regions) == 0 && g.Condition == nil {
			add("%s: gate has no window, regions or condition", where)
		}
		if g.Window != nil {
			if err := g.Window.Validate(); err != nil {
				add("%s: window: %v", where, err)
			}
		}
		if g.Condition != nil {
			problems = append(problems, validateCondition(where, g.Condition)...)
		}
		if g.OnClosed != "" && !g.OnClosed.Valid() {
			add("%s: unknown gate mode %q", where, g.OnClosed)
		}

	case KindMutation:
		m := r.Mutation
		switch m.Op {
		case OpScale:
			if m.Factor <= 0 {
				add("%s: scale requires a positive factor", where)
			}
		case OpOffset:
			// Any finite delta is fine; the schema rejects non-numbers.
		case OpClampDeltaPct:
			if m.MaxDeltaPct <= 0 {
				add("%s: clamp_delta_pct requires a positive max_delta_pct", where)
			}
		case OpClampValue:
			if m.Min == nil && m.Max == nil {
				add("%s: clamp_value requires min or max", where)
			}
			if m.Min != nil && m.Max != nil && *m.Min > *m.Max {
				add("%s: clamp_value min exceeds max", where)
			}
		default:
			add("%s: unknown mutation op %q", where, m.Op)
		}
	}
	return problems
}

func validateCondition(where string, c *Condition) []string {
	var problems []string
	if !c.Field.Known() {
		problems = append(problems, fmt.Sprintf("%s: unknown condition field %q", where, c.Field))
	}
	if !c.Op.Valid() {
		problems = append(problems, fmt.Sprintf("%s: unknown operator %q", where, c.Op))
	}
	return problems
}

// validateSchema checks raw draft YAML against the embedded JSON schema
// before it is decoded into the typed model. Schema findings surface as
// a ValidationError.
func validateSchema(raw []byte) error {
	s, err := draftSchema()
	if err != nil {
		return err
	}

	// The schema validator wants generic JSON values; YAML decodes into
	// map[string]any which the jsonschema package accepts directly.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if err := s.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return &ValidationError{Problems: flattenSchemaError(verr)}
		}
		return &ValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

func flattenSchemaError(err *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := strings.Join(e.InstanceLocation, ".")
			if path == "" {
				path = "(root)"
			}
			out = append(out, fmt.Sprintf("%s: %s", path, e.Error()))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return out
}
