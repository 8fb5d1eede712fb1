package rcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ParseDraft decodes a policy draft from YAML, checks it against the
// document schema, resolves textual authority levels, and runs full
// structural validation. The returned policy carries no version or
// timestamps; those are assigned by the store at publish time.
func ParseDraft(raw []byte) (*Policy, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("decode draft: %v", err)}}
	}

	// Drafts default to enabled unless explicitly disabled.
	var meta struct {
		Enabled *bool `yaml:"enabled"`
	}
	if err := yaml.Unmarshal(raw, &meta); err == nil && meta.Enabled == nil {
		p.Enabled = true
	}

	// Resolve authority names to typed levels. Missing policy authority
	// defaults to operator.
	if p.AuthorityName == "" {
		p.Authority = AuthorityOperator
	} else {
		a, err := ParseAuthority(p.AuthorityName)
		if err != nil {
			return nil, &ValidationError{PolicyID: p.ID, Problems: []string{err.Error()}}
		}
		p.Authority = a
	}
	for _, r := range p.Rules {
		if r == nil || r.AuthorityName == "" {
			continue
		}
		a, err := ParseAuthority(r.AuthorityName)
		if err != nil {
			return nil, &ValidationError{PolicyID: p.ID, Problems: []string{err.Error()}}
		}
		r.Authority = a
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadDraftFile reads and parses a single draft file.
func LoadDraftFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read draft %q: %w", path, err)
	}
	p, err := ParseDraft(raw)
	if err != nil {
		return nil, fmt.Errorf("draft %q: %w", path, err)
	}
	return p, nil
}

// LoadDraftDir parses every *.yaml / *.yml file in dir, sorted by file
// name for deterministic ordering. The first invalid draft aborts the
// load so a bad directory is never partially applied.
func LoadDraftDir(dir string) ([]*Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read draft directory %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	policies := make([]*Policy, 0, len(files))
	ids := make(map[string]string, len(files))
	for _, f := range files {
		p, err := LoadDraftFile(f)
		if err != nil {
			return nil, err
		}
		if prev, dup := ids[p.ID]; dup {
			return nil, &ValidationError{PolicyID: p.ID, Problems: []string{
				fmt.Sprintf("duplicate policy id (also in %s)", prev),
			}}
		}
		ids[p.ID] = f
		policies = append(policies, p)
	}
	return policies, nil
}
