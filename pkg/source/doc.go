// Package source loads policy drafts from external locations.
//
// A draft source yields parsed, validated policy documents plus a
// revision string identifying what was read (a git commit SHA for the
// git source). Drafts feed the store's Publish path; they are never
// evaluated directly.
package source
