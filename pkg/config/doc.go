// Package config defines the warden runtime configuration.
//
// Configuration is loaded from a YAML file, filled in with defaults,
// optionally overridden by WARDEN_* environment variables, and then
// validated as a whole. Validation collects every problem instead of
// stopping at the first, so a broken file reports all of its errors in
// one pass.
//
// Loading sequence:
//
//  1. Parse YAML from file (or start from Default() when no file)
//  2. Apply defaults for unset fields
//  3. Apply environment overrides (WARDEN_SECTION_FIELD)
//  4. Validate the final configuration
//
// Environment variables always win over the file. Secrets such as the
// git token and the notification webhook URL are expected to arrive
// through the environment rather than the file.
package config
