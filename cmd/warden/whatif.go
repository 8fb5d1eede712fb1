package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vantage-hq/warden/pkg/cli"
	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/replay"
)

var whatIfFlags struct {
	versions      []string
	mutationsFile string
}

var whatIfCmd = &cobra.Command{
	Use:   "whatif <record-id>",
	Short: "Simulate a recorded decision under different policies",
	Long: `Re-evaluate a recorded decision with substituted policy versions or an
alternate mutation chain, without touching the stored record.

Version substitutions take the form policy-id=version. A mutations file
is a policy draft whose mutation rules replace the recorded chain.

Examples:
  warden whatif 6e7f1a2b-... --version risk-ceiling=3
  warden whatif 6e7f1a2b-... --mutations drafts/stricter-redaction.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runWhatIf,
}

func init() {
	rootCmd.AddCommand(whatIfCmd)

	whatIfCmd.Flags().StringArrayVar(&whatIfFlags.versions, "version", nil, "substitute a policy version (policy-id=version, repeatable)")
	whatIfCmd.Flags().StringVar(&whatIfFlags.mutationsFile, "mutations", "", "draft file whose mutation rules replace the recorded chain")
}

func runWhatIf(cmd *cobra.Command, args []string) error {
	override, err := buildOverride()
	if err != nil {
		return &cli.CommandError{Command: "whatif", Err: err}
	}

	replayer, closeStores, err := openReplayer()
	if err != nil {
		return &cli.CommandError{Command: "whatif", Err: err}
	}
	defer closeStores()

	result, err := replayer.WhatIf(cmd.Context(), args[0], override)
	if err != nil {
		return &cli.CommandError{Command: "whatif", Err: err}
	}
	return cli.PrintJSON(cmd.OutOrStdout(), result)
}

func buildOverride() (*replay.Override, error) {
	override := &replay.Override{}

	for _, pair := range whatIfFlags.versions {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed version substitution %q, want policy-id=version", pair)
		}
		version, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed version in %q: %w", pair, err)
		}
		if override.PolicyVersions == nil {
			override.PolicyVersions = make(map[string]int)
		}
		override.PolicyVersions[id] = version
	}

	if whatIfFlags.mutationsFile != "" {
		draft, err := rcp.LoadDraftFile(whatIfFlags.mutationsFile)
		if err != nil {
			return nil, err
		}
		for _, rule := range draft.Rules {
			if rule.Kind == rcp.KindMutation && rule.Enabled() {
				override.Mutations = append(override.Mutations, rule.Mutation)
			}
		}
		if len(override.Mutations) == 0 {
			return nil, fmt.Errorf("%s declares no mutation rules", whatIfFlags.mutationsFile)
		}
	}

	if override.PolicyVersions == nil && override.Mutations == nil {
		return nil, fmt.Errorf("nothing to override, pass --version or --mutations")
	}
	return override, nil
}
