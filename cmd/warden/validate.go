package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vantage-hq/warden/pkg/cli"
	"vantage-hq/warden/pkg/rcp"
)

var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate policy draft files",
	Long: `Validate policy draft files without publishing them.

Each argument is a draft file or a directory of drafts. All drafts are
checked, even after a failure, so a single run reports every problem.

Examples:
  warden validate policies/
  warden validate drafts/risk-ceiling.yaml drafts/pii-redaction.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return &cli.CommandError{Command: "validate", Err: err}
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matched, err := draftFiles(arg)
		if err != nil {
			return &cli.CommandError{Command: "validate", Err: err}
		}
		files = append(files, matched...)
	}

	if len(files) == 0 {
		return &cli.CommandError{Command: "validate", Err: fmt.Errorf("no draft files found")}
	}

	failed := 0
	for _, file := range files {
		if _, err := rcp.LoadDraftFile(file); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", file)
	}

	if failed > 0 {
		return &cli.CommandError{
			Command: "validate",
			Err:     fmt.Errorf("%d of %d drafts invalid", failed, len(files)),
		}
	}
	return nil
}

func draftFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
