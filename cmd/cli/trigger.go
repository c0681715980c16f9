package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	triggerRepoID int64
	triggerCommit string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Triggers an AI review of a commit",
	RunE: func(_ *cobra.Command, _ []string) error {
		if triggerRepoID == 0 || triggerCommit == "" {
			return fmt.Errorf("--repo-id and --commit are required")
		}

		resp, status, err := apiCall("POST", "/api/v1/reviews/trigger", map[string]any{
			"repository_id": triggerRepoID,
			"commit_hash":   triggerCommit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("HTTP %d\n", status)
		return printJSON(resp)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	triggerCmd.Flags().Int64Var(&triggerRepoID, "repo-id", 0, "Repository ID")
	triggerCmd.Flags().StringVar(&triggerCommit, "commit", "", "Commit hash to review")
	rootCmd.AddCommand(triggerCmd)
}
