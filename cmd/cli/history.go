package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	historyContext string
	historyID      string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists past reviews of a commit or pull request",
	RunE: func(_ *cobra.Command, _ []string) error {
		if historyContext == "" || historyID == "" {
			return fmt.Errorf("--context and --id are required")
		}

		q := url.Values{}
		q.Set("context", historyContext)
		q.Set("id", historyID)

		resp, status, err := apiCall("GET", "/api/v1/reviews/history?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		fmt.Printf("HTTP %d\n", status)
		return printJSON(resp)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	historyCmd.Flags().StringVar(&historyContext, "context", "", "History context: pr or commit")
	historyCmd.Flags().StringVar(&historyID, "id", "", "Commit hash or pull request ID")
	rootCmd.AddCommand(historyCmd)
}
