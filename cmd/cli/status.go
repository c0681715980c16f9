package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <review-id>",
	Short: "Shows the current state of a review",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("review id must be an integer: %w", err)
		}

		resp, status, err := apiCall("GET", fmt.Sprintf("/api/v1/reviews/%d", id), nil)
		if err != nil {
			return err
		}
		fmt.Printf("HTTP %d\n", status)
		return printJSON(resp)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(statusCmd)
}
