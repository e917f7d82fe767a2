package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webscrape-engine/internal/classifier"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <url>",
		Short: "Print the site classifier's verdict for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict := classifier.New(classifier.DefaultLists()).Classify(args[0])
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(verdict); err != nil {
				return fmt.Errorf("encode classification: %w", err)
			}
			return nil
		},
	}
}
