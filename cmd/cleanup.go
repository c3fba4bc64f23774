package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupDryRun bool

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups past their retention date",
	Long: `Remove expired backups from storage and the catalog.

A full backup stays in place while any still-retained incremental depends
on it, even past its own retention date. Use --dry-run to see what a pass
would remove without deleting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		result, err := p.Retention.Cleanup(cmd.Context(), cleanupDryRun)
		if err != nil {
			return err
		}

		verb := "Deleted"
		if result.DryRun {
			verb = "Would delete"
		}
		fmt.Printf("Examined %d expired backups\n", result.Examined)
		color.Green("%s %d backups", verb, result.Deleted)
		for _, id := range result.DeletedIDs {
			fmt.Printf("  %s\n", id)
		}
		if result.Kept > 0 {
			color.Yellow("Kept %d expired full backups with retained incrementals", result.Kept)
			for _, id := range result.RetainedChainRoots {
				fmt.Printf("  %s\n", id)
			}
		}
		for _, e := range result.Errors {
			color.Red("Error: %s", e)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(cleanupCmd)
}
