package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mysql-backup-sentinel/internal/backup"
)

// drillCmd represents the drill command
var drillCmd = &cobra.Command{
	Use:   "drill",
	Short: "Run restore drills against the staging server",
	Long: `Restore backups into a throwaway staging database and validate the
result. Drills prove that stored artifacts are actually recoverable, not
just present.

Examples:
  # Restore-test a single backup
  mysql-backup-sentinel drill restore backup-full-20260830-020000-a1b2c3d4

  # Test the latest full backup plus its newest incremental
  mysql-backup-sentinel drill chain

  # Run the full quarterly recovery drill
  mysql-backup-sentinel drill quarterly`,
}

var drillRestoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore-test a single backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		report, err := p.Restorer.TestRestore(cmd.Context(), args[0])
		printRestoreReport(report)
		return err
	},
}

var drillChainCmd = &cobra.Command{
	Use:   "chain [full-backup-id]",
	Short: "Test a full backup and its newest incremental",
	Long: `Restore-test a full backup together with its most recent incremental.
Without an argument the chain anchors on the latest full backup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		fullID := ""
		if len(args) == 1 {
			fullID = args[0]
		}
		chain, err := p.Restorer.TestChain(cmd.Context(), fullID)
		if chain != nil {
			printChainReport(chain)
		}
		return err
	},
}

var drillQuarterlyCmd = &cobra.Command{
	Use:   "quarterly",
	Short: "Run the quarterly recovery drill",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		report, err := p.Restorer.RunQuarterlyDrill(cmd.Context())
		if report.Passed {
			color.Green("Quarterly drill passed (%d/%d tests)", report.TestsPassed, report.TestsRun)
		} else {
			color.Red("Quarterly drill FAILED (%d/%d tests passed)", report.TestsPassed, report.TestsRun)
			if report.FailureNote != "" {
				fmt.Printf("  Reason: %s\n", report.FailureNote)
			}
		}
		if report.Chain != nil {
			printChainReport(report.Chain)
		}
		return err
	},
}

func init() {
	drillCmd.AddCommand(drillRestoreCmd)
	drillCmd.AddCommand(drillChainCmd)
	drillCmd.AddCommand(drillQuarterlyCmd)
	rootCmd.AddCommand(drillCmd)
}

func printRestoreReport(report *backup.RestoreTestReport) {
	if report == nil {
		return
	}
	if report.Passed {
		color.Green("Restore test passed: %s", report.BackupID)
	} else {
		color.Red("Restore test FAILED: %s", report.BackupID)
		if report.FailureReason != "" {
			fmt.Printf("  Reason: %s\n", report.FailureReason)
		}
	}
	if report.StagingDatabase != "" {
		fmt.Printf("  Staging DB: %s\n", report.StagingDatabase)
	}
	if report.TablesRestored > 0 {
		fmt.Printf("  Tables:     %d\n", report.TablesRestored)
	}
	for table, count := range report.KeyTableCounts {
		fmt.Printf("  %s: %d rows\n", table, count)
	}
}

func printChainReport(chain *backup.ChainTestReport) {
	fmt.Printf("Chain anchored at full backup %s\n", chain.FullBackupID)
	printRestoreReport(chain.FullReport)
	printRestoreReport(chain.IncrementalReport)
	if chain.ChainTestSuccess {
		color.Green("Chain test passed")
	} else {
		color.Red("Chain test FAILED")
	}
}
