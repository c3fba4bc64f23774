package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mysql-backup-sentinel/internal/backup"
)

var listLimit int

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and inspect backups",
	Long: `Create full or incremental backups and inspect the backup catalog.

A full backup dumps the complete database. An incremental backup captures
the binary log changes since the latest restorable full backup and refuses
to run when no such full backup exists.

Examples:
  # Take a full backup now
  mysql-backup-sentinel backup full

  # Take an incremental backup anchored to the latest full
  mysql-backup-sentinel backup incremental

  # Show the most recent catalog entries
  mysql-backup-sentinel backup list --limit 20

  # Re-verify a stored artifact against its recorded checksum
  mysql-backup-sentinel backup verify backup-full-20260830-020000-a1b2c3d4`,
}

var backupFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Create a full backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		rec, err := p.Creator.CreateFullBackup(cmd.Context())
		if err != nil {
			color.Red("Full backup failed: %v", err)
			return err
		}

		printBackupResult(rec)
		return nil
	},
}

var backupIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Create an incremental backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		rec, err := p.Creator.CreateIncrementalBackup(cmd.Context())
		if err != nil {
			color.Red("Incremental backup failed: %v", err)
			return err
		}

		printBackupResult(rec)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		records, err := p.Catalog.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No backups in catalog")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSIZE\tCREATED\tPARENT")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.ID,
				rec.Type,
				colorStatus(rec.Status),
				formatBytes(rec.SizeBytes),
				rec.CreatedAt.Format(time.RFC3339),
				rec.ParentID)
		}
		return w.Flush()
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <backup-id>",
	Short: "Re-verify a stored artifact against its recorded checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		rec, err := p.Verifier.VerifyByID(cmd.Context(), args[0])
		if err != nil {
			color.Red("Verification failed: %v", err)
			return err
		}

		color.Green("Backup %s verified (%s, checksum %s)", rec.ID, formatBytes(rec.SizeBytes), rec.Checksum[:16])
		return nil
	},
}

func init() {
	backupListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of entries to show")

	backupCmd.AddCommand(backupFullCmd)
	backupCmd.AddCommand(backupIncrementalCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	rootCmd.AddCommand(backupCmd)
}

func printBackupResult(rec *backup.BackupRecord) {
	color.Green("Backup %s completed", rec.ID)
	fmt.Printf("  Type:       %s\n", rec.Type)
	fmt.Printf("  Status:     %s\n", rec.Status)
	fmt.Printf("  Size:       %s (from %s)\n", formatBytes(rec.SizeBytes), formatBytes(rec.OriginalSizeBytes))
	fmt.Printf("  Checksum:   %s\n", rec.Checksum)
	fmt.Printf("  Location:   %s\n", rec.StorageLocation)
	fmt.Printf("  Retained:   until %s\n", rec.RetentionDate.Format("2006-01-02"))
	if rec.ParentID != "" {
		fmt.Printf("  Parent:     %s\n", rec.ParentID)
	}
}

func colorStatus(status backup.BackupStatus) string {
	switch status {
	case backup.BackupStatusVerified:
		return color.GreenString(string(status))
	case backup.BackupStatusCompleted:
		return color.CyanString(string(status))
	case backup.BackupStatusFailed:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
