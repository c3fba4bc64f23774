package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mysql-backup-sentinel/internal/backup"
)

var stopTimeout time.Duration

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup scheduler daemon",
	Long: `Start the scheduler and run all periodic jobs until interrupted:
full backups, incremental backups, retention cleanup, health checks, and
the quarterly recovery drill, each on its configured cron expression.

A job invocation that fires while the previous run of the same job is
still in flight is skipped and logged, never queued. On SIGINT or SIGTERM
the daemon stops scheduling and waits for in-flight jobs to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, err := buildPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		// Jobs run detached from the signal context: shutdown stops the
		// cron and waits via Stop instead of killing an in-flight dump.
		sched := backup.NewScheduler(context.Background(), p.Logger)

		jobs := []struct {
			name string
			spec string
			fn   backup.JobFunc
		}{
			{"full-backup", p.Config.Schedule.FullBackup, func(ctx context.Context) error {
				_, err := p.Creator.CreateFullBackup(ctx)
				return err
			}},
			{"incremental-backup", p.Config.Schedule.IncrementalBackup, func(ctx context.Context) error {
				// Before the first full backup exists this is an expected
				// condition, not an incident
				if _, err := p.Catalog.LatestFull(ctx); err != nil {
					if backup.IsNotFound(err) {
						p.Logger.Info("No full backup exists yet, skipping incremental run")
						return nil
					}
					return err
				}
				_, err := p.Creator.CreateIncrementalBackup(ctx)
				return err
			}},
			{"retention-cleanup", p.Config.Schedule.Cleanup, func(ctx context.Context) error {
				_, err := p.Retention.Cleanup(ctx, false)
				return err
			}},
			{"health-check", p.Config.Schedule.HealthCheck, func(ctx context.Context) error {
				p.Health.Check(ctx)
				return nil
			}},
			{"quarterly-drill", p.Config.Schedule.QuarterlyDrill, func(ctx context.Context) error {
				_, err := p.Restorer.RunQuarterlyDrill(ctx)
				return err
			}},
		}

		for _, job := range jobs {
			if err := sched.Register(job.name, job.spec, job.fn); err != nil {
				return err
			}
		}

		sched.Start()
		p.Logger.Info("Backup sentinel running; press Ctrl+C to stop")

		<-ctx.Done()
		p.Logger.Info("Shutdown signal received")

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return sched.Stop(stopCtx)
	},
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 5*time.Minute, "how long to wait for in-flight jobs on shutdown")
	rootCmd.AddCommand(runCmd)
}
