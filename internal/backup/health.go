package backup

import (
	"context"
	"fmt"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// HealthOptions holds the thresholds for the periodic health pass
type HealthOptions struct {
	// MaxFullBackupAge is how old the newest full backup may be before the
	// pipeline is considered unhealthy
	MaxFullBackupAge time.Duration

	// StaleAfter is how long an IN_PROGRESS record may linger before it is
	// flagged as abandoned
	StaleAfter time.Duration

	// SpotVerify re-hashes the latest full backup artifact during the check
	SpotVerify bool
}

// HealthChecker runs a sanity pass over storage, catalog, and backup
// freshness, and raises a warning alert when anything looks off
type HealthChecker struct {
	catalog  BackupCatalog
	storage  StorageAdapter
	verifier *IntegrityVerifier
	notifier AlertNotifier
	logger   *logging.Logger
	opts     HealthOptions
}

// NewHealthChecker creates a checker with the given thresholds
func NewHealthChecker(catalog BackupCatalog, storage StorageAdapter, verifier *IntegrityVerifier, notifier AlertNotifier, logger *logging.Logger, opts HealthOptions) *HealthChecker {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.MaxFullBackupAge == 0 {
		opts.MaxFullBackupAge = 26 * time.Hour
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	return &HealthChecker{
		catalog:  catalog,
		storage:  storage,
		verifier: verifier,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Check runs all health checks and returns the aggregate report
func (hc *HealthChecker) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Healthy:   true,
		CheckedAt: time.Now().UTC(),
	}

	if err := hc.storage.HealthCheck(ctx); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("storage health check failed: %v", err))
	} else {
		report.StorageReachable = true
	}

	if err := hc.catalog.Ping(ctx); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("catalog unreachable: %v", err))
		report.Healthy = false
		hc.finish(ctx, report)
		return report
	}
	report.CatalogReachable = true

	stale, err := hc.catalog.StaleInProgress(ctx, report.CheckedAt.Add(-hc.opts.StaleAfter))
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("failed to query stale backups: %v", err))
	} else {
		report.StaleInProgress = len(stale)
		for _, rec := range stale {
			report.Issues = append(report.Issues, fmt.Sprintf("backup %s has been in progress since %s", rec.ID, rec.CreatedAt.Format(time.RFC3339)))
		}
	}

	latest, err := hc.catalog.LatestFull(ctx)
	switch {
	case err == nil:
		if latest.CompletedAt != nil {
			age := report.CheckedAt.Sub(*latest.CompletedAt)
			report.LastFullBackupAge = &age
			if age > hc.opts.MaxFullBackupAge {
				report.Issues = append(report.Issues, fmt.Sprintf("latest full backup %s is %s old", latest.ID, age.Round(time.Minute)))
			}
		}
		if hc.opts.SpotVerify && report.StorageReachable && hc.verifier != nil {
			if verr := hc.verifier.VerifyBackup(ctx, latest); verr != nil {
				report.Issues = append(report.Issues, fmt.Sprintf("spot verification of %s failed: %v", latest.ID, verr))
			}
		}
	case IsNotFound(err):
		report.Issues = append(report.Issues, "no completed full backup exists")
	default:
		report.Issues = append(report.Issues, fmt.Sprintf("failed to query latest full backup: %v", err))
	}

	report.Healthy = len(report.Issues) == 0
	hc.finish(ctx, report)
	return report
}

func (hc *HealthChecker) finish(ctx context.Context, report *HealthReport) {
	if report.Healthy {
		hc.logger.WithFields(map[string]interface{}{
			"storage_reachable": report.StorageReachable,
			"catalog_reachable": report.CatalogReachable,
		}).Debug("Health check passed")
		return
	}

	hc.logger.WithFields(map[string]interface{}{
		"issues": report.Issues,
	}).Warn("Health check found issues")

	if hc.notifier == nil {
		return
	}
	alert := NewAlert(AlertSeverityWarning, "Backup pipeline health check found issues", map[string]interface{}{
		"issues":            report.Issues,
		"storage_reachable": report.StorageReachable,
		"catalog_reachable": report.CatalogReachable,
	})
	if err := hc.notifier.Notify(ctx, alert); err != nil {
		hc.logger.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Alert delivery failed")
	}
}
