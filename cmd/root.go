package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	_ "github.com/go-sql-driver/mysql"

	"mysql-backup-sentinel/internal/backup"
	"mysql-backup-sentinel/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	verbose   bool
	quiet     bool
	logFile   string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-backup-sentinel",
	Short: "Automated MySQL backup, verification, and recovery drill pipeline",
	Long: `MySQL Backup Sentinel runs the full lifecycle of MySQL disaster recovery:
scheduled full and incremental backups, compressed and encrypted artifacts
in local or cloud object storage, a backup catalog with lineage tracking,
restore drills against a staging server, and retention-based cleanup.

Examples:
  # Run the scheduler daemon with a config file
  mysql-backup-sentinel run --config=sentinel.yaml

  # Take a one-off full backup
  mysql-backup-sentinel backup full --config=sentinel.yaml

  # Prove the latest backup chain restores cleanly
  mysql-backup-sentinel drill chain --config=sentinel.yaml

  # Preview what retention cleanup would delete
  mysql-backup-sentinel cleanup --dry-run --config=sentinel.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mysql-backup-sentinel.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".mysql-backup-sentinel" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mysql-backup-sentinel")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("MYSQL_BACKUP_SENTINEL")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// buildLogger constructs the process-wide logger from CLI flags
func buildLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  logFormat,
		LogFile: logFile,
	})
}

// loadSystemConfig reads, defaults, and validates the pipeline configuration
func loadSystemConfig() (*backup.SystemConfig, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	path := viper.ConfigFileUsed()
	if path == "" {
		return nil, fmt.Errorf("no configuration file found; use --config or create ~/.mysql-backup-sentinel.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config backup.SystemConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.SetDefaults()
	config.LoadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// pipeline is the assembled service graph for one command invocation
type pipeline struct {
	Config    *backup.SystemConfig
	Logger    *logging.Logger
	Catalog   backup.BackupCatalog
	Storage   backup.StorageAdapter
	Creator   *backup.BackupCreationService
	Verifier  *backup.IntegrityVerifier
	Restorer  *backup.RestoreTestingService
	Retention *backup.RetentionCleaner
	Health    *backup.HealthChecker
	Notifier  *backup.NotificationManager

	primaryDB *sql.DB
	stagingDB *sql.DB
}

// Close releases the database handles held by the pipeline
func (p *pipeline) Close() {
	if p.primaryDB != nil {
		p.primaryDB.Close()
	}
	if p.stagingDB != nil {
		p.stagingDB.Close()
	}
}

// buildPipeline is the composition root: it resolves the encryption key,
// opens both database handles, initializes the catalog, and wires every
// service with its dependencies
func buildPipeline(ctx context.Context) (*pipeline, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	config, err := loadSystemConfig()
	if err != nil {
		return nil, err
	}

	var encryptor *backup.Encryptor
	if config.Encryption.Enabled {
		key, err := config.Encryption.ResolveKey()
		if err != nil {
			return nil, err
		}
		encryptor, err = backup.NewEncryptor(key)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Encryption is disabled; backup artifacts will be stored in plaintext")
	}

	primaryDB, err := openDatabase(ctx, config.Database, logger)
	if err != nil {
		return nil, err
	}

	stagingAdmin := config.Staging
	stagingAdmin.Database = "" // server-level connection for staging lifecycle
	stagingDB, err := openDatabase(ctx, stagingAdmin, logger)
	if err != nil {
		primaryDB.Close()
		return nil, err
	}

	p := &pipeline{
		Config:    config,
		Logger:    logger,
		primaryDB: primaryDB,
		stagingDB: stagingDB,
	}

	p.Catalog = backup.NewMySQLCatalog(primaryDB, logger)
	if err := p.Catalog.Init(ctx); err != nil {
		p.Close()
		return nil, err
	}

	p.Storage, err = backup.NewStorageAdapter(ctx, config.Storage)
	if err != nil {
		p.Close()
		return nil, err
	}

	archiver, err := backup.NewArchiveBuilder(config.Archive.Algorithm, config.Archive.Level)
	if err != nil {
		p.Close()
		return nil, err
	}

	runner := backup.NewProcessRunner(logger)
	dumper := backup.NewDumpExecutor(runner, backup.NewBinlogLister(primaryDB), config.Database, config.DumpTimeout, logger)

	p.Notifier = backup.NewNotificationManager(logger, config.Alerting)
	p.Verifier = backup.NewIntegrityVerifier(p.Catalog, p.Storage, logger)

	p.Creator = backup.NewBackupCreationService(
		p.Catalog, p.Storage, dumper, archiver, encryptor, p.Verifier, p.Notifier, logger,
		backup.CreatorOptions{
			Retention:       config.Retention,
			TempDir:         config.TempDir,
			KeyPrefix:       config.Storage.Prefix,
			NotifyOnSuccess: config.Alerting.NotifyOnSuccess,
		})

	p.Restorer = backup.NewRestoreTestingService(
		p.Catalog, p.Storage, dumper, archiver, encryptor,
		backup.NewStagingController(stagingDB), p.Notifier, logger,
		backup.RestoreOptions{
			Staging:   config.Staging,
			KeyTables: config.KeyTables,
			TempDir:   config.TempDir,
		})

	p.Retention = backup.NewRetentionCleaner(p.Catalog, p.Storage, p.Notifier, logger)
	p.Health = backup.NewHealthChecker(p.Catalog, p.Storage, p.Verifier, p.Notifier, logger,
		backup.HealthOptions{SpotVerify: true})

	return p, nil
}

func openDatabase(ctx context.Context, dc backup.DatabaseConfig, logger *logging.Logger) (*sql.DB, error) {
	start := time.Now()

	db, err := sql.Open("mysql", dc.DSN())
	if err != nil {
		logger.LogDatabaseConnection(dc.Host, dc.Database, false, time.Since(start), err)
		return nil, fmt.Errorf("failed to open database %s: %w", dc.Host, err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.LogDatabaseConnection(dc.Host, dc.Database, false, time.Since(start), err)
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", dc.Host, dc.Port, err)
	}

	logger.LogDatabaseConnection(dc.Host, dc.Database, true, time.Since(start), nil)
	return db, nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for mysql-backup-sentinel",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mysql-backup-sentinel version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}
