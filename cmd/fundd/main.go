package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/fundraise/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/fundraise/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/fundraise/internal/webserver"
	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

const (
	flagListenAddr       = "listen-addr"
	flagDataDir          = "data-dir"
	flagLedgerPath       = "ledger-path"
	flagDatabaseURL      = "database-url"
	flagAllowedOrigins   = "allowed-origins"
	configKeyListenAddr  = "listen_addr"
	configKeyDataDir     = "data_dir"
	configKeyLedgerPath  = "ledger_path"
	configKeyDatabaseURL = "database_url"
	configKeyOrigins     = "allowed_origins"
	defaultListenAddr    = ":9090"
	defaultDataDir       = "./data/projects"
	defaultLedgerPath    = "./data/ledger.jsonl"
	defaultDatabaseURL   = "./data/invoices.db"
)

type runtimeConfig struct {
	ListenAddr     string
	DataDir        string
	LedgerPath     string
	DatabaseURL    string
	AllowedOrigins string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fundd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "fundd",
		Short:         "Donation ledger and project-completion engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.PersistentFlags().String(flagDataDir, defaultDataDir, "root directory for project documents")
	cmd.PersistentFlags().String(flagLedgerPath, defaultLedgerPath, "path of the append-only ledger file")
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "invoice database connection string")
	cmd.PersistentFlags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")

	cmd.AddCommand(newReconcileCommand(cfg))

	return cmd
}

func newReconcileCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild every active project's cached fields from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReconcile(ctx, cfg)
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyListenAddr:  "LISTEN_ADDR",
		configKeyDataDir:     "DATA_DIR",
		configKeyLedgerPath:  "LEDGER_PATH",
		configKeyDatabaseURL: "DATABASE_URL",
		configKeyOrigins:     "ALLOWED_ORIGINS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flagNames := map[string]string{
		configKeyListenAddr:  flagListenAddr,
		configKeyDataDir:     flagDataDir,
		configKeyLedgerPath:  flagLedgerPath,
		configKeyDatabaseURL: flagDatabaseURL,
		configKeyOrigins:     flagAllowedOrigins,
	}
	for key, name := range flagNames {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = stringOrDefault(viper.GetString(configKeyListenAddr), defaultListenAddr)
	cfg.DataDir = stringOrDefault(viper.GetString(configKeyDataDir), defaultDataDir)
	cfg.LedgerPath = stringOrDefault(viper.GetString(configKeyLedgerPath), defaultLedgerPath)
	cfg.DatabaseURL = stringOrDefault(viper.GetString(configKeyDatabaseURL), defaultDatabaseURL)
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	return nil
}

func stringOrDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	service, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	serverConfig := webserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: webserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	return webserver.Run(ctx, serverConfig, service, logger)
}

func runReconcile(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	service, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	if reconcileErr := service.Reconcile(ctx); reconcileErr != nil {
		return fmt.Errorf("reconcile: %w", reconcileErr)
	}
	logger.Info("reconciliation pass complete")
	return nil
}

func buildService(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*funding.Service, func() error, error) {
	ledgerStore, err := filestore.NewLedgerFile(cfg.LedgerPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger store init: %w", err)
	}
	projectStore, err := filestore.NewProjectStore(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("project store init: %w", err)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	invoiceStore := gormstore.New(gormDB)

	clock := func() time.Time { return time.Now().UTC() }
	service, err := funding.NewService(
		ledgerStore,
		projectStore,
		invoiceStore,
		clock,
		funding.WithOperationLogger(&zapOperationLogger{logger: logger}),
	)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("funding service init: %w", err)
	}
	return service, cleanup, nil
}

// zapOperationLogger bridges domain operation events to structured logs.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry funding.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("amount", entry.Amount),
	}
	if entry.ProjectID.String() != "" {
		fields = append(fields, zap.String("project_id", entry.ProjectID.String()))
	}
	if entry.DonationID.String() != "" {
		fields = append(fields, zap.String("donation_id", entry.DonationID.String()))
	}
	if entry.Owner.String() != "" {
		fields = append(fields, zap.String("owner", entry.Owner.String()))
	}
	if entry.Donor.String() != "" {
		fields = append(fields, zap.String("donor", entry.Donor.String()))
	}
	if entry.Error != nil {
		operationLogger.logger.Error("funding operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("funding operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "invoices.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.PendingInvoice{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
