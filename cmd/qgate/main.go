// Package main implements the qgate binary: a priority-scheduled, cached
// query gateway in front of a SQL database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/app"
	"github.com/arkilian/qgate/internal/config"
	"github.com/arkilian/qgate/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configFile string
	addr       string
	poolSize   int
	dbDriver   string
	dbDSN      string
	reportDir  string
	adminAddr  string
	logLevel   string
	noCache    bool
}

func main() {
	var (
		f           flags
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&f.addr, "addr", "", "Client listener address (host:port)")
	flag.IntVar(&f.poolSize, "pool-size", 0, "Database sessions and dispatcher workers")
	flag.StringVar(&f.dbDriver, "db-driver", "", "Database driver: sqlite3, mysql, postgres")
	flag.StringVar(&f.dbDSN, "db-dsn", "", "Database data source name")
	flag.StringVar(&f.reportDir, "report-dir", "", "Directory for maintenance reports")
	flag.StringVar(&f.adminAddr, "admin-addr", "", "Admin HTTP address for /metrics, /healthz, /v1/stats")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&f.noCache, "no-redis", false, "Disable the networked cache")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "qgate - priority-scheduled query gateway\n\n")
		fmt.Fprintf(os.Stderr, "Usage: qgate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  qgate --db-driver mysql --db-dsn 'default:@tcp(127.0.0.1:9004)/default'\n")
		fmt.Fprintf(os.Stderr, "  qgate --config /etc/qgate/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  QGATE_ADDR, QGATE_PORT        Client listener address\n")
		fmt.Fprintf(os.Stderr, "  QGATE_POOL_SIZE               Session pool size\n")
		fmt.Fprintf(os.Stderr, "  QGATE_DB_DRIVER, QGATE_DB_DSN Database connection\n")
		fmt.Fprintf(os.Stderr, "  QGATE_REDIS_HOST, QGATE_REDIS_PORT, QGATE_CACHE_TTL\n")
		fmt.Fprintf(os.Stderr, "  QGATE_COUNT_CACHE_IN_SCENARIO Record cache hits in reports\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("qgate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	printBanner(logger, cfg)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	if err := application.Shutdown().ListenForSignals(ctx); err != nil {
		logger.Warn("shutdown completed with errors", zap.Error(err))
	}
	if err := application.Wait(); err != nil {
		logger.Error("service error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig layers defaults or file, then environment, then flags.
func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if f.configFile != "" {
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.poolSize > 0 {
		cfg.Pool.Size = f.poolSize
	}
	if f.dbDriver != "" {
		cfg.Database.Driver = f.dbDriver
	}
	if f.dbDSN != "" {
		cfg.Database.DSN = f.dbDSN
	}
	if f.reportDir != "" {
		cfg.Report.Dir = f.reportDir
	}
	if f.adminAddr != "" {
		cfg.Admin.HTTPAddr = f.adminAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}

	return cfg, nil
}

func printBanner(logger *zap.Logger, cfg *config.Config) {
	logger.Info("qgate configuration",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("redis", cfg.Cache.Enabled),
		zap.String("redis_addr", cfg.Cache.Redis.Addr()),
		zap.Int("cache_ttl_seconds", cfg.Cache.TTLSeconds),
		zap.Bool("count_cache_in_scenario", cfg.Cache.CountInScenario),
		zap.String("report_dir", cfg.Report.Dir),
		zap.String("report_storage", cfg.Report.Storage.Type),
		zap.String("admin_http", cfg.Admin.HTTPAddr))
}
