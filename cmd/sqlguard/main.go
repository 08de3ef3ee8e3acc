package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/sqlguard/internal/adapter/mcp"
	"github.com/guillermoBallester/sqlguard/internal/adapter/mysql"
	"github.com/guillermoBallester/sqlguard/internal/adapter/policy"
	"github.com/guillermoBallester/sqlguard/internal/adapter/postgres"
	"github.com/guillermoBallester/sqlguard/internal/audit"
	"github.com/guillermoBallester/sqlguard/internal/config"
	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/guillermoBallester/sqlguard/internal/core/port"
	"github.com/guillermoBallester/sqlguard/internal/core/service"
	"github.com/guillermoBallester/sqlguard/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

// errCheckRejected makes --check exit non-zero once the decision is printed.
var errCheckRejected = errors.New("statement rejected")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.GenerateConfig {
		return generateConfig(ctx, cfg, logger, stdout)
	}

	pol, err := policy.LoadFromFile(cfg.GuardPolicyFile)
	if err != nil {
		return fmt.Errorf("loading guard policy: %w", err)
	}
	guardCfg := pol.GuardConfig()

	// Telemetry
	var tracer trace.Tracer
	var inst port.Instrumentation
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "sqlguard", version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.String("error.message", err.Error()))
			}
		}()
		tracer = telemetry.Tracer()
		inst = telemetry.NewInstruments()
	} else {
		tracer = telemetry.NoopTracer()
		inst = telemetry.NoopInstruments()
	}

	// Audit
	var auditor port.QueryAuditor = port.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		auditor = fa
	}
	defer func() { _ = auditor.Close() }()

	parser, err := newParser(guardCfg.Dialect)
	if err != nil {
		return err
	}
	guard := service.NewGuard(guardCfg, parser, auditor, logger, tracer, inst)

	logger.Info("guard policy loaded",
		slog.String("file", cfg.GuardPolicyFile),
		slog.String("sql.dialect", string(guardCfg.Dialect)),
		slog.Int("guard.tables", len(guardCfg.Tables())),
		slog.Int("guard.default_limit", guardCfg.DefaultLimit),
		slog.Bool("guard.add_limit", guardCfg.AddLimit),
		slog.Bool("guard.fail_throw_exception", guardCfg.FailThrowException),
	)

	if cfg.Check != "" {
		return runCheck(ctx, guard, cfg.Check, stdout)
	}

	logger.Info("starting sqlguard",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("transport", cfg.Transport),
		slog.Bool("database", cfg.HasDatabase()),
		slog.Bool("otel", cfg.OTelEnabled),
	)

	var querySvc *service.QueryService
	if cfg.HasDatabase() {
		if dialectMismatch(guardCfg.Dialect, cfg.HasDatabase()) {
			logger.Warn("guard policy dialect does not match the database, statements may fail to parse and be allowed",
				slog.String("sql.dialect", string(guardCfg.Dialect)),
				slog.String("db.system", "postgresql"),
			)
		}

		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, poolSettings(cfg))
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		logger.Info("database pool connected",
			slog.String("db.system", "postgresql"),
			slog.String("db.connection_string", redactDSN(cfg.DatabaseURL)),
			slog.Bool("read_only", cfg.ReadOnly),
			slog.String("query_timeout", cfg.QueryTimeout.String()),
		)

		executor := postgres.NewExecutor(pool, cfg.ReadOnly, cfg.QueryTimeout)
		querySvc = service.NewQueryService(guard, executor, auditor, logger, tracer, inst)
	}

	mcpServer := mcp.NewServer(version, guard, querySvc, logger, tracer, inst)

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, mcpServer, cfg, logger)
	default:
		stdioServer := mcpserver.NewStdioServer(mcpServer)
		logger.Info("serving MCP over stdio")
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("stdio server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// dialectMismatch reports whether queries executed against the PostgreSQL
// pool would be parsed with a different dialect. The policy dialect defaults
// to mysql when unset.
func dialectMismatch(d domain.Dialect, hasDB bool) bool {
	return hasDB && d != domain.DialectPostgres
}

func newParser(d domain.Dialect) (port.StatementParser, error) {
	switch d {
	case domain.DialectMySQL:
		return mysql.NewParser(), nil
	case domain.DialectPostgres:
		return postgres.NewParser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDialect, d)
	}
}

func poolSettings(cfg *config.Config) postgres.PoolSettings {
	return postgres.PoolSettings{
		MaxConns:        cfg.PoolMaxConns,
		MinConns:        cfg.PoolMinConns,
		MaxConnLifetime: cfg.PoolMaxConnLifetime,
	}
}

// parseFlags maps CLI flags onto config overrides. Only flags that were
// actually passed are set, so env vars keep their values otherwise.
func parseFlags(args []string) (config.Overrides, error) {
	var o config.Overrides

	fs := flag.NewFlagSet("sqlguard", flag.ContinueOnError)

	policyFile := fs.String("policy-file", "", "path to the guard policy YAML (overrides GUARD_POLICY_FILE)")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	queryTimeout := fs.Duration("query-timeout", 0, "query timeout (overrides QUERY_TIMEOUT)")
	transport := fs.String("transport", "", "MCP transport: stdio or http (overrides TRANSPORT)")
	httpAddr := fs.String("http-addr", "", "listen address for HTTP transport (overrides HTTP_ADDR)")
	httpBearerToken := fs.String("http-bearer-token", "", "bearer token for HTTP transport (overrides HTTP_BEARER_TOKEN)")
	poolMaxConns := fs.Int("pool-max-conns", 0, "maximum pool connections (overrides POOL_MAX_CONNS)")
	poolMinConns := fs.Int("pool-min-conns", 0, "minimum pool connections (overrides POOL_MIN_CONNS)")
	poolMaxConnLifetime := fs.Duration("pool-max-conn-lifetime", 0, "maximum connection lifetime (overrides POOL_MAX_CONN_LIFETIME)")
	check := fs.String("check", "", "evaluate one SQL statement, print the decision as JSON and exit")
	fs.BoolVar(&o.GenerateConfig, "generate-config", false, "print a guard policy built from the database's indexes and exit")
	fs.StringVar(&o.AuditLog, "audit-log", "", "path to NDJSON audit log file")
	fs.BoolVar(&o.OTelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy-file":
			o.GuardPolicyFile = policyFile
		case "database-url":
			o.DatabaseURL = databaseURL
		case "log-level":
			o.LogLevel = logLevel
		case "query-timeout":
			o.QueryTimeout = queryTimeout
		case "transport":
			o.Transport = transport
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = httpBearerToken
		case "pool-max-conns":
			n := int32(*poolMaxConns)
			o.PoolMaxConns = &n
		case "pool-min-conns":
			n := int32(*poolMinConns)
			o.PoolMinConns = &n
		case "pool-max-conn-lifetime":
			o.PoolMaxConnLifetime = poolMaxConnLifetime
		case "check":
			o.Check = check
		}
	})

	return o, nil
}

// redactDSN masks the password in a connection string for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
