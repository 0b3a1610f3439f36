package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/animus-inspect/internal/dockerfile"
	"github.com/animus-labs/animus-inspect/internal/openapi"
	"github.com/animus-labs/animus-inspect/internal/platform/auditlog"
	"github.com/animus-labs/animus-inspect/internal/platform/auth"
	"github.com/animus-labs/animus-inspect/internal/platform/env"
	"github.com/animus-labs/animus-inspect/internal/platform/httpserver"
	"github.com/animus-labs/animus-inspect/internal/platform/k8s"
	platformstore "github.com/animus-labs/animus-inspect/internal/platform/objectstore"
	"github.com/animus-labs/animus-inspect/internal/platform/postgres"
	"github.com/animus-labs/animus-inspect/internal/repo"
	repopg "github.com/animus-labs/animus-inspect/internal/repo/postgres"
	"github.com/animus-labs/animus-inspect/internal/runtimeexec"
	"github.com/animus-labs/animus-inspect/internal/service/inspections"
	"github.com/animus-labs/animus-inspect/internal/specification"
	"github.com/animus-labs/animus-inspect/internal/storage/inspectionstore"
	"github.com/animus-labs/animus-inspect/internal/storage/objectstore"
)

const serviceName = "inspector"

var version = "dev"

func main() {
	if err := env.LoadDotenv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(2)
	}

	level, err := logLevel(env.String("INSPECTOR_LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCfg := httpserver.Config{
		Service: serviceName,
		Version: version,
		Addr:    env.String("INSPECTOR_HTTP_ADDR", ":8080"),
	}
	serverCfg.ShutdownTimeout, err = env.Duration("INSPECTOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	probeTimeout, err := env.Duration("INSPECTOR_STATUS_PROBE_TIMEOUT", inspections.DefaultProbeTimeout)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	fetchTimeout, err := env.Duration("INSPECTOR_SCRIPT_FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	maxBodyKiB, err := env.Int("INSPECTOR_MAX_BODY_KIB", 1024)
	if err != nil || maxBodyKiB <= 0 {
		logger.Error("invalid env", "key", "INSPECTOR_MAX_BODY_KIB", "error", err)
		os.Exit(2)
	}

	k8sCfg, err := k8s.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid kubernetes config", "error", err)
		os.Exit(2)
	}
	cluster, err := k8s.New(k8sCfg)
	if err != nil {
		logger.Error("kubernetes client init failed", "error", err)
		os.Exit(2)
	}

	execCfg, err := runtimeexec.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid workflow config", "error", err)
		os.Exit(2)
	}
	submitter, err := runtimeexec.NewArgoSubmitter(cluster, execCfg, logger)
	if err != nil {
		logger.Error("workflow submitter init failed", "error", err)
		os.Exit(2)
	}
	prober, err := runtimeexec.NewProber(cluster, execCfg.InspectionNamespace)
	if err != nil {
		logger.Error("prober init failed", "error", err)
		os.Exit(2)
	}

	objects, objectsReady, err := openResultObjects(ctx, logger)
	if err != nil {
		logger.Error("result store unavailable", "error", err)
		os.Exit(1)
	}
	results, err := inspectionstore.New(objects)
	if err != nil {
		logger.Error("result store init failed", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	var (
		db       *sql.DB
		registry repo.InspectionRepository
	)
	if dbCfg.Enabled() {
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			logger.Error("database schema setup failed", "error", err)
			os.Exit(1)
		}
		registry = repopg.NewInspectionStore(db)
	} else {
		logger.Info("inspection registry disabled", "reason", "DATABASE_URL not set")
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.New(ctx, authCfg)
	if err != nil {
		logger.Error("authenticator init failed", "mode", string(authCfg.Mode), "error", err)
		os.Exit(1)
	}

	validator, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("openapi document invalid", "error", err)
		os.Exit(2)
	}

	compiler := &dockerfile.Compiler{
		Fetcher:      dockerfile.NewHTTPScriptFetcher(fetchTimeout),
		TrustedHosts: env.CSV("INSPECTOR_PIP_TRUSTED_HOSTS", nil),
		Logger:       logger,
	}
	defaults := specification.Defaults{
		CPU:    env.String("INSPECTOR_DEFAULT_CPU_REQUESTS", specification.DefaultRequests.CPU),
		Memory: env.String("INSPECTOR_DEFAULT_MEMORY_REQUESTS", specification.DefaultRequests.Memory),
	}

	dispatcher, err := inspections.NewDispatcher(compiler, submitter, defaults, logger)
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(2)
	}
	if registry != nil {
		dispatcher = dispatcher.WithRegistry(registry)
	}
	aggregator, err := inspections.NewStatusAggregator(prober, prober, prober, results, probeTimeout, logger)
	if err != nil {
		logger.Error("status aggregator init failed", "error", err)
		os.Exit(2)
	}
	resultService, err := inspections.NewResults(results)
	if err != nil {
		logger.Error("results init failed", "error", err)
		os.Exit(2)
	}
	if registry != nil {
		resultService = resultService.WithRegistry(registry)
	}
	lister, err := inspections.NewLister(registry, results)
	if err != nil {
		logger.Error("lister init failed", "error", err)
		os.Exit(2)
	}

	checks := []httpserver.ReadinessCheck{
		{Name: "kubernetes", Check: cluster.Ping},
		{Name: "result_store", Check: objectsReady},
	}
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.Readyz(serviceName, 2*time.Second, checks...))

	api := &inspectorAPI{
		logger:       logger,
		validator:    validator,
		dispatcher:   dispatcher,
		status:       aggregator,
		results:      resultService,
		lister:       lister,
		version:      version,
		maxBodyBytes: int64(maxBodyKiB) << 10,
	}
	api.register(mux)

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.RoleAuthorizer(),
		SkipPaths:     []string{"/healthz", "/readyz", "/version", apiPrefix + "/version", "/openapi.yaml"},
	}
	if db != nil {
		middleware.Audit = auditlog.AuthDenyAuditor(db, serviceName)
	}

	logger.Info("inspector starting",
		"addr", serverCfg.Addr,
		"version", version,
		"auth_mode", string(authCfg.Mode),
		"inspection_namespace", execCfg.InspectionNamespace,
		"registry", registry != nil,
	)
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serverCfg, middleware.Wrap(mux))); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// openResultObjects selects the object store behind the result store.
// INSPECTOR_RESULT_STORE=memory keeps everything in process for local runs.
func openResultObjects(ctx context.Context, logger *slog.Logger) (objectstore.Store, func(context.Context) error, error) {
	switch kind := env.String("INSPECTOR_RESULT_STORE", "minio"); kind {
	case "memory":
		logger.Warn("using in-memory result store")
		return objectstore.NewMemoryStore(), func(context.Context) error { return nil }, nil
	case "minio":
		cfg, err := platformstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		client, err := platformstore.NewMinIOClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		createBucket, err := env.Bool("INSPECTOR_MINIO_CREATE_BUCKET", false)
		if err != nil {
			return nil, nil, err
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		ensure := platformstore.CheckBucket
		if createBucket {
			ensure = platformstore.EnsureBucket
		}
		if err := ensure(startupCtx, client, cfg); err != nil {
			return nil, nil, err
		}
		store, err := objectstore.NewMinioStoreWithClient(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("INSPECTOR_RESULT_STORE: unknown store %q", kind)
	}
}

func logLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, errors.New("INSPECTOR_LOG_LEVEL: " + err.Error())
	}
	return level, nil
}
