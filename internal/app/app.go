package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/dailytrio/internal/config"
	"github.com/hitoshi/dailytrio/internal/database"
	"github.com/hitoshi/dailytrio/internal/handler"
	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/logger"
	"github.com/hitoshi/dailytrio/internal/metrics"
	"github.com/hitoshi/dailytrio/internal/middleware"
	"github.com/hitoshi/dailytrio/internal/repository"
	"github.com/hitoshi/dailytrio/internal/trio"
	"github.com/hitoshi/dailytrio/internal/worker/cleanup"
	"github.com/hitoshi/dailytrio/internal/worker/sweep"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envからLOG_LEVELが読まれた場合に備えて再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		WriteUsage(w)
		return err
	}
	if cmd == CommandHelp {
		WriteUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("timezone", cfg.Timezone.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores はストア接続とリポジトリをまとめたもの。
type stores struct {
	db        *sql.DB
	grouping  repository.GroupingStore
	directory repository.UserDirectory
}

// openStores はドライバに応じたDB接続を開き、疎通を確認してリポジトリを構築する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	db, err := database.OpenDriver(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &stores{db: db}
	switch cfg.StoreDriver {
	case database.DriverSQLite:
		s.grouping = repository.NewSQLiteGroupingRepo(db)
		s.directory = repository.NewSQLiteUserDirectory(db)
	default:
		s.grouping = repository.NewPostgresGroupingRepo(db)
		s.directory = repository.NewPostgresUserDirectory(db)
	}

	slog.Info("database connection established", slog.String("driver", cfg.StoreDriver))
	return s, nil
}

// engine はトリオ編成エンジンの構成要素をまとめたもの。
type engine struct {
	guard     *trio.Guard
	assembler *trio.Assembler
	queue     *trio.QueueManager
	admin     *trio.Admin
}

// newEngine はストアの上にGuard、Assembler、QueueManager、Adminを組み立てる。
func newEngine(cfg *config.Config, s *stores, m metrics.MetricsCollector, log *slog.Logger) *engine {
	guard := trio.NewGuard(s.grouping, log, cfg.CommitTimeout)
	assembler := trio.NewAssembler(guard, log, m, cfg.AssemblyMaxRounds)
	return &engine{
		guard:     guard,
		assembler: assembler,
		queue:     trio.NewQueueManager(guard, assembler, cfg.Timezone, m, log),
		admin:     trio.NewAdmin(guard, assembler, s.directory, m, log),
	}
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続とリポジトリ
	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.db.Close()

	// 2. メトリクスとエンジン
	reg, collector := newRegistry()
	eng := newEngine(cfg, s, collector, log)

	// 3. ハンドラーアダプタとミドルウェア
	codec := identity.NewCookieCodec(cfg.SessionHashKey, cfg.SessionBlockKey, cfg.SessionMaxAge)
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitJoin),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            log,
		IdentityResolver:  codec,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:  s.db,
		MetricsHandler: metrics.Handler(reg),

		QueueService: handler.NewQueueServiceAdapter(eng.queue),
		AdminService: handler.NewAdminServiceAdapter(eng.admin, eng.queue.Today),
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// キューのスイーパーとクリーンアップジョブを並行に実行し、
// /health と /metrics だけを持つ運用向けHTTPサーバーを起動する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.db.Close()

	reg, collector := newRegistry()
	eng := newEngine(cfg, s, collector, log)

	sweeper := sweep.NewSweeper(s.grouping, eng.assembler, eng.queue.Today, collector, log)
	cleanupJob := cleanup.NewCleanupJob(s.grouping, eng.queue.Today, log)
	cleanupJob.RetentionDays = cfg.TrioRetentionDays

	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(s.db))
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.AssemblySweepInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("trio_retention_days", cfg.TrioRetentionDays),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Start(gctx, cfg.AssemblySweepInterval)
		return nil
	})
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, server, "worker ops server")
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はserverを起動し、ctxがキャンセルされたらシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", cfg.StoreDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.StoreDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
