// Точка входа data-up-server — сервиса пакетной загрузки и выдачи файлов.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/clizioguedes/data-up-server/internal/api/handlers"
	"github.com/clizioguedes/data-up-server/internal/api/middleware"
	"github.com/clizioguedes/data-up-server/internal/config"
	"github.com/clizioguedes/data-up-server/internal/database"
	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/server"
	"github.com/clizioguedes/data-up-server/internal/service"
	"github.com/clizioguedes/data-up-server/internal/storage"
	"github.com/clizioguedes/data-up-server/internal/storage/gcstore"
	"github.com/clizioguedes/data-up-server/internal/storage/localstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("data-up-server запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. PostgreSQL: пул подключений и миграции
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Storage Backend — выбирается один раз при старте и передаётся
	// явно во все компоненты.
	backend, localStore, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации Storage Backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Репозиторий и кэш метаданных
	fileRepo := repository.NewFileRepository(pool)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 4. Сервисы
	uploadSvc := service.NewUploadService(cfg, backend, fileRepo, logger)
	downloadSvc := service.NewDownloadService(backend, fileRepo, cache, logger)

	// 5. Фоновые процессы

	// 5.1 Sweeper осиротевших артефактов — только для локального backend'а
	var gcSvc *service.GCService
	if localStore != nil {
		gcSvc = service.NewGCService(localStore, fileRepo, logger, cfg.GCInterval, cfg.GCGrace)
		gcSvc.Start(ctx)
	}

	// 5.2 topologymetrics — мониторинг зависимостей
	dephealthSvc := startDephealth(ctx, cfg, pool, logger)

	// 6. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))
	filesHandler := handlers.NewFilesHandler(uploadSvc, downloadSvc, fileRepo, logger)
	apiHandler := handlers.NewAPIHandler(healthHandler, filesHandler, logger)

	// 7. HTTP-сервер с middleware (порядок: метрики снаружи, логирование внутри)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 8. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	// Остановка фоновых процессов
	if gcSvc != nil {
		gcSvc.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	// GCS backend держит клиентское соединение, его нужно закрыть.
	if closer, ok := backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Ошибка закрытия Storage Backend", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("data-up-server остановлен")
}

// buildBackend конструирует Storage Backend по конфигурации.
// Для локального backend'а дополнительно возвращает конкретный *localstore.Store
// (нужен sweeper'у для обхода дерева артефактов).
func buildBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, *localstore.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendLocal:
		store, err := localstore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Локальное хранилище инициализировано", slog.String("data_dir", cfg.DataDir))
		return store, store, nil
	case config.BackendGCS:
		store, err := gcstore.New(ctx, cfg.GCSBucket, cfg.GCSSignerEmail, cfg.GCSPrivateKey, cfg.GCSURLTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("GCS хранилище инициализировано", slog.String("bucket", cfg.GCSBucket))
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный storage backend: %q", cfg.StorageBackend)
	}
}

// startDephealth запускает мониторинг зависимостей через topologymetrics.
// Недоступность SDK не фатальна: сервис стартует без мониторинга.
func startDephealth(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *service.DephealthService {
	// *sql.DB поверх существующего pgxpool: connection pool mode
	db := stdlib.OpenDBFromPool(pool)

	pgConnURL := fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	dephealthSvc, err := service.NewDephealthService(
		"data-up-server",
		cfg.DephealthGroup,
		db,
		pgConnURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}
