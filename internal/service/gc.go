// gc.go — фоновый sweeper осиротевших артефактов локального хранилища.
//
// Нормальные пути отката (rollback батча, компенсация при ошибке вставки)
// удаляют артефакты сами. Sweeper закрывает оставшийся зазор: артефакты
// батчей, оборванных аварийным завершением процесса между записью в backend
// и записью в БД. Артефакт считается осиротевшим, если он старше grace-периода
// и ни одна запись files на него не ссылается.
//
// Применим только к локальному backend'у: обход объектного хранилища
// обошёлся бы дороже, чем стоимость редких сирот.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/storage/localstore"
)

// Prometheus-метрики sweeper'а.
var (
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dup_gc_runs_total",
		Help: "Количество запусков sweeper'а осиротевших артефактов.",
	})
	gcOrphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dup_gc_orphans_removed_total",
		Help: "Общее количество удалённых осиротевших артефактов.",
	})
	gcDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dup_gc_duration_seconds",
		Help:    "Длительность одного прохода sweeper'а.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

// GCService — периодический sweeper осиротевших артефактов.
type GCService struct {
	store    *localstore.Store
	fileRepo repository.FileRepository
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewGCService создаёт sweeper.
// interval — период между проходами, grace — возраст, до которого артефакт
// не трогается (защита артефактов батчей, находящихся mid-flight).
func NewGCService(
	store *localstore.Store,
	fileRepo repository.FileRepository,
	logger *slog.Logger,
	interval, grace time.Duration,
) *GCService {
	return &GCService{
		store:    store,
		fileRepo: fileRepo,
		logger:   logger.With(slog.String("component", "gc")),
		interval: interval,
		grace:    grace,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает фоновый цикл sweeper'а. Неблокирующий.
func (g *GCService) Start(ctx context.Context) {
	go g.run(ctx)
	g.logger.Info("Sweeper осиротевших артефактов запущен",
		slog.Duration("interval", g.interval),
		slog.Duration("grace", g.grace),
	)
}

// Stop останавливает sweeper и дожидается завершения текущего прохода.
func (g *GCService) Stop() {
	close(g.stop)
	<-g.done
	g.logger.Info("Sweeper осиротевших артефактов остановлен")
}

// run — основной цикл: проход по тикеру до остановки.
func (g *GCService) run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := g.Sweep(ctx)
			if err != nil {
				g.logger.Error("Ошибка прохода sweeper'а", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				g.logger.Info("Осиротевшие артефакты удалены", slog.Int("removed", removed))
			}
		}
	}
}

// Sweep выполняет один проход: обходит дерево артефактов и удаляет те,
// что старше grace-периода и не имеют записи в files.
// Возвращает количество удалённых артефактов.
func (g *GCService) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	gcRunsTotal.Inc()
	defer func() { gcDuration.Observe(time.Since(start).Seconds()) }()

	removed := 0
	err := g.store.Walk(func(relPath string, modTime time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Свежие артефакты не трогаем: их батч может быть ещё mid-flight
		if time.Since(modTime) < g.grace {
			return nil
		}

		exists, err := g.fileRepo.ExistsByStoragePath(ctx, relPath)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		if err := g.store.Delete(ctx, relPath); err != nil {
			g.logger.Error("Ошибка удаления осиротевшего артефакта",
				slog.String("storage_path", relPath),
				slog.String("error", err.Error()),
			)
			return nil
		}

		g.logger.Warn("Удалён осиротевший артефакт",
			slog.String("storage_path", relPath),
			slog.Time("mod_time", modTime),
		)
		gcOrphansRemovedTotal.Inc()
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}
