// download.go — сервис выдачи файлов. Стратегия выбирается по capability
// Storage Backend'а, зафиксированной при конструировании: локальный backend
// отдаёт содержимое напрямую (streaming), объектное хранилище — redirect
// на подписанный URL.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clizioguedes/data-up-server/internal/domain/model"
	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/storage"
)

// Ошибки download service.
var (
	// ErrFileNotFound — файл не существует или помечен как удалённый.
	ErrFileNotFound = errors.New("файл не найден")
)

// Prometheus-метрики download.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dup_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dup_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dup_download_duration_seconds",
		Help:    "Длительность скачивания файла в секундах.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)

// DownloadService — выдача файлов через Storage Backend.
type DownloadService struct {
	backend  storage.Backend
	fileRepo repository.FileRepository
	cache    *CacheService
	logger   *slog.Logger
}

// NewDownloadService создаёт сервис выдачи файлов.
func NewDownloadService(
	backend storage.Backend,
	fileRepo repository.FileRepository,
	cache *CacheService,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		backend:  backend,
		fileRepo: fileRepo,
		cache:    cache,
		logger:   logger.With(slog.String("component", "download_service")),
	}
}

// GetFile возвращает запись файла из кэша или БД.
// Файлы со статусом trashed наружу не отдаются: ErrFileNotFound.
func (ds *DownloadService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if record, ok := ds.cache.Get(fileID); ok {
		if record.Status == model.StatusTrashed {
			return nil, ErrFileNotFound
		}
		return record, nil
	}

	record, err := ds.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	ds.cache.Set(fileID, record)

	if record.Status == model.StatusTrashed {
		return nil, ErrFileNotFound
	}
	return record, nil
}

// Download выдаёт содержимое файла.
//
// CapabilityRedirect: возвращает непустой redirectURL, ответ клиенту
// записывает handler (302). CapabilityStream: записывает заголовки и тело
// напрямую в w и возвращает ("", nil).
func (ds *DownloadService) Download(ctx context.Context, w http.ResponseWriter, fileID string) (redirectURL string, err error) {
	start := time.Now()

	record, err := ds.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			downloadsTotal.WithLabelValues("not_found").Inc()
		} else {
			downloadsTotal.WithLabelValues("error").Inc()
		}
		return "", err
	}

	if ds.backend.Capability() == storage.CapabilityRedirect {
		url, rerr := ds.backend.ResolveURL(ctx, record.StoragePath)
		if rerr != nil {
			downloadsTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("получение URL артефакта %s: %w", record.StoragePath, rerr)
		}
		downloadsTotal.WithLabelValues("redirect").Inc()
		downloadDuration.Observe(time.Since(start).Seconds())
		return url, nil
	}

	// Streaming: backend с CapabilityStream обязан реализовывать Streamer.
	streamer, ok := ds.backend.(storage.Streamer)
	if !ok {
		downloadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("backend с capability %q не реализует Streamer", ds.backend.Capability())
	}

	rc, err := streamer.Open(ctx, record.StoragePath)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("открытие артефакта %s: %w", record.StoragePath, err)
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, rc)
	downloadBytesTotal.Add(float64(written))
	if err != nil {
		// Заголовки уже отправлены: только логируем обрыв streaming
		ds.logger.Error("Ошибка streaming download",
			slog.String("file_id", fileID),
			slog.Int64("written", written),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues("stream_error").Inc()
		return "", nil
	}

	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(time.Since(start).Seconds())
	return "", nil
}

// TrashFile помечает файл на удаление (soft delete) и инвалидирует кэш.
func (ds *DownloadService) TrashFile(ctx context.Context, fileID string) error {
	err := ds.fileRepo.UpdateStatus(ctx, fileID, model.StatusTrashed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	ds.cache.Delete(fileID)
	return nil
}
