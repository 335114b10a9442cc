// upload.go — пакетная загрузка файлов: приём multipart-потока, запись
// артефактов в Storage Backend под потолком конкурентности, валидация общих
// полей после исчерпания потока и согласование записей в БД с компенсацией.
//
// Гарантия: ни один терминальный исход батча не оставляет в Storage Backend
// артефакт без соответствующей записи в таблице files. Осиротевшие артефакты
// аварийно завершившихся процессов подбирает sweeper (gc.go).
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/clizioguedes/data-up-server/internal/api/errors"
	"github.com/clizioguedes/data-up-server/internal/config"
	"github.com/clizioguedes/data-up-server/internal/domain/model"
	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/storage"
)

// Максимальный размер значения текстового поля multipart-формы.
const maxFieldValueSize = 4 << 10

// Prometheus-метрики пакетной загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dup_uploads_total",
		Help: "Общее количество обработанных файлов пакетной загрузки.",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dup_upload_bytes_total",
		Help: "Общее количество байт, записанных в Storage Backend.",
	})

	activeUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dup_active_uploads",
		Help: "Текущее количество выполняющихся записей в Storage Backend.",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dup_upload_batch_duration_seconds",
		Help:    "Длительность обработки одного батча пакетной загрузки.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dup_compensations_total",
		Help: "Количество компенсирующих удалений артефактов по стадиям.",
	}, []string{"stage"})
)

// BatchError — ошибка уровня батча (весь запрос отклонён).
type BatchError struct {
	StatusCode int
	Code       string
	Message    string
}

// BatchItemResult — результат обработки одного файла батча.
type BatchItemResult struct {
	// Success — успешно ли файл сохранён и зарегистрирован
	Success bool
	// Name — оригинальное имя файла (заполняется для ошибок)
	Name string
	// Record — запись файла (только при Success)
	Record *model.FileRecord
	// Code — машиночитаемый код ошибки (только при !Success)
	Code string
	// Error — описание ошибки (только при !Success)
	Error string
}

// BatchSummary — итоговые счётчики батча.
// Инвариант: Total == Successful + Failed.
type BatchSummary struct {
	Total      int
	Successful int
	Failed     int
}

// BatchResult — итоговый отчёт пакетной загрузки.
type BatchResult struct {
	Results []BatchItemResult
	Summary BatchSummary
}

// uploadOutcome — исход записи одного допущенного файла в Storage Backend.
// Производится планировщиком, потребляется ровно один раз reconciler'ом.
type uploadOutcome struct {
	sourceName string
	artifact   *storage.StoredArtifact
	err        error
}

// validatedMetadata — общие поля батча после валидации.
// Иммутабельна, разделяется read-only всеми задачами reconciler'а.
type validatedMetadata struct {
	OwnerID   string
	CreatedBy string
	FolderID  *string
	Status    model.FileStatus
}

// UploadService — пакетная загрузка файлов.
type UploadService struct {
	backend  storage.Backend
	fileRepo repository.FileRepository
	logger   *slog.Logger

	maxFileSize int64
	maxFiles    int
	concurrency int
	allowed     map[string]bool
}

// NewUploadService создаёт сервис пакетной загрузки.
func NewUploadService(
	cfg *config.Config,
	backend storage.Backend,
	fileRepo repository.FileRepository,
	logger *slog.Logger,
) *UploadService {
	allowed := make(map[string]bool, len(cfg.AllowedMediaTypes))
	for _, mt := range cfg.AllowedMediaTypes {
		allowed[strings.ToLower(mt)] = true
	}
	return &UploadService{
		backend:     backend,
		fileRepo:    fileRepo,
		logger:      logger.With(slog.String("component", "upload")),
		maxFileSize: cfg.MaxFileSize,
		maxFiles:    cfg.MaxFilesPerRequest,
		concurrency: cfg.UploadConcurrency,
		allowed:     allowed,
	}
}

// ProcessBatch обрабатывает один multipart-батч.
//
// Конвейер: части читаются строго в порядке прихода (multipart-поток
// последователен); текстовые поля накапливаются в map (последнее значение
// побеждает при дубликате имени), файловые части допускаются под потолком
// конкурентности. Тело допущенной части сначала сливается во временный файл
// (это же момент контроля размера), затем запись в Storage Backend идёт в
// отдельной горутине, позволяя читать следующую часть потока. После
// исчерпания потока и завершения всех записей валидируются общие поля;
// при провале валидации все записанные артефакты удаляются и батч
// отклоняется целиком. Иначе для каждого успешного исхода вставляется
// запись в БД, с компенсирующим удалением артефакта при ошибке вставки.
//
// Возвращает (результат, nil) либо (nil, ошибка батча).
func (s *UploadService) ProcessBatch(ctx context.Context, mr *multipart.Reader) (*BatchResult, *BatchError) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	// Семафор — потолок одновременных записей в Storage Backend.
	// Токен удерживается от допуска части до завершения записи.
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var outcomes []uploadOutcome

	fields := make(map[string]string)
	var earlyRejects []BatchItemResult
	fileCount := 0

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Повреждённое multipart-тело: дожидаемся уже запущенных записей
			// и откатываем их, чтобы не оставить сирот.
			wg.Wait()
			s.rollback(ctx, outcomes, "malformed")
			return nil, &BatchError{
				StatusCode: 400,
				Code:       apierrors.CodeValidationError,
				Message:    fmt.Sprintf("некорректное multipart-тело: %v", err),
			}
		}

		if part.FileName() == "" {
			// Текстовое поле формы. Часть без имени поля молча пропускается.
			if name := part.FormName(); name != "" {
				val, rerr := io.ReadAll(io.LimitReader(part, maxFieldValueSize))
				if rerr == nil {
					fields[name] = string(val)
				}
			}
			_ = part.Close()
			continue
		}

		fileCount++
		fileName := part.FileName()
		mediaType := normalizeMediaType(part.Header.Get("Content-Type"))

		// Превышение лимита файлов в запросе: часть отклоняется, её байты
		// вычитываются, чтобы не блокировать чтение остатка потока.
		if fileCount > s.maxFiles {
			earlyRejects = append(earlyRejects, BatchItemResult{
				Name:  fileName,
				Code:  apierrors.CodeTooManyFiles,
				Error: fmt.Sprintf("превышен лимит файлов в запросе (%d)", s.maxFiles),
			})
			drainPart(part)
			continue
		}

		// MIME-тип вне allow-list: отклонение без занятия слота конкурентности.
		if !s.allowed[mediaType] {
			earlyRejects = append(earlyRejects, BatchItemResult{
				Name:  fileName,
				Code:  apierrors.CodeUnsupportedMediaType,
				Error: fmt.Sprintf("недопустимый тип файла %q", mediaType),
			})
			drainPart(part)
			continue
		}

		// Допуск: ожидание свободного слота — точка backpressure.
		// Чтение потока приостанавливается, пока все K слотов заняты.
		sem <- struct{}{}

		tmpPath, failCode, spoolErr := s.spoolPart(part)
		if spoolErr != nil {
			<-sem
			earlyRejects = append(earlyRejects, BatchItemResult{
				Name:  fileName,
				Code:  failCode,
				Error: spoolErr.Error(),
			})
			drainPart(part)
			continue
		}

		wg.Add(1)
		go func(tmpPath, fileName, mediaType string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() { _ = os.Remove(tmpPath) }()

			outcome := s.storeSpooled(ctx, tmpPath, fileName, mediaType)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(tmpPath, fileName, mediaType)
	}

	// Все записи должны завершиться до валидации: при её провале
	// откатывать нужно полный набор артефактов.
	wg.Wait()

	if fileCount == 0 {
		return nil, &BatchError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "запрос не содержит файлов",
		}
	}

	// Metadata Gate: общие поля валидируются ровно один раз, после
	// исчерпания потока (поля и файлы могут приходить вперемешку).
	meta, verr := validateMetadata(fields)
	if verr != nil {
		s.rollback(ctx, outcomes, "validation")
		return nil, &BatchError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    verr.Error(),
		}
	}

	results := make([]BatchItemResult, 0, len(earlyRejects)+len(outcomes))
	results = append(results, earlyRejects...)
	results = append(results, s.reconcile(ctx, outcomes, meta)...)

	summary := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			summary.Successful++
			uploadsTotal.WithLabelValues("success").Inc()
		} else {
			summary.Failed++
			uploadsTotal.WithLabelValues("failed").Inc()
		}
	}

	s.logger.Info("Батч обработан",
		slog.Int("total", summary.Total),
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", time.Since(start)),
	)

	return &BatchResult{Results: results, Summary: summary}, nil
}

// spoolPart сливает тело части во временный файл, контролируя размер.
// Multipart-поток последователен, поэтому для конкурентной записи в backend
// тело части нужно сначала materialize. Возвращает путь временного файла;
// при отказе — машиночитаемый код для per-item отчёта.
func (s *UploadService) spoolPart(part *multipart.Part) (tmpPath, failCode string, err error) {
	tmp, err := os.CreateTemp("", "dup-upload-*")
	if err != nil {
		return "", apierrors.CodeInternalError, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Лимит +1 байт: превышение детектируется до записи в backend.
	written, err := io.Copy(tmp, io.LimitReader(part, s.maxFileSize+1))
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", apierrors.CodeInternalError, fmt.Errorf("ошибка чтения тела файла: %w", err)
	}
	if written > s.maxFileSize {
		_ = os.Remove(tmp.Name())
		return "", apierrors.CodeFileTooLarge, fmt.Errorf("файл превышает максимальный размер %d байт", s.maxFileSize)
	}

	return tmp.Name(), "", nil
}

// storeSpooled записывает ранее слитое тело в Storage Backend.
// Контекст отвязывается от запроса: уже начатая запись завершается
// естественно даже при обрыве клиента, частичные артефакты чистит либо
// сам backend, либо откат батча.
func (s *UploadService) storeSpooled(ctx context.Context, tmpPath, fileName, mediaType string) uploadOutcome {
	f, err := os.Open(tmpPath)
	if err != nil {
		return uploadOutcome{sourceName: fileName, err: fmt.Errorf("ошибка открытия временного файла: %w", err)}
	}
	defer f.Close()

	activeUploads.Inc()
	defer activeUploads.Dec()

	artifact, err := s.backend.Store(context.WithoutCancel(ctx), f, fileName, mediaType)
	if err != nil {
		s.logger.Error("Ошибка записи артефакта",
			slog.String("name", fileName), slog.String("error", err.Error()))
		return uploadOutcome{sourceName: fileName, err: err}
	}

	uploadBytesTotal.Add(float64(artifact.Size))
	return uploadOutcome{sourceName: fileName, artifact: artifact}
}

// reconcile — Persistence Reconciler: по одной записи files на каждый
// успешный исход. Вставки независимы и выполняются конкурентно; ошибка
// вставки одного файла компенсируется удалением его артефакта и не
// затрагивает остальные.
func (s *UploadService) reconcile(ctx context.Context, outcomes []uploadOutcome, meta *validatedMetadata) []BatchItemResult {
	// Err-исходы собираются в отдельный срез на основной горутине;
	// persisted пополняется горутинами вставок строго под mu. Срезы
	// объединяются только после Wait — общих записей без mu нет.
	failed := make([]BatchItemResult, 0, len(outcomes))
	persisted := make([]BatchItemResult, 0, len(outcomes))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, oc := range outcomes {
		if oc.err != nil {
			failed = append(failed, BatchItemResult{
				Name:  oc.sourceName,
				Code:  apierrors.CodeInternalError,
				Error: fmt.Sprintf("ошибка сохранения файла: %v", oc.err),
			})
			continue
		}

		wg.Add(1)
		go func(oc uploadOutcome) {
			defer wg.Done()

			item := s.persistOne(ctx, oc, meta)

			mu.Lock()
			persisted = append(persisted, item)
			mu.Unlock()
		}(oc)
	}

	wg.Wait()
	return append(failed, persisted...)
}

// persistOne вставляет запись одного файла; при ошибке вставки выполняет
// компенсирующее удаление артефакта.
func (s *UploadService) persistOne(ctx context.Context, oc uploadOutcome, meta *validatedMetadata) BatchItemResult {
	rec := &model.FileRecord{
		FileID:      uuid.New().String(),
		Name:        oc.artifact.OriginalName,
		ContentType: oc.artifact.ContentType,
		Size:        oc.artifact.Size,
		Checksum:    oc.artifact.Checksum,
		StoragePath: oc.artifact.StoragePath,
		FolderID:    meta.FolderID,
		OwnerID:     meta.OwnerID,
		Status:      meta.Status,
		CreatedBy:   meta.CreatedBy,
	}

	if err := s.fileRepo.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("Ошибка вставки записи файла, артефакт удаляется",
			slog.String("name", oc.sourceName),
			slog.String("storage_path", oc.artifact.StoragePath),
			slog.String("error", err.Error()),
		)
		s.compensate(ctx, oc.artifact.StoragePath, "persist")
		return BatchItemResult{
			Name:  oc.sourceName,
			Code:  apierrors.CodeInternalError,
			Error: "ошибка регистрации файла",
		}
	}

	return BatchItemResult{Success: true, Name: oc.sourceName, Record: rec}
}

// rollback удаляет артефакты всех успешных исходов (all-or-nothing откат
// Metadata Gate). Ошибки удаления логируются и не меняют исход батча.
func (s *UploadService) rollback(ctx context.Context, outcomes []uploadOutcome, stage string) {
	for _, oc := range outcomes {
		if oc.err != nil || oc.artifact == nil {
			continue
		}
		s.compensate(ctx, oc.artifact.StoragePath, stage)
	}
}

// compensate — единая компенсирующая операция: best-effort удаление
// артефакта из Storage Backend.
func (s *UploadService) compensate(ctx context.Context, storagePath, stage string) {
	compensationsTotal.WithLabelValues(stage).Inc()
	if err := s.backend.Delete(context.WithoutCancel(ctx), storagePath); err != nil {
		s.logger.Error("Ошибка компенсирующего удаления артефакта",
			slog.String("storage_path", storagePath),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
	}
}

// validateMetadata валидирует общие поля батча.
// ownerId, createdBy — обязательные UUID; folderId — опциональный UUID;
// status — active по умолчанию.
func validateMetadata(fields map[string]string) (*validatedMetadata, error) {
	ownerID := strings.TrimSpace(fields["ownerId"])
	if ownerID == "" {
		return nil, errors.New("поле ownerId обязательно")
	}
	if _, err := uuid.Parse(ownerID); err != nil {
		return nil, fmt.Errorf("поле ownerId не является корректным UUID: %q", ownerID)
	}

	createdBy := strings.TrimSpace(fields["createdBy"])
	if createdBy == "" {
		return nil, errors.New("поле createdBy обязательно")
	}
	if _, err := uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("поле createdBy не является корректным UUID: %q", createdBy)
	}

	meta := &validatedMetadata{
		OwnerID:   ownerID,
		CreatedBy: createdBy,
		Status:    model.StatusActive,
	}

	if folderID := strings.TrimSpace(fields["folderId"]); folderID != "" {
		if _, err := uuid.Parse(folderID); err != nil {
			return nil, fmt.Errorf("поле folderId не является корректным UUID: %q", folderID)
		}
		meta.FolderID = &folderID
	}

	if status := strings.TrimSpace(fields["status"]); status != "" {
		st := model.FileStatus(status)
		if !model.ValidStatus(st) {
			return nil, fmt.Errorf("недопустимый статус %q, допустимые: active, trashed", status)
		}
		meta.Status = st
	}

	return meta, nil
}

// normalizeMediaType приводит MIME-тип к нижнему регистру и отбрасывает параметры.
func normalizeMediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// drainPart вычитывает остаток тела отклонённой части, чтобы чтение
// следующих частей потока не блокировалось.
func drainPart(part *multipart.Part) {
	_, _ = io.Copy(io.Discard, part)
	_ = part.Close()
}
