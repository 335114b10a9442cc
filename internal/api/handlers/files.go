// files.go — обработчики файловых endpoints data-up-server.
// POST /api/v1/files/bulk — пакетная загрузка multipart
// GET /api/v1/files — листинг с фильтрами и пагинацией
// GET /api/v1/files/{fileID} — метаданные файла
// GET /api/v1/files/{fileID}/download — содержимое файла
// DELETE /api/v1/files/{fileID} — soft delete
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/clizioguedes/data-up-server/internal/api/errors"
	"github.com/clizioguedes/data-up-server/internal/domain/model"
	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/service"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	fileRepo    repository.FileRepository
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	fileRepo repository.FileRepository,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		fileRepo:    fileRepo,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// apiFileMetadata — представление записи файла в API.
// StoragePath наружу не отдаётся: путь артефакта — внутренняя деталь.
type apiFileMetadata struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ContentType string  `json:"contentType"`
	Size        int64   `json:"size"`
	Checksum    string  `json:"checksum"`
	FolderID    *string `json:"folderId,omitempty"`
	OwnerID     string  `json:"ownerId"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	CreatedBy   string  `json:"createdBy"`
	DownloadURL string  `json:"downloadUrl"`
}

// toAPIMetadata преобразует FileRecord в API-представление.
func toAPIMetadata(rec *model.FileRecord) *apiFileMetadata {
	return &apiFileMetadata{
		ID:          rec.FileID,
		Name:        rec.Name,
		ContentType: rec.ContentType,
		Size:        rec.Size,
		Checksum:    rec.Checksum,
		FolderID:    rec.FolderID,
		OwnerID:     rec.OwnerID,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		CreatedBy:   rec.CreatedBy,
		DownloadURL: fmt.Sprintf("/api/v1/files/%s/download", rec.FileID),
	}
}

// apiBatchItem — результат обработки одного файла в ответе пакетной загрузки.
// Code — машиночитаемый код ошибки (FILE_TOO_LARGE, UNSUPPORTED_MEDIA_TYPE,
// TOO_MANY_FILES, INTERNAL_ERROR), заполняется только при success=false.
type apiBatchItem struct {
	Success bool             `json:"success"`
	Name    string           `json:"name,omitempty"`
	Record  *apiFileMetadata `json:"record,omitempty"`
	Code    string           `json:"code,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// apiBatchSummary — итоговые счётчики батча.
type apiBatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// apiBatchResponse — ответ пакетной загрузки.
// Success описывает транспортный уровень: 200 возвращается и тогда,
// когда часть (или все) файлы завершились ошибкой.
type apiBatchResponse struct {
	Success bool            `json:"success"`
	Results []apiBatchItem  `json:"results"`
	Summary apiBatchSummary `json:"summary"`
}

// BulkUpload — пакетная загрузка файлов из multipart-тела.
func (h *FilesHandler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("ожидается multipart-тело: %v", err))
		return
	}

	result, batchErr := h.uploadSvc.ProcessBatch(r.Context(), mr)
	if batchErr != nil {
		apierrors.WriteError(w, batchErr.StatusCode, batchErr.Code, batchErr.Message)
		return
	}

	resp := apiBatchResponse{
		Success: true,
		Results: make([]apiBatchItem, 0, len(result.Results)),
		Summary: apiBatchSummary{
			Total:      result.Summary.Total,
			Successful: result.Summary.Successful,
			Failed:     result.Summary.Failed,
		},
	}
	for _, item := range result.Results {
		apiItem := apiBatchItem{Success: item.Success, Code: item.Code, Error: item.Error}
		if item.Success {
			apiItem.Record = toAPIMetadata(item.Record)
		} else {
			apiItem.Name = item.Name
		}
		resp.Results = append(resp.Results, apiItem)
	}

	writeJSON(w, http.StatusOK, resp)
}

// listFilesResponse — ответ листинга файлов.
type listFilesResponse struct {
	Files  []*apiFileMetadata `json:"files"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListFiles — листинг файлов с фильтрами, сортировкой и пагинацией.
// Query-параметры: status, folderId, ownerId, sortBy, sortOrder, limit, offset.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := repository.ListParams{
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	if status := q.Get("status"); status != "" {
		if !model.ValidStatus(model.FileStatus(status)) {
			apierrors.ValidationError(w, fmt.Sprintf("недопустимый статус %q, допустимые: active, trashed", status))
			return
		}
		params.Status = &status
	}
	if folderID := q.Get("folderId"); folderID != "" {
		if _, err := uuid.Parse(folderID); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("параметр folderId не является корректным UUID: %q", folderID))
			return
		}
		params.FolderID = &folderID
	}
	if ownerID := q.Get("ownerId"); ownerID != "" {
		if _, err := uuid.Parse(ownerID); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("параметр ownerId не является корректным UUID: %q", ownerID))
			return
		}
		params.OwnerID = &ownerID
	}

	params.Limit, params.Offset = paginationDefaults(q.Get("limit"), q.Get("offset"))

	records, total, err := h.fileRepo.List(r.Context(), params)
	if err != nil {
		h.logger.Error("Ошибка листинга файлов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "ошибка листинга файлов")
		return
	}

	resp := listFilesResponse{
		Files:  make([]*apiFileMetadata, 0, len(records)),
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	for _, rec := range records {
		resp.Files = append(resp.Files, toAPIMetadata(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFileMetadata — метаданные файла по UUID.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileIDFromRequest(w, r)
	if !ok {
		return
	}

	record, err := h.downloadSvc.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("файл %s не найден", fileID))
			return
		}
		h.logger.Error("Ошибка получения файла",
			slog.String("file_id", fileID), slog.String("error", err.Error()))
		apierrors.InternalError(w, "ошибка получения файла")
		return
	}

	writeJSON(w, http.StatusOK, toAPIMetadata(record))
}

// DownloadFile — содержимое файла: streaming (локальный backend)
// или 302 redirect на подписанный URL (объектное хранилище).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileIDFromRequest(w, r)
	if !ok {
		return
	}

	redirectURL, err := h.downloadSvc.Download(r.Context(), w, fileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("файл %s не найден", fileID))
			return
		}
		h.logger.Error("Ошибка скачивания файла",
			slog.String("file_id", fileID), slog.String("error", err.Error()))
		apierrors.InternalError(w, "ошибка скачивания файла")
		return
	}

	if redirectURL != "" {
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

// DeleteFile — soft delete: файл помечается статусом trashed.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.downloadSvc.TrashFile(r.Context(), fileID); err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("файл %s не найден", fileID))
			return
		}
		h.logger.Error("Ошибка удаления файла",
			slog.String("file_id", fileID), slog.String("error", err.Error()))
		apierrors.InternalError(w, "ошибка удаления файла")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fileIDFromRequest извлекает и валидирует UUID файла из URL.
// При некорректном UUID пишет 400 и возвращает ok=false.
func (h *FilesHandler) fileIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	fileID := strings.TrimSpace(chi.URLParam(r, "fileID"))
	if _, err := uuid.Parse(fileID); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("некорректный UUID файла: %q", fileID))
		return "", false
	}
	return fileID, true
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limitRaw, offsetRaw string) (limit, offset int) {
	limit = 100
	offset = 0

	if limitRaw != "" {
		if l, err := strconv.Atoi(limitRaw); err == nil {
			limit = l
			if limit < 1 {
				limit = 1
			}
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	if offsetRaw != "" {
		if o, err := strconv.Atoi(offsetRaw); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
