package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clizioguedes/data-up-server/internal/config"
	"github.com/clizioguedes/data-up-server/internal/domain/model"
	"github.com/clizioguedes/data-up-server/internal/repository"
	"github.com/clizioguedes/data-up-server/internal/service"
	"github.com/clizioguedes/data-up-server/internal/storage/localstore"
)

const (
	testOwnerID   = "7b8e1f7a-1111-4a2b-9c3d-000000000001"
	testCreatedBy = "7b8e1f7a-2222-4a2b-9c3d-000000000002"
)

// memFileRepo — in-memory реализация FileRepository для handler-тестов.
type memFileRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{records: make(map[string]*model.FileRecord)}
}

func (r *memFileRepo) Insert(_ context.Context, rec *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.CreatedAt = time.Now()
	r.records[rec.FileID] = rec
	return nil
}

func (r *memFileRepo) GetByID(_ context.Context, fileID string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (r *memFileRepo) List(_ context.Context, _ repository.ListParams) ([]*model.FileRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileRecord
	for _, rec := range r.records {
		result = append(result, rec)
	}
	return result, len(result), nil
}

func (r *memFileRepo) UpdateStatus(_ context.Context, fileID string, status model.FileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fileID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (r *memFileRepo) Delete(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[fileID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, fileID)
	return nil
}

func (r *memFileRepo) ExistsByStoragePath(_ context.Context, storagePath string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.StoragePath == storagePath {
			return true, nil
		}
	}
	return false, nil
}

// newTestServer поднимает httptest.Server с полным стеком поверх
// реального локального хранилища и in-memory репозитория.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		MaxFileSize:        1 << 20,
		MaxFilesPerRequest: 10,
		UploadConcurrency:  4,
		AllowedMediaTypes:  []string{"image/jpeg", "image/png", "application/pdf"},
	}

	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания локального хранилища: %v", err)
	}

	repo := newMemFileRepo()
	logger := slog.New(slog.DiscardHandler)
	cache := service.NewCacheService(16, time.Minute)

	uploadSvc := service.NewUploadService(cfg, store, repo, logger)
	downloadSvc := service.NewDownloadService(store, repo, cache, logger)

	api := NewAPIHandler(
		NewHealthHandler(nil),
		NewFilesHandler(uploadSvc, downloadSvc, repo, logger),
		logger,
	)

	router := chi.NewRouter()
	api.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// uploadBatch отправляет bulk-запрос с указанными файлами.
func uploadBatch(t *testing.T, srv *httptest.Server, files map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("ownerId", testOwnerID); err != nil {
		t.Fatalf("ошибка записи поля: %v", err)
	}
	if err := w.WriteField("createdBy", testCreatedBy); err != nil {
		t.Fatalf("ошибка записи поля: %v", err)
	}

	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
		h.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("ошибка создания части: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("ошибка записи части: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("ошибка закрытия multipart writer: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/v1/files/bulk", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	return resp
}

// batchResponse — JSON-ответ пакетной загрузки.
type batchResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Success bool   `json:"success"`
		Name    string `json:"name"`
		Error   string `json:"error"`
		Record  *struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Status      string `json:"status"`
			DownloadURL string `json:"downloadUrl"`
		} `json:"record"`
	} `json:"results"`
	Summary struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	} `json:"summary"`
}

// TestBulkUpload_EndToEnd проверяет полный цикл: загрузка, метаданные,
// скачивание, удаление.
func TestBulkUpload_EndToEnd(t *testing.T) {
	srv := newTestServer(t)

	// 1. Пакетная загрузка
	resp := uploadBatch(t, srv, map[string]string{
		"a.jpg": "содержимое a",
		"b.jpg": "содержимое b",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус загрузки: ожидалось 200, получено %d", resp.StatusCode)
	}

	var batch batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if !batch.Success {
		t.Error("ответ батча должен иметь success=true")
	}
	if batch.Summary.Total != 2 || batch.Summary.Successful != 2 || batch.Summary.Failed != 0 {
		t.Fatalf("итоги: ожидалось {2 2 0}, получено %+v", batch.Summary)
	}

	var fileID string
	for _, item := range batch.Results {
		if item.Record == nil {
			t.Fatalf("успешный результат без записи: %+v", item)
		}
		if item.Record.Status != "active" {
			t.Errorf("ожидался статус active, получен %s", item.Record.Status)
		}
		if item.Record.DownloadURL == "" {
			t.Error("запись должна содержать downloadUrl")
		}
		fileID = item.Record.ID
	}

	// 2. Метаданные файла
	metaResp, err := http.Get(srv.URL + "/api/v1/files/" + fileID)
	if err != nil {
		t.Fatalf("ошибка запроса метаданных: %v", err)
	}
	defer metaResp.Body.Close()
	if metaResp.StatusCode != http.StatusOK {
		t.Errorf("статус метаданных: ожидалось 200, получено %d", metaResp.StatusCode)
	}

	// 3. Скачивание (streaming локального backend'а)
	dlResp, err := http.Get(srv.URL + "/api/v1/files/" + fileID + "/download")
	if err != nil {
		t.Fatalf("ошибка скачивания: %v", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		t.Errorf("статус скачивания: ожидалось 200, получено %d", dlResp.StatusCode)
	}
	body, _ := io.ReadAll(dlResp.Body)
	if len(body) == 0 {
		t.Error("тело скачивания не должно быть пустым")
	}

	// 4. Удаление (soft delete)
	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/files/"+fileID, nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("статус удаления: ожидалось 204, получено %d", delResp.StatusCode)
	}

	// 5. После удаления файл не отдаётся
	goneResp, err := http.Get(srv.URL + "/api/v1/files/" + fileID)
	if err != nil {
		t.Fatalf("ошибка запроса метаданных: %v", err)
	}
	goneResp.Body.Close()
	if goneResp.StatusCode != http.StatusNotFound {
		t.Errorf("статус после удаления: ожидалось 404, получено %d", goneResp.StatusCode)
	}
}

// TestBulkUpload_NotMultipart проверяет 400 для тела без multipart.
func TestBulkUpload_NotMultipart(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/files/bulk", "application/json",
		bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", resp.StatusCode)
	}
}

// TestGetFileMetadata_InvalidUUID проверяет 400 для некорректного UUID.
func TestGetFileMetadata_InvalidUUID(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/files/not-a-uuid")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", resp.StatusCode)
	}
}

// TestListFiles проверяет листинг после загрузки.
func TestListFiles(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadBatch(t, srv, map[string]string{"a.jpg": "данные"})
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/v1/files/")
	if err != nil {
		t.Fatalf("ошибка листинга: %v", err)
	}
	defer listResp.Body.Close()

	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("статус листинга: ожидалось 200, получено %d", listResp.StatusCode)
	}

	var list struct {
		Files []json.RawMessage `json:"files"`
		Total int               `json:"total"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if list.Total != 1 || len(list.Files) != 1 {
		t.Errorf("ожидался 1 файл в листинге, получено total=%d, files=%d", list.Total, len(list.Files))
	}
}

// TestHealthLive проверяет liveness probe.
func TestHealthLive(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if body.Status != "ok" || body.Service != "data-up-server" {
		t.Errorf("неожиданное тело ответа: %+v", body)
	}
}
