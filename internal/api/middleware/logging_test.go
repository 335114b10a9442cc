package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestRequestLogger_Fields проверяет состав записи лога: метод, путь,
// статус и объёмы тела запроса и ответа.
func TestRequestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	const reqBody = "multipart-body-bytes"
	const respBody = `{"ok":true}`

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(respBody))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/bulk", strings.NewReader(reqBody))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("запись лога не является JSON: %v (%s)", err, buf.String())
	}

	if entry["method"] != "POST" {
		t.Errorf("ожидался метод POST, получен %v", entry["method"])
	}
	if entry["path"] != "/api/v1/files/bulk" {
		t.Errorf("неверный путь в логе: %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("ожидался статус 200, получен %v", entry["status"])
	}
	if entry["bytes_in"] != float64(len(reqBody)) {
		t.Errorf("bytes_in: ожидалось %d, получено %v", len(reqBody), entry["bytes_in"])
	}
	if entry["bytes_out"] != float64(len(respBody)) {
		t.Errorf("bytes_out: ожидалось %d, получено %v", len(respBody), entry["bytes_out"])
	}
}

// TestRequestLogger_LevelByStatus проверяет выбор уровня по статус-коду.
func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusFound, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("статус %d: запись лога не является JSON: %v", tt.status, err)
		}
		if entry["level"] != tt.wantLevel {
			t.Errorf("статус %d: ожидался уровень %s, получен %v", tt.status, tt.wantLevel, entry["level"])
		}
		if entry["status"] != float64(tt.status) {
			t.Errorf("статус %d: в логе %v", tt.status, entry["status"])
		}
	}
}
