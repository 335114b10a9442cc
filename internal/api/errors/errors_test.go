package errors

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

// TestWriteError проверяет формат и статус ответа ошибки.
func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, 418, "TEAPOT", "я чайник")

	if w.Code != 418 {
		t.Errorf("статус: ожидалось 418, получено %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: ожидалось application/json, получено %s", ct)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("ошибка разбора JSON: %v", err)
	}
	if body.Error.Code != "TEAPOT" || body.Error.Message != "я чайник" {
		t.Errorf("неожиданное тело ошибки: %+v", body)
	}
}

// TestConstructors проверяет статус-коды конструкторов.
func TestConstructors(t *testing.T) {
	w := httptest.NewRecorder()
	ValidationError(w, "bad")
	if w.Code != 400 {
		t.Errorf("ValidationError: ожидалось 400, получено %d", w.Code)
	}

	w = httptest.NewRecorder()
	NotFound(w, "missing")
	if w.Code != 404 {
		t.Errorf("NotFound: ожидалось 404, получено %d", w.Code)
	}

	w = httptest.NewRecorder()
	InternalError(w, "boom")
	if w.Code != 500 {
		t.Errorf("InternalError: ожидалось 500, получено %d", w.Code)
	}
}
