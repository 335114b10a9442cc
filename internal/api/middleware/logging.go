// logging.go — middleware журналирования HTTP-запросов.
// Помимо статуса и длительности фиксируются объёмы тела запроса и ответа:
// для пакетной загрузки размер multipart-тела — основной фактор
// длительности обработки, без него запись в логе малоинформативна.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder фиксирует статус-код и объём записанного ответа.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytesOut int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytesOut += int64(n)
	return n, err
}

// Unwrap отдаёт исходный ResponseWriter для http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// RequestLogger возвращает middleware, журналирующий каждый запрос:
// метод, путь, статус, длительность, bytes_in/bytes_out, remote_addr.
// Уровень записи выбирается по статус-коду: 5xx — ERROR, 4xx — WARN,
// остальные — INFO.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes_in", r.ContentLength),
				slog.Int64("bytes_out", rec.bytesOut),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
