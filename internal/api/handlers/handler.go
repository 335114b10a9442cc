// handler.go — основной обработчик API data-up-server.
// Объединяет health и файловые обработчики, регистрирует маршруты chi.
package handlers

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// APIHandler — основной обработчик API data-up-server.
// Делегирует запросы в health и файловые обработчики.
type APIHandler struct {
	health *HealthHandler
	files  *FilesHandler
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	files *FilesHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health: health,
		files:  files,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует все маршруты API на chi-роутере.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	// Health endpoints и метрики
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Файловые endpoints
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/bulk", h.files.BulkUpload)
		r.Get("/", h.files.ListFiles)
		r.Get("/{fileID}", h.files.GetFileMetadata)
		r.Get("/{fileID}/download", h.files.DownloadFile)
		r.Delete("/{fileID}", h.files.DeleteFile)
	})
}
