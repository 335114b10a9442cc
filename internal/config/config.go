// Пакет config — загрузка и валидация конфигурации data-up-server
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Backend'ы хранения.
const (
	// BackendLocal — локальная файловая система (streaming download).
	BackendLocal = "local"
	// BackendGCS — Google Cloud Storage (redirect download по signed URL).
	BackendGCS = "gcs"
)

// Config содержит все параметры конфигурации data-up-server.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL (обязательный)
	DBHost string
	// Порт PostgreSQL (по умолчанию 5432)
	DBPort int
	// Имя базы данных (обязательный)
	DBName string
	// Пользователь (обязательный)
	DBUser string
	// Пароль (обязательный)
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string

	// --- Storage Backend ---

	// Тип backend'а: local или gcs
	StorageBackend string
	// Корневая директория хранения файлов (обязательна для local)
	DataDir string
	// GCS bucket (обязателен для gcs)
	GCSBucket string
	// Service account для подписи signed URL (обязателен для gcs)
	GCSSignerEmail string
	// Приватный ключ service account (обязателен для gcs)
	GCSPrivateKey string
	// Время жизни signed URL (по умолчанию 15m)
	GCSURLTTL time.Duration

	// --- Пакетная загрузка ---

	// Максимальный размер одного файла в байтах (по умолчанию 100 MiB)
	MaxFileSize int64
	// Максимальное количество файлов в одном запросе (по умолчанию 10)
	MaxFilesPerRequest int
	// Потолок одновременных записей в Storage Backend (по умолчанию 4).
	// Фиксированная константа конфигурации, не зависит от размера батча.
	UploadConcurrency int
	// Разрешённые MIME-типы файлов (csv-список)
	AllowedMediaTypes []string

	// --- Кэш метаданных ---

	// Максимальное количество записей в LRU-кэше (по умолчанию 1024)
	CacheSize int
	// TTL записи кэша (по умолчанию 5m)
	CacheTTL time.Duration

	// --- Sweeper осиротевших артефактов ---

	// Интервал запуска sweeper'а (по умолчанию 1h)
	GCInterval time.Duration
	// Возраст артефакта, до которого sweeper его не трогает (по умолчанию 1h).
	// Защищает артефакты батчей, находящихся mid-flight.
	GCGrace time.Duration

	// --- Мониторинг зависимостей (topologymetrics) ---

	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Добавлять лейбл isentry=yes (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool
}

// defaultAllowedMediaTypes — allow-list MIME-типов по умолчанию.
var defaultAllowedMediaTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DUP_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DUP_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DUP_PORT: %w", err)
	}

	// DUP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DUP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DUP_LOG_LEVEL: %w", err)
	}

	// DUP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DUP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DUP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DUP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DUP_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DUP_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DUP_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DUP_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DUP_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DUP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DUP_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("DUP_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("DUP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DUP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("DUP_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("DUP_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("DUP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DUP_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DUP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DUP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Storage Backend ---

	// DUP_STORAGE_BACKEND — тип backend'а (по умолчанию local)
	cfg.StorageBackend = getEnvDefault("DUP_STORAGE_BACKEND", BackendLocal)
	switch cfg.StorageBackend {
	case BackendLocal:
		// DUP_DATA_DIR — обязателен для локального backend'а
		cfg.DataDir, err = getEnvRequired("DUP_DATA_DIR")
		if err != nil {
			return nil, err
		}
	case BackendGCS:
		cfg.GCSBucket, err = getEnvRequired("DUP_GCS_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.GCSSignerEmail, err = getEnvRequired("DUP_GCS_SIGNER_EMAIL")
		if err != nil {
			return nil, err
		}
		cfg.GCSPrivateKey, err = getEnvRequired("DUP_GCS_PRIVATE_KEY")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("DUP_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, gcs", cfg.StorageBackend)
	}

	// DUP_GCS_URL_TTL — время жизни signed URL (по умолчанию 15m)
	cfg.GCSURLTTL, err = getEnvDuration("DUP_GCS_URL_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DUP_GCS_URL_TTL: %w", err)
	}

	// --- Пакетная загрузка ---

	// DUP_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxFileSize, err = getEnvInt64("DUP_MAX_FILE_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("DUP_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DUP_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// DUP_MAX_FILES_PER_REQUEST — лимит файлов в запросе (по умолчанию 10)
	cfg.MaxFilesPerRequest, err = getEnvInt("DUP_MAX_FILES_PER_REQUEST", 10)
	if err != nil {
		return nil, fmt.Errorf("DUP_MAX_FILES_PER_REQUEST: %w", err)
	}
	if cfg.MaxFilesPerRequest <= 0 {
		return nil, fmt.Errorf("DUP_MAX_FILES_PER_REQUEST: значение должно быть положительным")
	}

	// DUP_UPLOAD_CONCURRENCY — потолок одновременных записей (по умолчанию 4)
	cfg.UploadConcurrency, err = getEnvInt("DUP_UPLOAD_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("DUP_UPLOAD_CONCURRENCY: %w", err)
	}
	if cfg.UploadConcurrency <= 0 {
		return nil, fmt.Errorf("DUP_UPLOAD_CONCURRENCY: значение должно быть положительным")
	}

	// DUP_ALLOWED_MEDIA_TYPES — csv-список разрешённых MIME-типов
	cfg.AllowedMediaTypes = parseMediaTypes(getEnvDefault("DUP_ALLOWED_MEDIA_TYPES", ""))

	// --- Кэш метаданных ---

	cfg.CacheSize, err = getEnvInt("DUP_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("DUP_CACHE_SIZE: %w", err)
	}

	cfg.CacheTTL, err = getEnvDuration("DUP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DUP_CACHE_TTL: %w", err)
	}

	// --- Sweeper ---

	cfg.GCInterval, err = getEnvDuration("DUP_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DUP_GC_INTERVAL: %w", err)
	}

	cfg.GCGrace, err = getEnvDuration("DUP_GC_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DUP_GC_GRACE: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthCheckInterval, err = getEnvDuration("DUP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DUP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("DUP_DEPHEALTH_GROUP", "data-up-server")
	cfg.DephealthIsEntry = getEnvDefault("DEPHEALTH_ISENTRY", "") == "yes"

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseMediaTypes разбирает csv-список MIME-типов, нормализуя к нижнему регистру.
// Пустая строка — allow-list по умолчанию.
func parseMediaTypes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultAllowedMediaTypes...)
	}
	var result []string
	for _, part := range strings.Split(raw, ",") {
		mt := strings.ToLower(strings.TrimSpace(part))
		if mt != "" {
			result = append(result, mt)
		}
	}
	return result
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
