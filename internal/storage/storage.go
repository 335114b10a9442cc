// Пакет storage — capability-интерфейс Storage Backend.
// Backend выбирается один раз при старте процесса из конфигурации
// и передаётся явно во все компоненты (без глобального состояния).
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки Storage Backend.
var (
	// ErrNoURL — backend не умеет выдавать внешние URL (локальный backend).
	ErrNoURL = errors.New("backend не поддерживает внешние URL")
)

// Capability — вариантный тег backend'а, определяется при конструировании.
// Заменяет динамическую проверку конкретного типа при выборе стратегии download.
type Capability string

const (
	// CapabilityStream — backend отдаёт содержимое напрямую (локальная ФС).
	CapabilityStream Capability = "stream"
	// CapabilityRedirect — backend отдаёт содержимое по redirect на URL (объектное хранилище).
	CapabilityRedirect Capability = "redirect"
)

// StoredArtifact — результат сохранения одного файла в Storage Backend.
type StoredArtifact struct {
	// StoragePath — сгенерированный относительный путь артефакта
	StoragePath string
	// Size — фактическое количество записанных байт
	Size int64
	// ContentType — MIME-тип артефакта
	ContentType string
	// OriginalName — оригинальное имя файла из запроса
	OriginalName string
	// Checksum — идентификационный токен артефакта (см. Stamp)
	Checksum string
}

// Backend — durable-хранилище байтов за capability-интерфейсом.
// Реализации обязаны быть безопасными для конкурентных вызовов.
type Backend interface {
	// Store записывает поток под сгенерированным путём, не буферизуя его целиком.
	// Возвращает фактический размер. При ошибке посреди записи частично
	// записанные байты удаляются best effort.
	Store(ctx context.Context, r io.Reader, suggestedName, mediaType string) (*StoredArtifact, error)
	// Delete удаляет артефакт. Идемпотентен: отсутствие пути — не ошибка.
	Delete(ctx context.Context, path string) error
	// Exists проверяет существование артефакта.
	Exists(ctx context.Context, path string) (bool, error)
	// ResolveURL возвращает URL для скачивания (только redirect-backend'ы).
	ResolveURL(ctx context.Context, path string) (string, error)
	// Capability возвращает вариантный тег backend'а.
	Capability() Capability
}

// Streamer — дополнительная способность отдавать содержимое напрямую.
// Реализуется backend'ами с CapabilityStream.
type Streamer interface {
	// Open открывает артефакт для чтения. Вызывающий код обязан закрыть ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Stamp вычисляет идентификационный токен артефакта из имени, фактического
// размера и времени сохранения. Это НЕ контрольная сумма содержимого:
// токен служит для дедупликации в журналах и аудита, целостность байтов
// он не гарантирует.
func Stamp(name string, size int64, t time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", name, size, t.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// GeneratePath генерирует устойчивый к коллизиям путь артефакта.
// Формат: YYYY/MM/DD/{timestamp}_{uuid8}{ext} — date-partitioned дерево
// ограничивает fan-out директорий, имя не зависит от пользовательского
// ввода (кроме санированного расширения).
func GeneratePath(originalName string, now time.Time) string {
	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]
	ext := sanitizeExt(filepath.Ext(originalName))

	return filepath.ToSlash(filepath.Join(
		now.UTC().Format("2006/01/02"),
		fmt.Sprintf("%s_%s%s", ts, uid, ext),
	))
}

// sanitizeExt оставляет в расширении только буквы и цифры, ограничивает длину.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	var b strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	s := b.String()
	if len(s) > 10 {
		s = s[:10]
	}
	return "." + s
}
