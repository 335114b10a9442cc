// Пакет model — доменные модели data-up-server.
// FileRecord — маппинг таблицы files в PostgreSQL.
package model

import "time"

// FileStatus — статус файла в реестре.
type FileStatus string

// Допустимые статусы файла.
const (
	// StatusActive — файл активен и доступен для скачивания.
	StatusActive FileStatus = "active"
	// StatusTrashed — файл помечен на удаление (физическое удаление — sweeper).
	StatusTrashed FileStatus = "trashed"
)

// ValidStatus проверяет, что значение входит в допустимый набор статусов.
func ValidStatus(s FileStatus) bool {
	return s == StatusActive || s == StatusTrashed
}

// FileRecord — запись файла в таблице files.
// Создаётся Persistence Reconciler'ом при пакетной загрузке,
// читается CRUD endpoints и download-сервисом.
type FileRecord struct {
	// FileID — UUID файла (генерируется при загрузке)
	FileID string
	// Name — оригинальное имя файла из multipart part
	Name string
	// ContentType — MIME-тип файла
	ContentType string
	// Size — фактический размер в байтах (из Storage Backend, не заявленный клиентом)
	Size int64
	// Checksum — идентификационный токен артефакта (не контрольная сумма содержимого)
	Checksum string
	// StoragePath — сгенерированный путь артефакта в Storage Backend (внутреннее поле)
	StoragePath string
	// FolderID — UUID папки (опционально)
	FolderID *string
	// OwnerID — UUID владельца
	OwnerID string
	// Status — статус файла: active, trashed
	Status FileStatus
	// CreatedAt — время создания записи (задаётся БД)
	CreatedAt time.Time
	// CreatedBy — UUID создавшего запись
	CreatedBy string
}
