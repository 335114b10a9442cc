package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/clizioguedes/data-up-server/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `file_id, name, content_type, size, checksum,
	storage_path, folder_id, owner_id, status, created_at, created_by`

// ListParams — параметры листинга файлов.
// Фильтры — указатели, nil = фильтр не применяется.
type ListParams struct {
	// Status — фильтр по статусу (active/trashed)
	Status *string
	// FolderID — фильтр по папке (UUID)
	FolderID *string
	// OwnerID — фильтр по владельцу (UUID)
	OwnerID *string
	// SortBy — поле сортировки: created_at, name, size
	SortBy string
	// SortOrder — направление: asc, desc
	SortOrder string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// FileRepository — интерфейс доступа к таблице files.
type FileRepository interface {
	// Insert вставляет запись файла. CreatedAt заполняется значением из БД.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// GetByID возвращает файл по UUID или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// List возвращает страницу файлов и общее количество с теми же фильтрами.
	List(ctx context.Context, params ListParams) ([]*model.FileRecord, int, error)
	// UpdateStatus обновляет статус файла (soft delete → trashed).
	UpdateStatus(ctx context.Context, fileID string, status model.FileStatus) error
	// Delete физически удаляет запись файла.
	Delete(ctx context.Context, fileID string) error
	// ExistsByStoragePath проверяет, ссылается ли какая-либо запись на путь артефакта.
	// Используется sweeper'ом для поиска осиротевших артефактов.
	ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Insert вставляет запись файла и читает created_at из БД.
func (r *fileRepo) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (file_id, name, content_type, size, checksum,
			storage_path, folder_id, owner_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.FileID, rec.Name, rec.ContentType, rec.Size, rec.Checksum,
		rec.StoragePath, rec.FolderID, rec.OwnerID, rec.Status, rec.CreatedBy,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка вставки файла: %w", err)
	}
	return nil
}

// GetByID возвращает файл по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE file_id = $1`, fileColumns)

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, fileID).Scan(
		&f.FileID, &f.Name, &f.ContentType, &f.Size, &f.Checksum,
		&f.StoragePath, &f.FolderID, &f.OwnerID, &f.Status, &f.CreatedAt, &f.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// List возвращает страницу файлов с фильтрами, сортировкой и пагинацией
// плюс общее количество записей с теми же фильтрами.
func (r *fileRepo) List(ctx context.Context, params ListParams) ([]*model.FileRecord, int, error) {
	where, args := buildListWhere(params, 1)
	argNum := len(args) + 1

	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM files %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, where, orderBy, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка листинга файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.FileID, &f.Name, &f.ContentType, &f.Size, &f.Checksum,
			&f.StoragePath, &f.FolderID, &f.OwnerID, &f.Status, &f.CreatedAt, &f.CreatedBy,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Запрос общего количества (с теми же фильтрами, без LIMIT/OFFSET)
	countWhere, countArgs := buildListWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	return result, total, nil
}

// UpdateStatus обновляет статус файла.
func (r *fileRepo) UpdateStatus(ctx context.Context, fileID string, status model.FileStatus) error {
	query := `UPDATE files SET status = $2 WHERE file_id = $1 AND status != $2`

	tag, err := r.db.Exec(ctx, query, fileID, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete физически удаляет запись файла.
func (r *fileRepo) Delete(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistsByStoragePath проверяет наличие записи, ссылающейся на путь артефакта.
func (r *fileRepo) ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE storage_path = $1)`, storagePath,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки пути артефакта: %w", err)
	}
	return exists, nil
}

// buildListWhere строит WHERE-условие и аргументы для листинга файлов.
// startArg — номер первого $-параметра (для корректной нумерации).
func buildListWhere(params ListParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Фильтр по статусу
	if params.Status != nil && *params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *params.Status)
		argNum++
	}

	// Фильтр по папке
	if params.FolderID != nil && *params.FolderID != "" {
		conditions = append(conditions, fmt.Sprintf("folder_id = $%d", argNum))
		args = append(args, *params.FolderID)
		argNum++
	}

	// Фильтр по владельцу
	if params.OwnerID != nil && *params.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, *params.OwnerID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// Поле сортировки по умолчанию.
const defaultSortColumn = "created_at"

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// Предотвращает SQL-инъекции — только разрешённые значения.
func buildOrderBy(sortBy, sortOrder string) string {
	column := defaultSortColumn
	switch sortBy {
	case "name":
		column = "name"
	case "size":
		column = "size"
	case defaultSortColumn:
		column = defaultSortColumn
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}
