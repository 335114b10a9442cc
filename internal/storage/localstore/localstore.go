// Пакет localstore — Storage Backend на локальной файловой системе.
// Streaming-запись через temp файл с fsync и атомарным rename,
// date-partitioned раскладка директорий (YYYY/MM/DD).
package localstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clizioguedes/data-up-server/internal/storage"
)

// Store — локальный Storage Backend.
type Store struct {
	// dataDir — корневая директория хранения артефактов (DUP_DATA_DIR)
	dataDir string
}

// New создаёт локальный backend. Проверяет и создаёт корневую директорию.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Capability — локальный backend отдаёт содержимое напрямую.
func (s *Store) Capability() storage.Capability {
	return storage.CapabilityStream
}

// Store записывает поток на диск под сгенерированным путём.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется — частично записанных артефактов не остаётся.
func (s *Store) Store(_ context.Context, r io.Reader, suggestedName, mediaType string) (*storage.StoredArtifact, error) {
	now := time.Now().UTC()
	relPath := storage.GeneratePath(suggestedName, now)
	fullPath := filepath.Join(s.dataDir, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории артефакта: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &storage.StoredArtifact{
		StoragePath:  relPath,
		Size:         size,
		ContentType:  mediaType,
		OriginalName: suggestedName,
		Checksum:     storage.Stamp(suggestedName, size, now),
	}, nil
}

// Delete удаляет артефакт с диска.
// Возвращает nil, если файл уже не существует (идемпотентность).
func (s *Store) Delete(_ context.Context, path string) error {
	err := os.Remove(filepath.Join(s.dataDir, filepath.FromSlash(path)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления артефакта %s: %w", path, err)
	}
	return nil
}

// Exists проверяет существование артефакта на диске.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dataDir, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки артефакта %s: %w", path, err)
	}
	return true, nil
}

// ResolveURL не поддерживается локальным backend'ом — содержимое
// отдаётся напрямую через Open.
func (s *Store) ResolveURL(_ context.Context, _ string) (string, error) {
	return "", storage.ErrNoURL
}

// Open открывает артефакт для чтения (streaming download).
// Вызывающий код обязан закрыть ReadCloser.
func (s *Store) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dataDir, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("артефакт не найден: %s", path)
		}
		return nil, fmt.Errorf("ошибка открытия артефакта %s: %w", path, err)
	}
	return f, nil
}

// Walk обходит все артефакты backend'а и вызывает fn с относительным путём
// и временем модификации. Temp файлы (.tmp) пропускаются.
// Используется sweeper'ом для поиска осиротевших артефактов.
func (s *Store) Walk(fn func(relPath string, modTime time.Time) error) error {
	return filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.ModTime())
	})
}

// DataDir возвращает путь к корневой директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Проверка соответствия интерфейсам на этапе компиляции.
var (
	_ storage.Backend  = (*Store)(nil)
	_ storage.Streamer = (*Store)(nil)
)
