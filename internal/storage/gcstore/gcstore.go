// Пакет gcstore — Storage Backend на Google Cloud Storage.
// Redirect-backend: содержимое отдаётся клиенту по V4 signed URL,
// а не проксируется через сервис.
package gcstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/clizioguedes/data-up-server/internal/storage"
)

// Store — GCS Storage Backend.
type Store struct {
	client *gcs.Client
	// bucket — имя bucket'а (DUP_GCS_BUCKET)
	bucket string
	// signerEmail — service account для подписи URL (DUP_GCS_SIGNER_EMAIL)
	signerEmail string
	// privateKey — приватный ключ service account (DUP_GCS_PRIVATE_KEY)
	privateKey string
	// urlTTL — время жизни signed URL (DUP_GCS_URL_TTL)
	urlTTL time.Duration
}

// New создаёт GCS backend. Клиент использует Application Default Credentials.
func New(ctx context.Context, bucket, signerEmail, privateKey string, urlTTL time.Duration) (*Store, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCS клиента: %w", err)
	}

	return &Store{
		client:      client,
		bucket:      bucket,
		signerEmail: signerEmail,
		privateKey:  privateKey,
		urlTTL:      urlTTL,
	}, nil
}

// Capability — GCS backend отдаёт содержимое по redirect.
func (s *Store) Capability() storage.Capability {
	return storage.CapabilityRedirect
}

// Store записывает поток в объект под сгенерированным ключом.
// При ошибке посреди записи объект удаляется best effort —
// частично записанных артефактов не остаётся.
func (s *Store) Store(ctx context.Context, r io.Reader, suggestedName, mediaType string) (*storage.StoredArtifact, error) {
	now := time.Now().UTC()
	key := storage.GeneratePath(suggestedName, now)

	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = mediaType

	size, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		_ = obj.Delete(ctx)
		return nil, fmt.Errorf("ошибка записи объекта %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		_ = obj.Delete(ctx)
		return nil, fmt.Errorf("ошибка завершения записи объекта %s: %w", key, err)
	}

	return &storage.StoredArtifact{
		StoragePath:  key,
		Size:         size,
		ContentType:  mediaType,
		OriginalName: suggestedName,
		Checksum:     storage.Stamp(suggestedName, size, now),
	}, nil
}

// Delete удаляет объект. Отсутствие объекта — не ошибка (идемпотентность).
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", path, err)
	}
	return nil
}

// Exists проверяет существование объекта.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта %s: %w", path, err)
	}
	return true, nil
}

// ResolveURL генерирует V4 signed URL для скачивания объекта.
func (s *Store) ResolveURL(_ context.Context, path string) (string, error) {
	// Восстанавливаем переводы строк в приватном ключе
	// (в env-переменной они экранированы как \n).
	key := strings.ReplaceAll(s.privateKey, `\n`, "\n")

	url, err := gcs.SignedURL(s.bucket, path, &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(s.urlTTL),
		GoogleAccessID: s.signerEmail,
		PrivateKey:     []byte(key),
	})
	if err != nil {
		return "", fmt.Errorf("ошибка подписи URL для %s: %w", path, err)
	}
	return url, nil
}

// Close закрывает GCS клиент.
func (s *Store) Close() error {
	return s.client.Close()
}

// Проверка соответствия интерфейсам на этапе компиляции.
// io.Closer нужен main'у: клиент закрывается при остановке сервиса.
var (
	_ storage.Backend = (*Store)(nil)
	_ io.Closer       = (*Store)(nil)
)
