package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/pkg/hash"
)

// ErrArtifactNotFound возвращают бэкенды, когда объекта с такой суммой нет.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStorage — бэкенд хранилища артефактов, адресуемых контрольной суммой.
// Артефакт неизменяем: Put с уже существующей суммой ничего не перезаписывает.
type ArtifactStorage interface {
	// Put сохраняет артефакт под его суммой. Возвращает false, если объект
	// уже существовал и запись была отброшена (дедупликация).
	Put(ctx context.Context, checksum string, data []byte) (bool, error)
	Get(ctx context.Context, checksum string) ([]byte, error)
	Exists(ctx context.Context, checksum string) (bool, error)
	// Remove используется только сборщиком мусора.
	Remove(ctx context.Context, checksum string) error
	List(ctx context.Context) ([]models.StoredObject, error)
	Info(ctx context.Context) (*models.StorageInfo, error)
}

// StorageRepository оборачивает бэкенд логированием и проверкой целостности
// на чтении: несовпадение суммы — повреждение хранилища, не деградируем молча.
type StorageRepository struct {
	backend ArtifactStorage
	logger  zerolog.Logger
}

func NewStorageRepository(backend ArtifactStorage, logger zerolog.Logger) *StorageRepository {
	return &StorageRepository{
		backend: backend,
		logger:  logger,
	}
}

func (r *StorageRepository) Put(ctx context.Context, checksum string, data []byte) (bool, error) {
	if !hash.IsValid(checksum) {
		return false, fmt.Errorf("refusing to store artifact with malformed checksum %q", checksum)
	}

	written, err := r.backend.Put(ctx, checksum, data)
	if err != nil {
		return false, err
	}

	if written {
		r.logger.Debug().
			Str("checksum", checksum).
			Int("size", len(data)).
			Msg("Artifact stored")
	} else {
		r.logger.Debug().
			Str("checksum", checksum).
			Msg("Artifact already stored, write discarded")
	}

	return written, nil
}

func (r *StorageRepository) Get(ctx context.Context, checksum string) ([]byte, error) {
	data, err := r.backend.Get(ctx, checksum)
	if err != nil {
		return nil, err
	}

	ok, err := hash.Verify(data, checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to verify artifact: %w", err)
	}
	if !ok {
		r.logger.Error().
			Str("checksum", checksum).
			Msg("Artifact checksum mismatch on read")
		return nil, models.Integrity(models.Scope("", "", ""),
			fmt.Sprintf("artifact %s failed checksum verification", checksum), nil)
	}

	return data, nil
}

func (r *StorageRepository) Exists(ctx context.Context, checksum string) (bool, error) {
	return r.backend.Exists(ctx, checksum)
}

func (r *StorageRepository) Remove(ctx context.Context, checksum string) error {
	return r.backend.Remove(ctx, checksum)
}

func (r *StorageRepository) List(ctx context.Context) ([]models.StoredObject, error) {
	return r.backend.List(ctx)
}

func (r *StorageRepository) Info(ctx context.Context) (*models.StorageInfo, error) {
	return r.backend.Info(ctx)
}
