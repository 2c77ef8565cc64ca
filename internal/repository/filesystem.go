package repository

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/pkg/hash"
)

// FilesystemRepository хранит артефакты на локальном диске по пути,
// производному от контрольной суммы. Протокол записи: временный файл ->
// проверка суммы -> атомарный rename. Читатель либо видит целый файл по
// финальному пути, либо не видит ничего.
type FilesystemRepository struct {
	root   string
	logger zerolog.Logger
}

func NewFilesystemRepository(root string, logger zerolog.Logger) (*FilesystemRepository, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	logger.Info().Str("root", root).Msg("Filesystem artifact storage ready")

	return &FilesystemRepository{
		root:   root,
		logger: logger,
	}, nil
}

func (r *FilesystemRepository) objectPath(checksum string) (string, error) {
	algorithm, digest, err := hash.Parse(checksum)
	if err != nil {
		return "", err
	}
	if len(digest) < 2 {
		return "", fmt.Errorf("checksum digest too short: %q", checksum)
	}
	// Раскладка: <root>/<algo>/<ab>/<digest>
	return filepath.Join(r.root, string(algorithm), digest[:2], digest), nil
}

func (r *FilesystemRepository) Put(ctx context.Context, checksum string, data []byte) (bool, error) {
	finalPath, err := r.objectPath(checksum)
	if err != nil {
		return false, err
	}

	// Конкурентный Put того же содержимого безопасен: второй писатель
	// видит финальный путь и выбрасывает свою временную запись.
	if _, err := os.Stat(finalPath); err == nil {
		return false, nil
	}

	tmp, err := os.CreateTemp(filepath.Join(r.root, "tmp"), "artifact-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return false, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return false, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to close artifact: %w", err)
	}

	// Сверяем сумму до публикации
	ok, err := hash.Verify(data, checksum)
	if err != nil {
		os.Remove(tmpPath)
		return false, err
	}
	if !ok {
		os.Remove(tmpPath)
		return false, fmt.Errorf("artifact bytes do not match checksum %s", checksum)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Повторная проверка после подготовки: гонку выигрывает первый rename
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		return false, nil
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("failed to publish artifact: %w", err)
	}

	return true, nil
}

func (r *FilesystemRepository) Get(ctx context.Context, checksum string) ([]byte, error) {
	path, err := r.objectPath(checksum)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return data, nil
}

func (r *FilesystemRepository) Exists(ctx context.Context, checksum string) (bool, error) {
	path, err := r.objectPath(checksum)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return true, nil
}

func (r *FilesystemRepository) Remove(ctx context.Context, checksum string) error {
	path, err := r.objectPath(checksum)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

func (r *FilesystemRepository) List(ctx context.Context) ([]models.StoredObject, error) {
	var objects []models.StoredObject

	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		// Путь <algo>/<ab>/<digest> -> сумма "<algo>:<digest>"
		algorithm := filepath.Dir(filepath.Dir(rel))
		digest := filepath.Base(rel)
		checksum := fmt.Sprintf("%s:%s", algorithm, digest)
		if !hash.IsValid(checksum) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		objects = append(objects, models.StoredObject{
			Checksum:   checksum,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	return objects, nil
}

func (r *FilesystemRepository) Info(ctx context.Context) (*models.StorageInfo, error) {
	objects, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}

	return &models.StorageInfo{
		Provider:    "filesystem",
		Location:    r.root,
		ObjectCount: int64(len(objects)),
		UsedSpace:   totalSize,
	}, nil
}
