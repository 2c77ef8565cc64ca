package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/pkg/hash"
)

// MinIORepository — бэкенд хранилища артефактов поверх MinIO/S3.
// Ключ объекта производен от контрольной суммы: <algo>/<hex>.
type MinIORepository struct {
	client *minio.Client
	bucket string
	region string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIORepository(endpoint, accessKey, secretKey, bucket, region string, useSSL bool, connectTimeout time.Duration, logger zerolog.Logger) (*MinIORepository, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	repo := &MinIORepository{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger,
	}

	// Best-effort bootstrap: на старте не валим сервис, если MinIO ещё
	// не готов — бакет будет создан при первом обращении.
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := repo.ensureBucket(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Msg("MinIO not ready during startup; will retry on demand")
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("Connected to MinIO")

	return repo, nil
}

func (r *MinIORepository) ensureBucket(ctx context.Context) error {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.bucketEnsured {
		return nil
	}

	backoff := 500 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("minio not ready: %w", err)
		}

		exists, err := r.client.BucketExists(ctx, r.bucket)
		if err != nil {
			time.Sleep(backoff)
			continue
		}

		if !exists {
			if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region}); err != nil {
				time.Sleep(backoff)
				continue
			}
			r.logger.Info().Str("bucket", r.bucket).Msg("Created new bucket")
		}

		r.bucketEnsured = true
		return nil
	}
}

func objectKey(checksum string) (string, error) {
	algorithm, digest, err := hash.Parse(checksum)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", algorithm, digest), nil
}

func checksumFromKey(key string) string {
	return strings.Replace(key, "/", ":", 1)
}

func (r *MinIORepository) Put(ctx context.Context, checksum string, data []byte) (bool, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return false, err
	}

	key, err := objectKey(checksum)
	if err != nil {
		return false, err
	}

	// Идемпотентность: существующий объект не перезаписываем
	exists, err := r.Exists(ctx, checksum)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	uploadInfo, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-tar",
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload artifact: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("key", key).
		Str("etag", uploadInfo.ETag).
		Int("size", len(data)).
		Msg("Artifact uploaded to MinIO")

	return true, nil
}

func (r *MinIORepository) Get(ctx context.Context, checksum string) ([]byte, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}

	key, err := objectKey(checksum)
	if err != nil {
		return nil, err
	}

	object, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return data, nil
}

func (r *MinIORepository) Exists(ctx context.Context, checksum string) (bool, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return false, err
	}

	key, err := objectKey(checksum)
	if err != nil {
		return false, err
	}

	_, err = r.client.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check artifact existence: %w", err)
	}

	return true, nil
}

func (r *MinIORepository) Remove(ctx context.Context, checksum string) error {
	if err := r.ensureBucket(ctx); err != nil {
		return err
	}

	key, err := objectKey(checksum)
	if err != nil {
		return err
	}

	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("key", key).
		Msg("Artifact removed from MinIO")

	return nil
}

func (r *MinIORepository) List(ctx context.Context) ([]models.StoredObject, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}

	var objects []models.StoredObject

	objectCh := r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", object.Err)
		}

		checksum := checksumFromKey(object.Key)
		if !hash.IsValid(checksum) {
			continue
		}

		objects = append(objects, models.StoredObject{
			Checksum:   checksum,
			Size:       object.Size,
			ModifiedAt: object.LastModified,
		})
	}

	return objects, nil
}

func (r *MinIORepository) Info(ctx context.Context) (*models.StorageInfo, error) {
	objects, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}

	return &models.StorageInfo{
		Provider:    "minio",
		Location:    r.bucket,
		ObjectCount: int64(len(objects)),
		UsedSpace:   totalSize,
	}, nil
}
