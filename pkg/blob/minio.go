package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds MinIO connection settings
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore stores objects in a MinIO bucket
// MinIOを使用したストア
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOStore creates a MinIO client for the bucket
// 新しいMinIOストアを作成
func NewMinIOStore(cfg MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("MinIOのエンドポイントが指定されていません")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("バケット名が指定されていません")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIOクライアント作成に失敗しました: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it doesn't exist
// バケットが無ければ作成
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("バケット確認に失敗しました: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("バケット作成に失敗しました: %w", err)
	}
	s.logger.Info("バケットを作成しました", zap.String("bucket", s.bucket))
	return nil
}

// Put uploads the object
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("アップロードに失敗しました: %w", err)
	}
	return nil
}

// Get opens the object after checking it exists
func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, nil, s.mapError(key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.mapError(key, err)
	}
	return obj, &Object{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ModTime:     info.LastModified,
	}, nil
}

// Delete removes the object
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if errors.Is(s.mapError(key, err), ErrNotFound) {
			return nil
		}
		return fmt.Errorf("削除に失敗しました: %w", err)
	}
	return nil
}

// List lists objects under prefix recursively
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]Object, error) {
	out := []Object{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("一覧取得に失敗しました: %w", info.Err)
		}
		out = append(out, Object{
			Key:         info.Key,
			Size:        info.Size,
			ContentType: info.ContentType,
			ModTime:     info.LastModified,
		})
	}
	return out, nil
}

func (s *MinIOStore) mapError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("MinIO操作に失敗しました: %w", err)
}
