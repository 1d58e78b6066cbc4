package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultPresignExpiry = 24 * time.Hour

// MinioArchive 基于 MinIO 的导出文件归档
type MinioArchive struct {
	client  *minio.Client
	bucket  string
	presign time.Duration
}

// NewMinioArchive 未配置 endpoint 时返回 nil, nil
func NewMinioArchive(cfg config.MinIOConfig) (*MinioArchive, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return newMinioArchive(client, cfg.Bucket, cfg.PresignExpiry), nil
}

func newMinioArchive(client *minio.Client, bucket string, presign time.Duration) *MinioArchive {
	if presign <= 0 {
		presign = defaultPresignExpiry
	}
	return &MinioArchive{client: client, bucket: bucket, presign: presign}
}

// EnsureBucket 桶不存在时创建
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put 上传并返回限时下载地址
func (a *MinioArchive) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	u, err := a.client.PresignedGetObject(ctx, a.bucket, object, a.presign, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return u.String(), nil
}
