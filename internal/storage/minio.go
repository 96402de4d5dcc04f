package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"dating-match-go/internal/config"

	"github.com/gofrs/uuid/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadProfileImage 上传用户头像，返回对象key
	UploadProfileImage(ctx context.Context, userID uint64, fileExt string, reader io.Reader, fileSize int64) (string, error)

	// GetPresignedURL 获取对象的预签名访问URL
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)

	// DeleteObject 删除对象
	DeleteObject(ctx context.Context, objectKey string) error
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能，存放用户头像
type MinIO struct {
	client        *minio.Client
	cfg           *config.MinIOConfig
	profileBucket string
	logger        *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	profileBucket := cfg.ProfileBucket
	if profileBucket == "" {
		profileBucket = "profile-images"
	}

	m := &MinIO{
		client:        client,
		cfg:           cfg,
		profileBucket: profileBucket,
		logger:        logger,
	}

	// 确保存储桶存在
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx, profileBucket); err != nil {
		return nil, err
	}

	m.logger.Printf("[MinIO] 客户端初始化成功, endpoint: %s, profileBucket: %s", cfg.Endpoint, profileBucket)
	return m, nil
}

// ensureBucket 确保存储桶存在，不存在则创建
func (m *MinIO) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 '%s' 失败: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 '%s' 失败: %w", bucket, err)
	}
	m.logger.Printf("[MinIO] 已创建存储桶: %s", bucket)
	return nil
}

// contentTypeForExt 根据扩展名推断Content-Type
func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// UploadProfileImage 上传用户头像
// 对象key使用UUIDv7保证时间有序，便于按前缀巡检
func (m *MinIO) UploadProfileImage(ctx context.Context, userID uint64, fileExt string, reader io.Reader, fileSize int64) (string, error) {
	if fileExt == "" {
		fileExt = ".jpg"
	}
	if !strings.HasPrefix(fileExt, ".") {
		fileExt = "." + fileExt
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成对象ID失败: %w", err)
	}
	objectKey := fmt.Sprintf("avatars/%d/%s%s", userID, id.String(), fileExt)

	_, err = m.client.PutObject(ctx, m.profileBucket, objectKey, reader, fileSize, minio.PutObjectOptions{
		ContentType: contentTypeForExt(fileExt),
	})
	if err != nil {
		return "", fmt.Errorf("上传头像失败: %w", err)
	}

	m.logger.Printf("[MinIO] 头像上传成功: %s", objectKey)
	return objectKey, nil
}

// GetPresignedURL 获取对象的预签名访问URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("对象key不能为空")
	}

	u, err := m.client.PresignedGetObject(ctx, m.profileBucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名URL失败: %w", err)
	}
	return u.String(), nil
}

// DeleteObject 删除对象
func (m *MinIO) DeleteObject(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.profileBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象失败: %w", err)
	}
	return nil
}
