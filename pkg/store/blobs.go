package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Blobs uploads media files to an S3-compatible bucket.
type Blobs struct {
	client objectPutter
	mc     *minio.Client
	bucket string
	region string
	now    func() time.Time
}

func NewBlobs(cfg BlobConfig) (*Blobs, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Blobs{client: mc, mc: mc, bucket: cfg.Bucket, region: cfg.Region, now: time.Now}, nil
}

// EnsureBucket creates the bucket when it is missing.
func (b *Blobs) EnsureBucket(ctx context.Context) error {
	if b.mc == nil {
		return nil
	}
	ok, err := b.mc.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", b.bucket, err)
	}
	if ok {
		return nil
	}
	if err := b.mc.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", b.bucket, err)
	}
	return nil
}

// BlobKey is "<chatId>/<epochMillis>_<basename>".
func BlobKey(chatID, localPath string, at time.Time) string {
	return fmt.Sprintf("%s/%d_%s", chatID, at.UnixMilli(), filepath.Base(localPath))
}

// Upload stores the file at localPath and returns its object key.
func (b *Blobs) Upload(ctx context.Context, localPath, chatID, mimeType string) (string, error) {
	key := BlobKey(chatID, localPath, b.now())
	_, err := b.client.FPutObject(ctx, b.bucket, key, localPath, minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
