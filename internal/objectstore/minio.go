package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// MinioClient implements Client against MinIO or any S3-compatible endpoint
type MinioClient struct {
	client *minio.Client
	bucket string
}

// NewMinioClient creates a MinIO-backed client
func NewMinioClient(cfg config.ObjectStoreConfig) (*MinioClient, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	if endpoint == "" {
		return nil, fmt.Errorf("minio provider requires an endpoint")
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	cl, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &MinioClient{client: cl, bucket: cfg.Bucket}, nil
}

// List lists the folder without recursion; the listing channel is drained fully
func (m *MinioClient) List(ctx context.Context, prefix string) ([]models.ObjectDescriptor, error) {
	var objs []models.ObjectDescriptor
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    FolderPrefix(prefix),
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, obj.Err)
		}
		objs = append(objs, models.ObjectDescriptor{
			Key:          obj.Key,
			LastModified: obj.LastModified,
			Size:         obj.Size,
		})
	}

	return DirectChildren(prefix, objs), nil
}

// Get downloads an object into memory
func (m *MinioClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (m *MinioClient) Close() error {
	return nil
}
