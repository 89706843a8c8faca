package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// S3Client implements Client using the AWS S3 API
type S3Client struct {
	client s3iface.S3API
	bucket string
}

// NewS3Client creates a new S3 client. A custom endpoint enables S3-compatible stores.
func NewS3Client(cfg config.ObjectStoreConfig) (*S3Client, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
	}

	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3ClientWithAPI(s3.New(sess), cfg.Bucket), nil
}

// NewS3ClientWithAPI wraps an existing S3 API implementation
func NewS3ClientWithAPI(api s3iface.S3API, bucket string) *S3Client {
	return &S3Client{client: api, bucket: bucket}
}

// List pages through every object under the prefix
func (c *S3Client) List(ctx context.Context, prefix string) ([]models.ObjectDescriptor, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(FolderPrefix(prefix)),
	}

	var objs []models.ObjectDescriptor
	err := c.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objs = append(objs, models.ObjectDescriptor{
				Key:          aws.StringValue(obj.Key),
				LastModified: aws.TimeValue(obj.LastModified),
				Size:         aws.Int64Value(obj.Size),
			})
		}
		return true
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchBucket {
			return nil, fmt.Errorf("bucket %s does not exist: %w", c.bucket, err)
		}
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}

	return DirectChildren(prefix, objs), nil
}

// Get downloads an object into memory
func (c *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if result.ContentLength != nil && *result.ContentLength > 0 {
		buf.Grow(int(*result.ContentLength))
	}
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

// Close releases the client; the S3 client holds no connections of its own
func (c *S3Client) Close() error {
	return nil
}
