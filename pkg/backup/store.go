// Package backup implements the BackupEngine (§4.5): it produces
// self-describing tenant archives, stores them in an S3-compatible object
// store under a retention class, and reverses the process on restore.
package backup

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the narrow slice of the S3 API the backup engine needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, storageClass string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// FindKey scans kind/tenantID/ prefixes looking for a backupID, since
	// Restore only knows the tenant and backup id, not which kind produced it.
	FindKey(ctx context.Context, tenantID, backupID string) (string, error)
}

// S3Store is the aws-sdk-go-v2-backed ObjectStore implementation.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store bound to bucket.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// backupKinds is the closed set of retention classes (§4.5).
var backupKinds = []string{"daily", "weekly", "monthly", "final"}

func (s *S3Store) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, storageClass string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytesReader(body),
		Metadata:     metadata,
		StorageClass: s3StorageClass(storageClass),
	})
	return err
}

func (s *S3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return readAll(out.Body)
}

func (s *S3Store) FindKey(ctx context.Context, tenantID, backupID string) (string, error) {
	for _, kind := range backupKinds {
		prefix := fmt.Sprintf("%s/%s/", kind, tenantID)
		key := fmt.Sprintf("%s%s.tar.gz", prefix, backupID)
		if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
			return key, nil
		}
	}
	return "", fmt.Errorf("no backup %s found for tenant %s in any retention class", backupID, tenantID)
}
