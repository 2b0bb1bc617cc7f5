// Package blob stores requirement attachments in S3-compatible object
// storage. Objects are keyed tenant/project/hashId/name, so attachments
// follow the rename-stable identifier, not the mutable ref.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	mc     *minio.Client
	bucket string
}

type Attachment struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

func objectKey(tenant, project, hashID, name string) string {
	return path.Join(tenant, project, hashID, name)
}

// Upload stores one attachment and returns its object key.
func (c *Client) Upload(ctx context.Context, tenant, project, hashID, name string, r io.Reader, size int64, contentType string) (string, error) {
	key := objectKey(tenant, project, hashID, name)
	_, err := c.mc.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment %s: %w", key, err)
	}
	return key, nil
}

// List returns the attachments stored for one requirement. Bucket listings
// do not carry content type, so each object is stat'ed for its full
// metadata.
func (c *Client) List(ctx context.Context, tenant, project, hashID string) ([]Attachment, error) {
	prefix := objectKey(tenant, project, hashID, "") + "/"
	items := make([]Attachment, 0)
	for object := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list attachments %s: %w", prefix, object.Err)
		}
		info, err := c.mc.StatObject(ctx, c.bucket, object.Key, minio.StatObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("stat attachment %s: %w", object.Key, err)
		}
		items = append(items, attachmentFromInfo(info))
	}
	return items, nil
}

func attachmentFromInfo(info minio.ObjectInfo) Attachment {
	return Attachment{
		Name:        path.Base(info.Key),
		Size:        info.Size,
		ContentType: info.ContentType,
		UpdatedAt:   info.LastModified,
	}
}

// Open streams one attachment back to the caller.
func (c *Client) Open(ctx context.Context, tenant, project, hashID, name string) (io.ReadCloser, error) {
	key := objectKey(tenant, project, hashID, name)
	object, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", key, err)
	}
	return object, nil
}

// Remove deletes one attachment.
func (c *Client) Remove(ctx context.Context, tenant, project, hashID, name string) error {
	key := objectKey(tenant, project, hashID, name)
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment %s: %w", key, err)
	}
	return nil
}
