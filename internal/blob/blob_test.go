package blob

import (
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestObjectKey(t *testing.T) {
	key := objectKey("acme", "apollo", "hash_1", "diagram.png")
	if key != "acme/apollo/hash_1/diagram.png" {
		t.Fatalf("unexpected object key %q", key)
	}
}

func TestAttachmentFromInfo(t *testing.T) {
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	item := attachmentFromInfo(minio.ObjectInfo{
		Key:          "acme/apollo/hash_1/diagram.png",
		Size:         2048,
		ContentType:  "image/png",
		LastModified: updated,
	})
	if item.Name != "diagram.png" {
		t.Errorf("expected base name diagram.png, got %q", item.Name)
	}
	if item.Size != 2048 {
		t.Errorf("expected size 2048, got %d", item.Size)
	}
	if item.ContentType != "image/png" {
		t.Errorf("expected content type image/png, got %q", item.ContentType)
	}
	if !item.UpdatedAt.Equal(updated) {
		t.Errorf("expected updatedAt %v, got %v", updated, item.UpdatedAt)
	}
}
