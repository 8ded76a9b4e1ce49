package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

type StorageService struct {
	client *storage.Client
	bucket string
}

func NewStorageService(ctx context.Context, bucket string) (*StorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageService{
		client: client,
		bucket: bucket,
	}, nil
}

func (ss *StorageService) Close() error {
	return ss.client.Close()
}

// UploadImage writes the file under todos/{timestamp}-{filename} and returns
// a retrievable URL. If the caller's subsequent document write fails the blob
// is left behind; nothing references it and nothing cleans it up.
func (ss *StorageService) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	object := objectName(filename, time.Now())

	w := ss.client.Bucket(ss.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", ss.bucket, object), nil
}

func objectName(filename string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("todos/%d-%s", now.UnixMilli(), base)
}
