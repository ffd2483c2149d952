package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxAttachmentBytes int64 = 20 * 1024 * 1024

// AttachmentStorage stores knowledge item attachments in MinIO/S3.
type AttachmentStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewAttachmentStorageFromEnv initialises storage from MINIO_* environment
// variables. A nil result with nil error means object storage is not
// configured and attachment uploads are disabled.
func NewAttachmentStorageFromEnv() (*AttachmentStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &AttachmentStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Upload stores the file under attachments/<itemID>/<uuid><ext> and returns
// the object URL, the resolved content type and the stored size.
func (s *AttachmentStorage) Upload(ctx context.Context, fileHeader *multipart.FileHeader, itemID uint64) (string, string, int64, error) {
	if s == nil || s.client == nil {
		return "", "", 0, errors.New("storage: attachment storage not configured")
	}
	if fileHeader == nil {
		return "", "", 0, errors.New("storage: attachment file not provided")
	}
	if fileHeader.Size > 0 && fileHeader.Size > maxAttachmentBytes {
		return "", "", 0, fmt.Errorf("storage: attachment exceeds %d bytes", maxAttachmentBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", "", 0, fmt.Errorf("storage: open attachment: %w", err)
	}
	defer src.Close()

	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(src, maxAttachmentBytes+1))
	if err != nil {
		return "", "", 0, fmt.Errorf("storage: read attachment: %w", err)
	}
	if written > maxAttachmentBytes {
		return "", "", 0, fmt.Errorf("storage: attachment exceeds %d bytes", maxAttachmentBytes)
	}

	data := buffer.Bytes()
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !isAllowedAttachmentContent(contentType) {
		return "", "", 0, fmt.Errorf("storage: unsupported attachment content type %q", contentType)
	}

	objectName := path.Join(
		"attachments",
		fmt.Sprintf("%d", itemID),
		uuid.NewString()+attachmentExtension(fileHeader.Filename, contentType),
	)

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = s.client.PutObject(uploadCtx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("storage: upload attachment: %w", err)
	}

	return s.buildPublicURL(objectName), contentType, int64(len(data)), nil
}

// Remove deletes the object pointed to by the provided URL/object path.
func (s *AttachmentStorage) Remove(ctx context.Context, objectURL string) error {
	if s == nil || s.client == nil {
		return nil
	}
	objectName, ok := s.objectNameFromURL(objectURL)
	if !ok {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download URL for the stored object.
func (s *AttachmentStorage) PresignedURL(ctx context.Context, raw string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return strings.TrimSpace(raw), nil
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	objectName, ok := s.objectNameFromURL(trimmed)
	if !ok {
		return trimmed, nil
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	signed, err := s.client.PresignedGetObject(presignCtx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

func (s *AttachmentStorage) buildPublicURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.publicURL, "/"), s.bucket, strings.TrimPrefix(objectName, "/"))
}

func (s *AttachmentStorage) objectNameFromURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	stripBucket := func(candidate string) string {
		candidate = strings.TrimPrefix(candidate, "/")
		candidate = strings.TrimPrefix(candidate, s.bucket+"/")
		return strings.TrimPrefix(candidate, "/")
	}

	base := strings.TrimSuffix(s.publicURL, "/")
	if base != "" && strings.HasPrefix(trimmed, base) {
		if candidate := stripBucket(strings.TrimPrefix(trimmed, base)); candidate != "" {
			return candidate, true
		}
	}

	if target, err := url.Parse(trimmed); err == nil {
		if baseURL, err := url.Parse(base); err == nil && baseURL.Host != "" && baseURL.Host == target.Host {
			if candidate := stripBucket(target.Path); candidate != "" {
				return candidate, true
			}
		}
	}

	if !strings.Contains(trimmed, "://") {
		if candidate := stripBucket(trimmed); candidate != "" {
			return candidate, true
		}
	}

	return "", false
}

func isAllowedAttachmentContent(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	switch normalized {
	case "image/png", "image/jpeg", "image/webp", "image/gif",
		"application/pdf", "application/json", "application/zip",
		"text/plain", "text/markdown", "text/csv", "text/html":
		return true
	default:
		return false
	}
}

func attachmentExtension(filename, contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	case "application/json":
		return ".json"
	case "application/zip":
		return ".zip"
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	case "text/csv":
		return ".csv"
	}
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ".bin"
	}
	return ext
}
