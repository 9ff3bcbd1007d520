package docstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Storage keeps the original uploaded documents so a processing run can
// always be replayed from the source bytes.
type Storage interface {
	// Upload stores a file and returns the storage path.
	Upload(ctx context.Context, documentID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path.
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path.
	Delete(ctx context.Context, storagePath string) error
}

// Type selects the storage backend.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config holds storage backend settings.
type Config struct {
	Type      Type
	LocalPath string

	S3Bucket   string
	S3Region   string
	S3Endpoint string // optional, for MinIO-style deployments
	AccessKey  string
	SecretKey  string
}

// New creates a storage instance from configuration.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket")
		}
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// storagePath generates a unique storage path for a document.
func storagePath(documentID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filename, ext)
	baseName = strings.ReplaceAll(baseName, " ", "_")
	baseName = strings.ReplaceAll(baseName, "/", "_")
	baseName = strings.ReplaceAll(baseName, "\\", "_")
	return fmt.Sprintf("%s/%s_%s%s", shard(documentID), documentID, baseName, ext)
}

// shard spreads documents over prefix directories.
func shard(documentID string) string {
	if len(documentID) < 2 {
		return "00"
	}
	return documentID[:2]
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
