package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// Client defines the object storage capabilities the ingestion pipeline needs
type Client interface {
	// List returns the direct children of prefix, oldest first.
	List(ctx context.Context, prefix string) ([]models.ObjectDescriptor, error)
	// Get downloads the full object body.
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// New creates an object store client based on configuration
func New(cfg config.ObjectStoreConfig) (Client, error) {
	switch cfg.Provider {
	case "s3":
		client, err := NewS3Client(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "minio":
		client, err := NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

// FolderPrefix turns a path-like prefix into the listing prefix for its
// direct children ("logs" and "logs/" both list "logs/").
func FolderPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// IsDirectChild reports whether key sits exactly one path segment below prefix.
// Folder placeholders ("logs/" itself, "logs/sub/") and nested keys are excluded.
func IsDirectChild(prefix, key string) bool {
	folder := FolderPrefix(prefix)
	if !strings.HasPrefix(key, folder) {
		return false
	}
	rest := key[len(folder):]
	return rest != "" && !strings.Contains(rest, "/")
}

// DirectChildren filters objs down to the direct children of prefix and
// orders them oldest first.
func DirectChildren(prefix string, objs []models.ObjectDescriptor) []models.ObjectDescriptor {
	out := make([]models.ObjectDescriptor, 0, len(objs))
	for _, obj := range objs {
		if IsDirectChild(prefix, obj.Key) {
			out = append(out, obj)
		}
	}
	SortOldestFirst(out)
	return out
}

// SortOldestFirst sorts by last-modified time ascending, ties broken by key
func SortOldestFirst(objs []models.ObjectDescriptor) {
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].LastModified.Equal(objs[j].LastModified) {
			return objs[i].LastModified.Before(objs[j].LastModified)
		}
		return objs[i].Key < objs[j].Key
	})
}

// Keys returns the object keys in order
func Keys(objs []models.ObjectDescriptor) []string {
	keys := make([]string, len(objs))
	for i, obj := range objs {
		keys[i] = obj.Key
	}
	return keys
}
