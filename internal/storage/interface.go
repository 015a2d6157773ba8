package storage

import (
	"context"
	"errors"
	"path"
)

// ErrObjectNotFound is returned by Get for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores task result archives.
type ObjectStorage interface {
	// Put writes an object, replacing any previous version.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Get reads an object.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns where the object can be fetched from
	URL(key string) string
}

// TaskResultKey is the object key of a task's archived result.
func TaskResultKey(prefix, ownerUserID, taskID string) string {
	return path.Join(prefix, ownerUserID, taskID+".json")
}
