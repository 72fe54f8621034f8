// Package storage persists uploaded scene images. Two backends:
// local disk for development and S3 for deployments.
package storage

import (
	"context"
	"io"
)

// Service stores image blobs and resolves them to client-fetchable
// URLs. Save returns an opaque reference that is stored in the DB;
// URL turns a reference back into something a browser can load.
type Service interface {
	Save(ctx context.Context, sandboxID, filename string, r io.Reader, contentType string) (string, error)
	URL(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}
