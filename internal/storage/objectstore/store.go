package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Store is read access to S3-compatible object storage bound to one bucket.
// Inspection workflows write; the service only reads.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under prefix. When recursive is false, nested
	// "directories" are returned once as keys ending in "/".
	List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// IsDir reports whether the entry is a common prefix from a non-recursive
// listing.
func (o ObjectInfo) IsDir() bool {
	return len(o.Key) > 0 && o.Key[len(o.Key)-1] == '/'
}

// ReadAll fetches a whole object, refusing anything larger than limit bytes.
func ReadAll(ctx context.Context, s Store, key string, limit int64) ([]byte, error) {
	rc, _, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New("object exceeds size limit")
	}
	return data, nil
}
