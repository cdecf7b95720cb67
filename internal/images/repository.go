package images

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("image not found")
	ErrDuplicate = errors.New("image with the same name and size already exists")
)

type Stats struct {
	Count      int64 `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Repository stores image records. Insert must reject a second record with the same
// (name, size) with ErrDuplicate.
type Repository interface {
	FindByNameAndSize(ctx context.Context, name string, size int64) (*Image, error)
	Insert(ctx context.Context, row *NewImage) (*Image, error)
	GetByID(ctx context.Context, id string) (*Image, error)
	List(ctx context.Context, limit, offset int) ([]*Image, error)
	Stats(ctx context.Context) (*Stats, error)
}
