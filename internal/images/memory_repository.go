package images

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	images map[string]*Image
	byKey  map[string]string // name/size -> id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		images: make(map[string]*Image),
		byKey:  make(map[string]string),
	}
}

func identityKey(name string, size int64) string {
	return fmt.Sprintf("%s/%d", name, size)
}

func (r *MemoryRepository) FindByNameAndSize(ctx context.Context, name string, size int64) (*Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byKey[identityKey(name, size)]
	if !exists {
		return nil, ErrNotFound
	}
	img := *r.images[id]
	return &img, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, row *NewImage) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(row.Name, row.Size)
	if _, exists := r.byKey[key]; exists {
		return nil, ErrDuplicate
	}

	img := newImageFromRow(row)
	r.images[img.ID] = img
	r.byKey[key] = img.ID

	result := *img
	return &result, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, exists := r.images[id]
	if !exists {
		return nil, ErrNotFound
	}
	result := *img
	return &result, nil
}

func (r *MemoryRepository) List(ctx context.Context, limit, offset int) ([]*Image, error) {
	r.mu.RLock()
	all := make([]*Image, 0, len(r.images))
	for _, img := range r.images {
		copied := *img
		all = append(all, &copied)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt == all[j].CreatedAt {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt > all[j].CreatedAt
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*Image{}, nil
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{Count: int64(len(r.images))}
	for _, img := range r.images {
		stats.TotalBytes += img.Size
	}
	return stats, nil
}

func newImageFromRow(row *NewImage) *Image {
	return &Image{
		ID:        uuid.NewString(),
		Name:      row.Name,
		Size:      row.Size,
		MimeType:  row.MimeType,
		Extension: row.Extension,
		Location:  row.Location,
		FullPath:  row.FullPath,
		Width:     row.Width,
		Height:    row.Height,
		Checksum:  row.Checksum,
		CreatedAt: time.Now().Unix(),
	}
}
