package images

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	imageColumns = `id, name, size, mime_type, extension, location, full_path, width, height, checksum, created_at`

	pqUniqueViolation = "23505"

	maxListLimit = 1000
)

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) FindByNameAndSize(ctx context.Context, name string, size int64) (*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE name = $1 AND size = $2`
	return scanImage(r.db.QueryRowContext(ctx, query, name, size))
}

func (r *SQLRepository) Insert(ctx context.Context, row *NewImage) (*Image, error) {
	img := newImageFromRow(row)

	query := `INSERT INTO images (` + imageColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		img.ID,
		img.Name,
		img.Size,
		img.MimeType,
		img.Extension,
		img.Location,
		img.FullPath,
		img.Width,
		img.Height,
		img.Checksum,
		img.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return img, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`
	return scanImage(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLRepository) List(ctx context.Context, limit, offset int) ([]*Image, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + imageColumns + ` FROM images ORDER BY created_at DESC, id ASC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, img)
	}

	return list, rows.Err()
}

func (r *SQLRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM images`).
		Scan(&stats.Count, &stats.TotalBytes)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*Image, error) {
	img := &Image{}
	err := row.Scan(
		&img.ID,
		&img.Name,
		&img.Size,
		&img.MimeType,
		&img.Extension,
		&img.Location,
		&img.FullPath,
		&img.Width,
		&img.Height,
		&img.Checksum,
		&img.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	return false
}
