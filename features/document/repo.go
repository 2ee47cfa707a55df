package document

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"lexio/internal/ingest"
	"lexio/internal/worker"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, meta *ingest.DocumentMeta) error {
	query := `INSERT INTO documents (id, owner_id, filename, mime_type, size_bytes, content_hash, object_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		meta.ID, meta.OwnerID, meta.Filename, meta.MimeType, meta.SizeBytes,
		meta.ContentHash, meta.ObjectKey, meta.Status)
	return err
}

// CreateReference inserts a duplicate-upload row that borrows everything
// heavy from its source document in a single statement. sql.ErrNoRows means
// the source vanished between the dedup lookup and the insert.
func (r *PostgresRepo) CreateReference(ctx context.Context, ref *ingest.DocumentMeta) error {
	query := `INSERT INTO documents (id, owner_id, filename, mime_type, size_bytes, content_hash, object_key, status, total_pages, detected_headers, detected_footers, source_document_id)
		SELECT $1, $2, $3, $4, $5, content_hash, object_key, status, total_pages, detected_headers, detected_footers, id
		FROM documents WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query,
		ref.ID, ref.OwnerID, ref.Filename, ref.MimeType, ref.SizeBytes, ref.SourceDocumentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) SetReady(ctx context.Context, id string, totalPages int, headers, footers []string) error {
	query := `UPDATE documents SET status = 'ready', total_pages = $1, detected_headers = $2, detected_footers = $3, updated_at = NOW() WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, totalPages, pq.Array(headers), pq.Array(footers), id)
	return err
}

// FindReadyByHash returns (nil, nil) when no ready document matches, so the
// caller can distinguish a miss from a database failure. Reference rows are
// excluded: dedup always resolves to the document that owns the pages.
func (r *PostgresRepo) FindReadyByHash(ctx context.Context, ownerID, contentHash string) (*ingest.DocumentMeta, error) {
	meta := &ingest.DocumentMeta{}
	query := `SELECT id, owner_id, filename, mime_type, size_bytes, content_hash, object_key, status, total_pages
		FROM documents WHERE owner_id = $1 AND content_hash = $2 AND status = 'ready' AND source_document_id IS NULL`
	err := r.db.QueryRowContext(ctx, query, ownerID, contentHash).Scan(
		&meta.ID, &meta.OwnerID, &meta.Filename, &meta.MimeType, &meta.SizeBytes,
		&meta.ContentHash, &meta.ObjectKey, &meta.Status, &meta.TotalPages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Delete is a hard delete. A failed ingestion must leave no trace, and a
// user-requested delete has already cleaned the other stores.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, ownerID string) ([]Document, error) {
	query := `SELECT id, owner_id, filename, mime_type, size_bytes, content_hash, status, total_pages, source_document_id, detected_headers, detected_footers, created_at, updated_at
		FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var source sql.NullString
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.MimeType, &d.SizeBytes,
			&d.ContentHash, &d.Status, &d.TotalPages, &source,
			pq.Array(&d.DetectedHeaders), pq.Array(&d.DetectedFooters),
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.SourceDocumentID = source.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	var source sql.NullString
	query := `SELECT id, owner_id, filename, mime_type, size_bytes, content_hash, status, total_pages, source_document_id, detected_headers, detected_footers, created_at, updated_at
		FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.OwnerID, &d.Filename, &d.MimeType, &d.SizeBytes,
		&d.ContentHash, &d.Status, &d.TotalPages, &source,
		pq.Array(&d.DetectedHeaders), pq.Array(&d.DetectedFooters),
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.SourceDocumentID = source.String
	return d, nil
}

// FetchDocument serves the re-ingestion worker. A missing row is (nil, nil)
// so the worker drops the message instead of retrying forever.
func (r *PostgresRepo) FetchDocument(ctx context.Context, id string) (*worker.DocumentInfo, error) {
	info := &worker.DocumentInfo{}
	query := `SELECT id, owner_id, filename, mime_type, object_key FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&info.ID, &info.OwnerID, &info.Filename, &info.MimeType, &info.ObjectKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) IncrementUploadCount(ctx context.Context, ownerID string) error {
	query := `INSERT INTO upload_counts (owner_id, count) VALUES ($1, 1)
		ON CONFLICT (owner_id) DO UPDATE SET count = upload_counts.count + 1, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, ownerID)
	return err
}

func (r *PostgresRepo) GetUploadCount(ctx context.Context, ownerID string) (int, error) {
	var count int
	query := `SELECT count FROM upload_counts WHERE owner_id = $1`
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepo) CountOwnedDocuments(ctx context.Context, ownerID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents WHERE owner_id = $1`
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepo) SetUploadCount(ctx context.Context, ownerID string, count int) error {
	query := `INSERT INTO upload_counts (owner_id, count) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET count = $2, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, ownerID, count)
	return err
}
