package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrIdentityExists   = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint error.
const uniqueViolation = "23505"

// IdentityRepository provides CRUD operations for identities.
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create inserts a new identity record. The primary key on selector
// makes the duplicate check atomic: two concurrent registrations of
// the same raw ID cannot both succeed.
func (r *IdentityRepository) Create(ctx context.Context, identity *Identity) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO identities (selector, secret_hash, display_name, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		identity.Selector,
		identity.SecretHash,
		identity.DisplayName,
		identity.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdentityExists
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// GetBySelector retrieves an identity by its selector.
func (r *IdentityRepository) GetBySelector(ctx context.Context, selector string) (*Identity, error) {
	identity := &Identity{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT selector, secret_hash, display_name, created_at
		FROM identities WHERE selector = $1
	`, selector).Scan(
		&identity.Selector,
		&identity.SecretHash,
		&identity.DisplayName,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

// DocumentRepository provides CRUD operations for documents.
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO documents (id, owner_selector, original_filename, storage_name, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		doc.ID,
		doc.OwnerSelector,
		doc.OriginalFilename,
		doc.StorageName,
		doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, owner_selector, original_filename, storage_name, uploaded_at
		FROM documents WHERE id = $1
	`, id).Scan(
		&doc.ID,
		&doc.OwnerSelector,
		&doc.OriginalFilename,
		&doc.StorageName,
		&doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListByOwner returns all documents owned by the given selector,
// newest first.
func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerSelector string) ([]*Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, owner_selector, original_filename, storage_name, uploaded_at
		FROM documents WHERE owner_selector = $1
		ORDER BY uploaded_at DESC
	`, ownerSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID,
			&doc.OwnerSelector,
			&doc.OriginalFilename,
			&doc.StorageName,
			&doc.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListStorageNames returns the storage names of every document on
// record. Used by the orphan sweeper to decide which files on disk
// are still referenced.
func (r *DocumentRepository) ListStorageNames(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT storage_name FROM documents")
	if err != nil {
		return nil, fmt.Errorf("failed to list storage names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan storage name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}
