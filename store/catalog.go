package store

import (
	"context"
	"strings"

	"github.com/ragcore/ragcore"
)

// CatalogEntry is the minimal document identity the pipeline and selector
// need from the document catalog.
type CatalogEntry struct {
	ID       int64
	Path     string
	Filename string
}

// DocumentCatalog is the read-only external collaborator the pipeline
// consults to resolve a filename to a document and to find lookalikes,
// per the system's externally-owned document/organization catalog.
// Authentication and organization-scoping are out of scope for this core;
// AccessAllowed exists so a caller can plug in real authorization without
// changing the pipeline's call sites.
type DocumentCatalog interface {
	FindByFilename(ctx context.Context, filename string) (*CatalogEntry, error)
	Similar(ctx context.Context, filename string, limit int) ([]string, error)
	AccessAllowed(ctx context.Context, documentID int64, principal string) (bool, error)
}

// SQLiteCatalog implements DocumentCatalog over a DocumentStore. It has no
// notion of organizations or users, so AccessAllowed always permits —
// callers that need real authorization wrap or replace it.
type SQLiteCatalog struct {
	store *DocumentStore
}

// NewSQLiteCatalog builds a DocumentCatalog backed by store.
func NewSQLiteCatalog(store *DocumentStore) *SQLiteCatalog {
	return &SQLiteCatalog{store: store}
}

func (c *SQLiteCatalog) FindByFilename(ctx context.Context, filename string) (*CatalogEntry, error) {
	docs, err := c.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.Filename == filename || strings.EqualFold(d.Filename, filename) {
			return &CatalogEntry{ID: d.ID, Path: d.Path, Filename: d.Filename}, nil
		}
	}
	return nil, ragcore.ErrDocumentNotFound
}

func (c *SQLiteCatalog) Similar(ctx context.Context, filename string, limit int) ([]string, error) {
	term := filename
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		term = filename[:idx]
	}
	return c.store.SimilarFilenames(ctx, term, limit)
}

func (c *SQLiteCatalog) AccessAllowed(ctx context.Context, documentID int64, principal string) (bool, error) {
	return true, nil
}
