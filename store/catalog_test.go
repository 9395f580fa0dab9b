//go:build cgo

package store

import (
	"context"
	"testing"
)

func TestSQLiteCatalogFindByFilename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := sampleDoc("/catalog/report.pdf")
	doc.Filename = "report.pdf"
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	catalog := NewSQLiteCatalog(s)
	entry, err := catalog.FindByFilename(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("find by filename: %v", err)
	}
	if entry.Path != "/catalog/report.pdf" {
		t.Errorf("path: got %q", entry.Path)
	}
}

func TestSQLiteCatalogFindByFilenameNotFound(t *testing.T) {
	s := newTestStore(t)
	catalog := NewSQLiteCatalog(s)
	if _, err := catalog.FindByFilename(context.Background(), "missing.pdf"); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestSQLiteCatalogSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"invoice-2024-01.pdf", "invoice-2024-02.pdf", "resume.pdf"} {
		doc := sampleDoc("/catalog/" + name)
		doc.Filename = name
		if _, err := s.UpsertDocument(ctx, doc); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
	}

	catalog := NewSQLiteCatalog(s)
	names, err := catalog.Similar(ctx, "invoice-2024-03.pdf", 10)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 similar names, got %d: %v", len(names), names)
	}
}

func TestSQLiteCatalogAccessAllowed(t *testing.T) {
	catalog := NewSQLiteCatalog(newTestStore(t))
	allowed, err := catalog.AccessAllowed(context.Background(), 1, "any-principal")
	if err != nil {
		t.Fatalf("access allowed: %v", err)
	}
	if !allowed {
		t.Fatal("expected unrestricted access without an authorization layer")
	}
}
