//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(path string) Document {
	return Document{
		Path:        path,
		Filename:    "test.pdf",
		Format:      "pdf",
		ContentHash: "abc123",
		ParseMethod: "native",
		Status:      "pending",
		Metadata:    `{"pages":10}`,
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/test.pdf")
	id, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("getting document by id: %v", err)
	}
	if got.Path != doc.Path {
		t.Errorf("path: got %q, want %q", got.Path, doc.Path)
	}
	if got.Status != "pending" {
		t.Errorf("status: got %q, want %q", got.Status, "pending")
	}
}

func TestGetDocumentByPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/docs/report.pdf")
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	got, err := s.GetDocumentByPath(ctx, "/docs/report.pdf")
	if err != nil {
		t.Fatalf("getting by path: %v", err)
	}
	if got.Filename != "test.pdf" {
		t.Errorf("filename: got %q, want %q", got.Filename, "test.pdf")
	}
}

func TestGetDocumentByPathNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDocumentByPath(ctx, "/nonexistent")
	if err == nil {
		t.Fatal("expected an error for missing document")
	}
}

func TestUpsertDocumentUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/update.pdf")
	id1, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	doc.ContentHash = "def456"
	doc.Status = "ready"
	id2, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("upsert returned different id: %d vs %d", id2, id1)
	}

	got, err := s.GetDocument(ctx, id1)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ContentHash != "def456" {
		t.Errorf("content_hash not updated: got %q", got.ContentHash)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, p := range []string{"/a.pdf", "/b.pdf", "/c.pdf"} {
		doc := sampleDoc(p)
		doc.Filename = p
		if _, err := s.UpsertDocument(ctx, doc); err != nil {
			t.Fatalf("insert doc %d: %v", i, err)
		}
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
}

func TestUpdateDocumentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertDocument(ctx, sampleDoc("/status.pdf"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateDocumentStatus(ctx, id, "ready"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "ready" {
		t.Errorf("status: got %q, want %q", got.Status, "ready")
	}
}

func TestUpdateDocumentLanguage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertDocument(ctx, sampleDoc("/lang.pdf"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdateDocumentLanguage(ctx, id, "es"); err != nil {
		t.Fatalf("update language: %v", err)
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Language != "es" {
		t.Errorf("language: got %q, want %q", got.Language, "es")
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertDocument(ctx, sampleDoc("/delete.pdf"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	chunks := []Chunk{
		{DocumentID: id, Content: "chunk one", ChunkType: "paragraph", Heading: "H1", PositionInDoc: 0, TokenCount: 2},
	}
	chunkIDs, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, chunkIDs[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("insert embedding: %v", err)
	}

	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	if _, err := s.GetDocument(ctx, id); err == nil {
		t.Fatal("expected document to be gone")
	}

	remaining, err := s.GetChunksByDocument(ctx, id)
	if err != nil {
		t.Fatalf("get chunks after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 chunks after cascade, got %d", len(remaining))
	}
}

func TestInsertAndGetChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/chunks.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}

	chunks := []Chunk{
		{DocumentID: docID, Content: "first chunk", ChunkType: "paragraph", Heading: "Intro", PageNumber: 1, PositionInDoc: 0, TokenCount: 2},
		{DocumentID: docID, Content: "second chunk", ChunkType: "paragraph", Heading: "Body", PageNumber: 1, PositionInDoc: 1, TokenCount: 2},
		{DocumentID: docID, Content: "third chunk", ChunkType: "section", Heading: "Conclusion", PageNumber: 2, PositionInDoc: 2, TokenCount: 2},
	}
	ids, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	got, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if got[0].Content != "first chunk" {
		t.Errorf("chunks out of order: got %q first", got[0].Content)
	}
}

func TestInsertChunksRemapsParentID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/parent.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}

	parentTempID := int64(100)
	childTempID := int64(101)
	chunks := []Chunk{
		{ID: parentTempID, DocumentID: docID, Content: "section", ChunkType: "section", PositionInDoc: 0},
		{ID: childTempID, DocumentID: docID, ParentChunkID: &parentTempID, Content: "paragraph", ChunkType: "paragraph", PositionInDoc: 1},
	}
	ids, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}

	got, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	var child Chunk
	for _, c := range got {
		if c.ID == ids[1] {
			child = c
		}
	}
	if child.ParentChunkID == nil || *child.ParentChunkID != ids[0] {
		t.Fatalf("expected remapped parent id %d, got %v", ids[0], child.ParentChunkID)
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/vec.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	chunks := []Chunk{
		{DocumentID: docID, Content: "alpha", ChunkType: "paragraph", PositionInDoc: 0},
		{DocumentID: docID, Content: "beta", ChunkType: "paragraph", PositionInDoc: 1},
	}
	ids, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("insert embedding 0: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("insert embedding 1: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ChunkID != ids[0] {
		t.Errorf("expected closest chunk %d, got %d", ids[0], results[0].ChunkID)
	}
}

func TestFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/fts.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	chunks := []Chunk{
		{DocumentID: docID, Content: "the quick brown fox", ChunkType: "paragraph", PositionInDoc: 0},
		{DocumentID: docID, Content: "a lazy dog sleeps", ChunkType: "paragraph", PositionInDoc: 1},
	}
	if _, err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}

	results, err := s.FTSSearch(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestChunkHasEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/has-embed.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	ids, err := s.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "x", ChunkType: "paragraph"}})
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}

	has, err := s.ChunkHasEmbedding(ctx, ids[0])
	if err != nil {
		t.Fatalf("check embedding: %v", err)
	}
	if has {
		t.Fatal("expected no embedding yet")
	}

	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("insert embedding: %v", err)
	}
	has, err = s.ChunkHasEmbedding(ctx, ids[0])
	if err != nil {
		t.Fatalf("check embedding after insert: %v", err)
	}
	if !has {
		t.Fatal("expected embedding to be present")
	}
}

func TestDBStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/stats.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	ids, err := s.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "x", ChunkType: "paragraph"}})
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("insert embedding: %v", err)
	}

	stats, err := s.DBStats(ctx)
	if err != nil {
		t.Fatalf("db stats: %v", err)
	}
	if stats.Documents != 1 || stats.Chunks != 1 || stats.Embeddings != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSearchChunksByContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/substr.pdf"))
	if err != nil {
		t.Fatalf("upsert doc: %v", err)
	}
	if _, err := s.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "Contains NEEDLE here", ChunkType: "paragraph"}}); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}

	matches, err := s.SearchChunksByContent(ctx, "needle")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}
