package conversation

import "context"

// Embedder produces a vector embedding for a piece of text. The engine uses
// it to embed incoming messages for topic matching; the composition root
// wires it to an llm.EmbeddingProvider so this package never imports llm
// directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
