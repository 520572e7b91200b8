package local

import "github.com/poiesic/chunkstream/ai"

// Provider implements ai.AIProvider with only the local embedder.
type Provider struct {
	embedder *ai.FallbackEmbedder
}

// NewProvider returns a provider whose embedder never leaves the process.
func NewProvider(config *ai.Config) ai.AIProvider {
	return &Provider{embedder: ai.NewFallbackEmbedder(nil, NewEmbedder(config.Dimensions))}
}

// Embedder returns the local embedder.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
