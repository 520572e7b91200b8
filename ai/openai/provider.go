// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"errors"
	"log/slog"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/ai/local"
)

// ErrNoHost is returned when the config names no embedding host.
var ErrNoHost = errors.New("openai: no embedding host configured")

// Provider implements ai.AIProvider using an OpenAI-compatible service, with
// the local embedder as fallback when the service is unreachable.
type Provider struct {
	config   *ai.Config
	remote   *Embedder
	embedder *ai.FallbackEmbedder
	logger   *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	remote, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	return &Provider{
		config: config,
		remote: remote,
		embedder: ai.NewFallbackEmbedder(remote, local.NewEmbedder(config.Dimensions),
			ai.WithFallbackRetry(config.MaxRetries, config.RetryDelay),
			ai.WithFallbackDimensions(config.Dimensions),
			ai.WithFallbackLogger(logger),
		),
		logger: logger,
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider", "fallbacks", p.embedder.Fallbacks())
	return nil
}
