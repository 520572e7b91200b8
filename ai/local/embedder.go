package local

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/chunkstream/ai"
)

const (
	tokenWeight   = 1.0
	trigramWeight = 0.5
)

// Embedder is a deterministic feature-hashing embedder.
type Embedder struct {
	dims int
}

// NewEmbedder returns an embedder producing vectors of dims length.
// A non-positive dims selects ai.DefaultDimensions.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = ai.DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// EmbedText implements ai.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text)
}

// EmbedTexts implements ai.Embedder.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) embed(text string) ([]float32, error) {
	h, err := blake2b.New(8, nil)
	if err != nil {
		return nil, fmt.Errorf("local embedder: %w", err)
	}

	vec := make([]float32, e.dims)
	sum := make([]byte, 0, 8)
	add := func(feature string, weight float32) {
		h.Reset()
		h.Write([]byte(feature))
		v := binary.LittleEndian.Uint64(h.Sum(sum[:0]))
		bucket := int(v % uint64(e.dims))
		if v>>63 == 1 {
			vec[bucket] -= weight
		} else {
			vec[bucket] += weight
		}
	}

	for _, tok := range tokens(text) {
		add("t:"+tok, tokenWeight)
		padded := []rune(" " + tok + " ")
		for i := 0; i+3 <= len(padded); i++ {
			add("g:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	return ai.NormalizeVector(vec), nil
}

// tokens splits text into lowercase runs of letters and digits.
func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
