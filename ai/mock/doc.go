// Package mock provides test doubles for the ai interfaces.
//
// # Usage in Tests
//
//	mockEmbedder := mock.NewMockEmbedder()
//	mockEmbedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("provider down")
//	}
//
//	count := mockEmbedder.CallCount()
//
// By default MockEmbedder returns deterministic unit vectors derived from a
// hash of the text.
package mock
