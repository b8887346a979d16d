// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder and ai.AIProvider for
// use in unit tests. The mocks allow tests to run without external AI service
// dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vectors, err := mockProvider.Embedder().EmbedTexts(ctx, []string{"test"})
//
//	// Custom behavior injection
//	mockEmbedder := mock.NewMockEmbedder().
//	    WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
//	        return nil, ai.Transient(errors.New("rate limited"))
//	    })
//
//	// Check call counts and received batches
//	count := mockEmbedder.CallCount()
//	batches := mockEmbedder.Batches()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic, non-normalized vectors based on text hash
//   - MockProvider: Wraps a MockEmbedder
package mock
