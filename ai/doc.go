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


// Package ai provides abstractions for the embedding provider used by embedpipe.
//
// The pipeline depends on the Embedder interface only. Concrete providers live in
// sub-packages and classify their failures into ProviderError values so that the
// retry logic can tell the three recovery classes apart:
//
//   - KindPayloadTooLarge: the request was too big; split it
//   - KindTransient: rate limits, network errors, 5xx; wait and retry
//   - KindPermanent: authentication, malformed requests; give up
//
// Classify falls back to message matching for embedders that return plain errors.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/breaker: Circuit breaker decorator for any Embedder
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder) return INTERFACE
// types to enforce abstraction. Test utility constructors (mock.NewMockEmbedder)
// return CONCRETE types to enable test assertions and behavior injection.
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//	mockEmbed := mock.NewMockEmbedder()          // returns *mock.MockEmbedder
//	count := mockEmbed.CallCount()               // test assertion
package ai
