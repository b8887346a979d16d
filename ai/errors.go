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


package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies a provider failure by how it can be recovered from.
type ErrorKind int

const (
	// KindTransient covers rate limits, network failures and 5xx responses.
	// Recovered by waiting and retrying.
	KindTransient ErrorKind = iota
	// KindPayloadTooLarge means the request exceeded the provider's size limit.
	// Recovered by splitting the request, not by waiting.
	KindPayloadTooLarge
	// KindPermanent covers authentication failures and malformed requests.
	// Retrying cannot succeed.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProviderError is a classified failure returned by an Embedder.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PayloadTooLarge wraps err as a KindPayloadTooLarge failure.
func PayloadTooLarge(err error) error {
	return &ProviderError{Kind: KindPayloadTooLarge, Err: err}
}

// Transient wraps err as a KindTransient failure.
func Transient(err error) error {
	return &ProviderError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a KindPermanent failure.
func Permanent(err error) error {
	return &ProviderError{Kind: KindPermanent, Err: err}
}

// payloadPatterns are lowercase fragments providers use when rejecting oversized requests.
var payloadPatterns = []string{
	"payload too large",
	"payload size exceeded",
	"request entity too large",
	"request too large",
	"maximum request size",
}

// statusTooLarge matches an HTTP 413 status code standing on its own.
var statusTooLarge = regexp.MustCompile(`\b413\b`)

// IsPayloadTooLargeMessage reports whether msg looks like a provider's size-limit rejection.
func IsPayloadTooLargeMessage(msg string) bool {
	s := strings.ToLower(msg)
	for _, p := range payloadPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return statusTooLarge.MatchString(s)
}

// Classify returns the recovery class of err.
//
// Typed *ProviderError values are authoritative. Errors from adapters that do not
// classify are matched against known size-limit messages and otherwise treated as
// transient. Context cancellation is permanent: retrying a cancelled request cannot succeed.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if IsPayloadTooLargeMessage(err.Error()) {
		return KindPayloadTooLarge
	}
	return KindTransient
}
