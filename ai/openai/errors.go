package openai

import (
	"errors"

	"github.com/poiesic/embedpipe/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// errorMapper extends langchaingo's OpenAI mapper with size-limit detection.
// Custom matchers are consulted before the defaults.
var errorMapper = llms.OpenAIErrorMapper().AddMatcher(llms.ErrorMatcher{
	Match: func(err error) bool {
		return ai.IsPayloadTooLargeMessage(err.Error())
	},
	Code: codePayloadTooLarge,
})

// codePayloadTooLarge is not one of langchaingo's codes; it only travels between
// errorMapper and classifyError.
const codePayloadTooLarge llms.ErrorCode = "payload_too_large"

// classifyError converts a langchaingo/OpenAI error into an *ai.ProviderError.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, openai.ErrUnexpectedResponseLength) {
		return ai.Transient(err)
	}

	var stdErr *llms.Error
	if !errors.As(errorMapper.WrapError(err), &stdErr) {
		return ai.Transient(err)
	}

	switch stdErr.Code {
	case codePayloadTooLarge, llms.ErrCodeTokenLimit:
		// An oversized input makes the whole request fail; splitting isolates it.
		return ai.PayloadTooLarge(err)
	case llms.ErrCodeAuthentication,
		llms.ErrCodeInvalidRequest,
		llms.ErrCodeResourceNotFound,
		llms.ErrCodeQuotaExceeded,
		llms.ErrCodeContentFilter,
		llms.ErrCodeNotImplemented,
		llms.ErrCodeCanceled:
		return ai.Permanent(err)
	default:
		// rate limits, timeouts, unavailable and unknown failures
		return ai.Transient(err)
	}
}
