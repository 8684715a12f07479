package retry

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI marks client errors from an OpenAI-compatible API as Permanent.
// Rate limiting, server errors and transport failures stay retryable.
func OpenAI(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && permanentStatus(apiErr.HTTPStatusCode) {
		return Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && permanentStatus(reqErr.HTTPStatusCode) {
		return Permanent(err)
	}
	return err
}

func permanentStatus(code int) bool {
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
