package domain

import "errors"

var (
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrMissingCredential is returned when a collaborator API key is not configured
	ErrMissingCredential = errors.New("missing collaborator credential")

	// ErrSearchFailure is returned when the web search request fails
	ErrSearchFailure = errors.New("search request failed")

	// ErrExtractFailure is returned when the content extraction request fails
	ErrExtractFailure = errors.New("content extraction request failed")

	// ErrLLMFailure is returned when the language model request fails
	ErrLLMFailure = errors.New("language model request failed")

	// ErrContextLengthExceeded is returned when a prompt does not fit the model context window
	ErrContextLengthExceeded = errors.New("model context length exceeded")

	// ErrSchemaViolation is returned when a model response does not satisfy the product schema
	ErrSchemaViolation = errors.New("response violates product schema")

	// ErrRateLimited is returned when rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrTurnNotFound is returned when a finished turn is no longer cached
	ErrTurnNotFound = errors.New("turn not found")
)
