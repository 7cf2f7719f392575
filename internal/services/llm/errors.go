package llm

import (
	"errors"
	"fmt"
)

// ErrRateLimited marks upstream throttling. Handlers log and skip; the
// client itself never retries.
var ErrRateLimited = errors.New("llm rate limited")

// ErrConnection marks a transport-level failure reaching the endpoint
var ErrConnection = errors.New("llm connection error")

// APIError is a non-2xx upstream response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error: status %d: %s", e.Status, e.Message)
}

// UnexpectedError covers failures outside the other categories
type UnexpectedError struct {
	Message string
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("llm unexpected error: %s", e.Message)
}
