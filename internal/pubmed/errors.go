package pubmed

import (
	"errors"
	"fmt"
)

// Common errors returned by the PubMed client.
var (
	// ErrNotFound indicates the lookup matched nothing.
	ErrNotFound = errors.New("not found in PubMed")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with PubMed")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from PubMed")
)

// APIError is an error reported inside an otherwise successful E-utilities response.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("PubMed %s error: %s", e.Endpoint, e.Message)
}

// IsNotFound returns true if the error indicates a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
