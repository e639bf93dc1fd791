package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownProvider signals a provider name with no registered constructor.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrConstruction signals a provider constructor failure.
	ErrConstruction = errors.New("provider construction failed")
	// ErrSelfReference signals a provider attempting to resolve itself as a dependency.
	ErrSelfReference = errors.New("self-referential provider dependency")
	// ErrUpstreamProvider signals a failure during a provider operation.
	ErrUpstreamProvider = errors.New("upstream provider error")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrConversationNotFound signals a missing conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMissingCredentials signals an absent required API key.
	ErrMissingCredentials = errors.New("missing credentials")
)

// UnknownProviderError wraps ErrUnknownProvider with the requested name and
// the names currently registered for the role.
type UnknownProviderError struct {
	Role      string
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("%s: no %s provider %q registered (available: %s)",
		ErrUnknownProvider.Error(), e.Role, e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }

// NewUnknownProvider creates an unknown provider error.
func NewUnknownProvider(role, name string, available []string) error {
	return &UnknownProviderError{Role: role, Name: name, Available: available}
}
