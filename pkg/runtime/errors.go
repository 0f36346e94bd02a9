package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FailureKind classifies a provider failure.
type FailureKind string

const (
	// FailureToolList means the provider's tool list could not be
	// retrieved at initialization. This is the one recoverable class: the
	// run can be retried with the provider's tools excluded.
	FailureToolList FailureKind = "tool_list"

	// FailureOther covers everything else; never retried.
	FailureOther FailureKind = "other"
)

// ProviderError is a structured failure attributed to a named tool provider.
// Runtime implementations should return this instead of free-text errors so
// the failover supervisor does not have to parse messages.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Kind == FailureToolList {
		return fmt.Sprintf("error retrieving tool list from %q: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %q failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewToolListError wraps a tool-list retrieval failure for provider.
func NewToolListError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: FailureToolList, Err: err}
}

const toolListSignature = "error retrieving tool list from"

// quotedProviderRe extracts a quoted provider identifier from a free-text
// error message. Deprecated fallback for opaque SDK errors; structured
// ProviderError is the supported path.
var quotedProviderRe = regexp.MustCompile(`['"]([^'"]+)['"]`)

// ProviderFailure extracts provider identity and recoverability from err.
//
// A structured *ProviderError wins. Otherwise the message is matched against
// the known tool-list failure signature and a quoted provider name; both
// must be present for the failure to be considered recoverable.
func ProviderFailure(err error) (provider string, recoverable bool) {
	if err == nil {
		return "", false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Provider, pe.Kind == FailureToolList
	}

	msg := err.Error()
	if !strings.Contains(strings.ToLower(msg), toolListSignature) {
		return "", false
	}
	m := quotedProviderRe.FindStringSubmatch(msg)
	if m == nil {
		// Signature matched but the provider cannot be identified.
		return "", false
	}
	return m[1], true
}

// IsToolListFailure reports whether err carries the recognized tool-list
// failure signature, regardless of whether a provider could be identified.
func IsToolListFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == FailureToolList
	}
	return strings.Contains(strings.ToLower(err.Error()), toolListSignature)
}
