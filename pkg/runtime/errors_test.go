package runtime

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderFailure(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantProvider    string
		wantRecoverable bool
	}{
		{
			name:            "structured tool list error",
			err:             NewToolListError("ga4", errors.New("connect refused")),
			wantProvider:    "ga4",
			wantRecoverable: true,
		},
		{
			name:            "structured non-recoverable kind",
			err:             &ProviderError{Provider: "hubspot", Kind: FailureOther, Err: errors.New("401")},
			wantProvider:    "hubspot",
			wantRecoverable: false,
		},
		{
			name:            "wrapped structured error",
			err:             fmt.Errorf("run failed: %w", NewToolListError("sheets", errors.New("timeout"))),
			wantProvider:    "sheets",
			wantRecoverable: true,
		},
		{
			name:            "free text with signature and quoted provider",
			err:             errors.New(`Error retrieving tool list from "ga4": handshake failed`),
			wantProvider:    "ga4",
			wantRecoverable: true,
		},
		{
			name:            "signature without identifiable provider",
			err:             errors.New("error retrieving tool list from upstream"),
			wantProvider:    "",
			wantRecoverable: false,
		},
		{
			name:            "unrelated error",
			err:             errors.New("rate limit exceeded"),
			wantProvider:    "",
			wantRecoverable: false,
		},
		{
			name:            "nil error",
			err:             nil,
			wantProvider:    "",
			wantRecoverable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, recoverable := ProviderFailure(tt.err)
			if provider != tt.wantProvider {
				t.Errorf("provider = %q, want %q", provider, tt.wantProvider)
			}
			if recoverable != tt.wantRecoverable {
				t.Errorf("recoverable = %v, want %v", recoverable, tt.wantRecoverable)
			}
		})
	}
}

func TestIsToolListFailure(t *testing.T) {
	if !IsToolListFailure(errors.New("error retrieving tool list from somewhere")) {
		t.Error("signature match should be detected without a provider")
	}
	if IsToolListFailure(errors.New("some other failure")) {
		t.Error("unrelated errors must not match")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewToolListError("ga4", errors.New("dial tcp: refused"))
	want := `error retrieving tool list from "ga4": dial tcp: refused`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
