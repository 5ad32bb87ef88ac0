package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sentinels() []error {
	return []error{
		ErrInvalidCredentials,
		ErrNoCredentials,
		ErrAuthExpired,
		ErrSessionClosed,
		ErrNotConnected,
		ErrRetriesExhausted,
		ErrUnknownFrame,
		ErrAPIRequest,
		ErrAPIResponse,
	}
}

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	for _, err := range sentinels() {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	errs := sentinels()
	for i := 0; i < len(errs); i++ {
		for j := i + 1; j < len(errs); j++ {
			assert.NotEqual(t, errs[i], errs[j],
				"sentinel errors should be distinct: %q vs %q", errs[i], errs[j])
		}
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidCredentials, "invalid login or password"},
		{ErrNoCredentials, "no stored credentials"},
		{ErrAuthExpired, "authentication expired"},
		{ErrSessionClosed, "session closed"},
		{ErrNotConnected, "transport is not connected"},
		{ErrRetriesExhausted, "reconnect attempts exhausted"},
		{ErrUnknownFrame, "unknown frame type"},
		{ErrAPIRequest, "API request failed"},
		{ErrAPIResponse, "unexpected API response"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
