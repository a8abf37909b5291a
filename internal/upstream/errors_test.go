package upstream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthExpiredError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AuthExpiredError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &AuthExpiredError{Operation: "query_links", StatusCode: 403},
			want: "session expired during query_links (HTTP 403)",
		},
		{
			name: "without token",
			err:  &AuthExpiredError{Operation: "add_links"},
			want: "session expired during add_links",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &NetworkError{Operation: "connect", StatusCode: 503, APIMessage: "service unavailable"},
			want: "network error during connect (HTTP 503): service unavailable",
		},
		{
			name: "without HTTP status code",
			err:  &NetworkError{Operation: "connect", APIMessage: "connection refused"},
			want: "network error during connect: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrors_UnwrapAndAs(t *testing.T) {
	base := errors.New("underlying")

	tests := []struct {
		name string
		err  error
	}{
		{"auth expired", &AuthExpiredError{Operation: "op", Err: base}},
		{"network", &NetworkError{Operation: "op", Err: base}},
		{"invalid response", &InvalidResponseError{Operation: "op", Err: base}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, base)
		})
	}

	var authErr *AuthExpiredError

	wrapped := fmt.Errorf("outer: %w", &AuthExpiredError{Operation: "op"})
	assert.True(t, errors.As(wrapped, &authErr))
	assert.Equal(t, "op", authErr.Operation)

	assert.False(t, errors.As(fmt.Errorf("outer: %w", &NetworkError{}), &authErr))
}
