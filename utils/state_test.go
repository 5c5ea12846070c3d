package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectStateRoundTrip(t *testing.T) {
	orgID := uint(7)
	token, err := PackConnectState(42, &orgID, "req_abc123")
	require.NoError(t, err)

	state, err := UnpackConnectState(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), state.UserID)
	require.NotNil(t, state.OrganizationID)
	assert.Equal(t, uint(7), *state.OrganizationID)
	assert.Equal(t, "req_abc123", state.ConnectionRequestID)
	assert.NotEmpty(t, state.Nonce)
}

func TestConnectStateRoundTripWithoutOrganization(t *testing.T) {
	token, err := PackConnectState(42, nil, "req_abc123")
	require.NoError(t, err)

	state, err := UnpackConnectState(token)
	require.NoError(t, err)
	assert.Nil(t, state.OrganizationID)
}

func TestConnectStateNoncesDiffer(t *testing.T) {
	a, err := PackConnectState(1, nil, "req_1")
	require.NoError(t, err)
	b, err := PackConnectState(1, nil, "req_1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestUnpackConnectStateRejectsBadTokens(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.URLEncoding.EncodeToString([]byte("plain text"))},
		{"missing request id", base64.URLEncoding.EncodeToString([]byte(`{"user_id":42}`))},
		{"missing user id", base64.URLEncoding.EncodeToString([]byte(`{"connection_request_id":"req_1"}`))},
		{"empty", ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnpackConnectState(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestUnpackConnectStateAcceptsStdEncoding(t *testing.T) {
	raw := []byte(`{"user_id":42,"connection_request_id":"req_1","nonce":"n"}`)
	state, err := UnpackConnectState(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, uint(42), state.UserID)
}

func TestMatchesPrincipal(t *testing.T) {
	orgA := uint(1)
	orgB := uint(2)

	state := &ConnectState{UserID: 42, OrganizationID: &orgA, ConnectionRequestID: "req_1"}
	assert.True(t, state.MatchesPrincipal(42, &orgA))
	assert.False(t, state.MatchesPrincipal(43, &orgA))
	assert.False(t, state.MatchesPrincipal(42, &orgB))
	assert.False(t, state.MatchesPrincipal(42, nil))

	solo := &ConnectState{UserID: 42, ConnectionRequestID: "req_1"}
	assert.True(t, solo.MatchesPrincipal(42, nil))
	assert.False(t, solo.MatchesPrincipal(42, &orgA))
}
