package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ConnectState is the opaque token threaded through the broker's OAuth
// redirect. The client never inspects it; on callback it is decoded and its
// principal is checked against the authenticated caller before anything else
// happens.
type ConnectState struct {
	UserID              uint   `json:"user_id"`
	OrganizationID      *uint  `json:"org_id,omitempty"`
	ConnectionRequestID string `json:"connection_request_id"`
	Nonce               string `json:"nonce"`
}

// PackConnectState encodes the principal and pending connection request into
// a base64 state token.
func PackConnectState(userID uint, orgID *uint, connectionRequestID string) (string, error) {
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	state := ConnectState{
		UserID:              userID,
		OrganizationID:      orgID,
		ConnectionRequestID: connectionRequestID,
		Nonce:               nonce,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// UnpackConnectState decodes a state token. Tokens that do not decode, or
// decode without a connection request id, are rejected.
func UnpackConnectState(token string) (*ConnectState, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		// some user agents re-encode the token with standard base64
		raw, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("malformed state token: %w", err)
		}
	}
	var state ConnectState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("malformed state token: %w", err)
	}
	if state.ConnectionRequestID == "" || state.UserID == 0 {
		return nil, fmt.Errorf("incomplete state token")
	}
	return &state, nil
}

// MatchesPrincipal reports whether the embedded principal is exactly the
// authenticated caller. Anti-CSRF: a mismatch rejects the callback before
// any broker or store call.
func (s *ConnectState) MatchesPrincipal(userID uint, orgID *uint) bool {
	if s.UserID != userID {
		return false
	}
	if (s.OrganizationID == nil) != (orgID == nil) {
		return false
	}
	if s.OrganizationID != nil && *s.OrganizationID != *orgID {
		return false
	}
	return true
}
