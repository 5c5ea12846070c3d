package utils

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"textflow/config"
)

// BrokerConnection is the canonical form of a broker connection record. The
// broker's payloads are loosely typed; everything is squeezed into this shape
// at the client boundary so nothing downstream re-implements shape-sniffing.
type BrokerConnection struct {
	ID         string                 `json:"id"`
	AppID      string                 `json:"app_id"`
	Toolkit    string                 `json:"toolkit"`
	Status     string                 `json:"status"`
	AuthConfig map[string]interface{} `json:"auth_config,omitempty"`
	CreatedAt  string                 `json:"created_at,omitempty"`
}

// brokerActiveStatuses is the canonical usable subset. Anything else
// (revoked, expired, failed, ...) counts as inactive.
var brokerActiveStatuses = map[string]bool{
	"active":     true,
	"activating": true,
	"connected":  true,
	"ready":      true,
}

// IsActive reports whether the connection is in the usable status subset.
func (c *BrokerConnection) IsActive() bool {
	return brokerActiveStatuses[strings.ToLower(c.Status)]
}

// InitiateResult is the outcome of starting a connection: either the broker
// confirmed synchronously (API-key providers) or it handed back a pending
// request plus an authorization URL (OAuth providers).
type InitiateResult struct {
	Connection          *BrokerConnection
	ConnectionRequestID string
	AuthURL             string
}

// ConnectParams carries the provider-specific connect inputs.
type ConnectParams struct {
	APIKey           string
	OrganizationName string
	Subdomain        string
}

// BrokerClient is a thin adapter over the external connection broker's REST
// API.
type BrokerClient struct {
	baseURL   string
	secretKey string
	client    *fasthttp.Client
	timeout   time.Duration
}

// NewBrokerClient builds a client from broker config.
func NewBrokerClient(cfg config.BrokerConfig) *BrokerClient {
	return &BrokerClient{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		secretKey: cfg.SecretKey,
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
	}
}

func (b *BrokerClient) do(method, path string, body interface{}) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+b.secretKey)
	req.Header.SetContentType("application/json")

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		req.SetBody(payload)
	}

	if err := b.client.DoTimeout(req, resp, b.timeout); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	status := resp.StatusCode()
	if status >= 500 {
		return nil, status, fmt.Errorf("%w: broker returned %d", ErrBrokerUnavailable, status)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, status, nil
}

// EnsureAuthConfig obtains-or-creates the provider's broker-side auth
// configuration and returns its id.
func (b *BrokerClient) EnsureAuthConfig(toolkit, appID string) (string, error) {
	body, status, err := b.do(fasthttp.MethodPost, "/v1/auth-configs", map[string]string{
		"toolkit": toolkit,
		"app_id":  appID,
	})
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("%w: auth config rejected (%d)", ErrBrokerUnavailable, status)
	}

	obj, err := decodeObject(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	id := getString(obj, "id", "auth_config_id")
	if id == "" {
		return "", fmt.Errorf("%w: auth config response missing id", ErrBrokerUnavailable)
	}
	return id, nil
}

// InitiateConnection starts a connection for an owner. API-key providers
// come back with a confirmed connection; OAuth providers come back with a
// connection request id and an authorization URL.
func (b *BrokerClient) InitiateConnection(ownerID, authConfigID string, params ConnectParams) (*InitiateResult, error) {
	settings := map[string]string{}
	if params.APIKey != "" {
		settings["api_key"] = params.APIKey
	}
	if params.OrganizationName != "" {
		settings["organization_name"] = params.OrganizationName
	}
	if params.Subdomain != "" {
		settings["subdomain"] = params.Subdomain
	}

	body, status, err := b.do(fasthttp.MethodPost, "/v1/connections/initiate", map[string]interface{}{
		"owner_id":       ownerID,
		"auth_config_id": authConfigID,
		"settings":       settings,
	})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: initiate rejected (%d)", ErrBrokerUnavailable, status)
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	// Immediate flow: the broker confirmed the connection inline.
	if conn, ok := obj["connection"].(map[string]interface{}); ok {
		record := parseConnection(conn)
		return &InitiateResult{Connection: &record}, nil
	}
	if getString(obj, "status") != "" && getString(obj, "id") != "" && getString(obj, "redirect_url", "auth_url", "url") == "" {
		record := parseConnection(obj)
		return &InitiateResult{Connection: &record}, nil
	}

	// Redirect flow
	result := &InitiateResult{
		ConnectionRequestID: getString(obj, "connection_request_id", "request_id", "id"),
		AuthURL:             getString(obj, "redirect_url", "auth_url", "url"),
	}
	if result.ConnectionRequestID == "" || result.AuthURL == "" {
		return nil, fmt.Errorf("%w: initiate response missing redirect fields", ErrBrokerUnavailable)
	}
	return result, nil
}

// GetConnection fetches a single connection by id.
func (b *BrokerClient) GetConnection(connectionID string) (*BrokerConnection, error) {
	body, status, err := b.do(fasthttp.MethodGet, "/v1/connections/"+url.PathEscape(connectionID), nil)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusNotFound || status == fasthttp.StatusGone {
		return nil, ErrConnectionNotFound
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: get connection returned %d", ErrBrokerUnavailable, status)
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	// Some broker versions wrap the record.
	if inner, ok := obj["connection"].(map[string]interface{}); ok {
		obj = inner
	} else if inner, ok := obj["data"].(map[string]interface{}); ok {
		obj = inner
	}
	record := parseConnection(obj)
	if record.ID == "" {
		return nil, ErrConnectionNotFound
	}
	return &record, nil
}

// ListConnections returns every connection the broker holds for an owner,
// normalized from whichever list shape the broker chose to answer with.
func (b *BrokerClient) ListConnections(ownerID string) ([]BrokerConnection, error) {
	body, status, err := b.do(fasthttp.MethodGet, "/v1/connections?owner_id="+url.QueryEscape(ownerID), nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: list connections returned %d", ErrBrokerUnavailable, status)
	}

	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	connections := make([]BrokerConnection, 0, len(items))
	for _, item := range items {
		record := parseConnection(item)
		if record.ID != "" {
			connections = append(connections, record)
		}
	}
	return connections, nil
}

// RevokeConnection revokes a connection at the broker. An already-gone
// connection is treated as revoked.
func (b *BrokerClient) RevokeConnection(connectionID string) error {
	_, status, err := b.do(fasthttp.MethodDelete, "/v1/connections/"+url.PathEscape(connectionID), nil)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusNotFound || status == fasthttp.StatusGone {
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("%w: revoke returned %d", ErrBrokerUnavailable, status)
	}
	return nil
}

// ListRecords pulls provider-native records (leads, contacts, ...) through
// an established connection.
func (b *BrokerClient) ListRecords(connectionID, object string) ([]map[string]interface{}, error) {
	path := "/v1/connections/" + url.PathEscape(connectionID) + "/records?object=" + url.QueryEscape(object)
	body, status, err := b.do(fasthttp.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncFetch, err)
	}
	if status == fasthttp.StatusNotFound {
		return nil, fmt.Errorf("%w: %v", ErrSyncFetch, ErrConnectionNotFound)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: records fetch returned %d", ErrSyncFetch, status)
	}

	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncFetch, err)
	}
	return items, nil
}

// decodeObject parses a broker response body as a JSON object.
func decodeObject(body []byte) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %v", err)
	}
	return obj, nil
}

// listEnvelopeKeys are the wrapper keys the broker has been observed to use
// around list payloads.
var listEnvelopeKeys = []string{"data", "items", "connections", "results", "records"}

// decodeList normalizes any of the broker's list shapes (bare array, or an
// object wrapping the array under a well-known key) into []map.
func decodeList(body []byte) ([]map[string]interface{}, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr, nil
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	for _, key := range listEnvelopeKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if raw == nil {
			// Some broker endpoints serialize an empty list as null.
			return []map[string]interface{}{}, nil
		}
		items, ok := raw.([]interface{})
		if !ok {
			continue
		}
		out := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out, nil
	}
	// A single object stands in for a one-element list.
	if getString(obj, "id") != "" {
		return []map[string]interface{}{obj}, nil
	}
	return nil, fmt.Errorf("unrecognized list shape")
}

// parseConnection maps a loose broker record into the canonical form.
func parseConnection(m map[string]interface{}) BrokerConnection {
	record := BrokerConnection{
		ID:        getString(m, "id", "connection_id", "connectionId"),
		AppID:     getString(m, "app_id", "appId", "app_unique_id"),
		Toolkit:   getString(m, "toolkit", "provider", "integration", "app"),
		Status:    getString(m, "status", "state"),
		CreatedAt: getString(m, "created_at", "createdAt"),
	}
	for _, key := range []string{"auth_config", "authConfig", "config"} {
		if cfg, ok := m[key].(map[string]interface{}); ok {
			record.AuthConfig = cfg
			break
		}
	}
	// app id sometimes only lives inside the auth config
	if record.AppID == "" && record.AuthConfig != nil {
		record.AppID = getString(record.AuthConfig, "app_id", "appId", "app_unique_id")
	}
	return record
}

// getString returns the first non-empty string value among keys.
func getString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return fmt.Sprintf("%.0f", s)
			}
		}
	}
	return ""
}
