package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textflow/config"
)

func newTestBroker(t *testing.T, handler http.HandlerFunc) *BrokerClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBrokerClient(config.BrokerConfig{
		APIURL:    srv.URL,
		SecretKey: "test-secret",
	})
}

func TestBrokerClientSendsBearerAuth(t *testing.T) {
	var gotAuth string
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{})
	})

	_, err := broker.ListConnections("textflow-user-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-secret", gotAuth)
}

func TestListConnectionsShapeNormalization(t *testing.T) {
	conn := map[string]interface{}{"id": "c1", "toolkit": "salesforce", "status": "active"}

	shapes := map[string]interface{}{
		"bare array":           []interface{}{conn},
		"data envelope":        map[string]interface{}{"data": []interface{}{conn}},
		"items envelope":       map[string]interface{}{"items": []interface{}{conn}},
		"connections envelope": map[string]interface{}{"connections": []interface{}{conn}},
	}

	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(shape)
			})

			connections, err := broker.ListConnections("owner")
			require.NoError(t, err)
			require.Len(t, connections, 1)
			assert.Equal(t, "c1", connections[0].ID)
			assert.Equal(t, "salesforce", connections[0].Toolkit)
			assert.True(t, connections[0].IsActive())
		})
	}
}

func TestListConnectionsNullEnvelopeIsEmpty(t *testing.T) {
	// some endpoints serialize an empty list as an explicit null
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": nil})
	})

	connections, err := broker.ListConnections("owner")
	require.NoError(t, err)
	assert.Empty(t, connections)
}

func TestListConnectionsKeyAliases(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"connection_id": "c9",
				"appId":         "ca_hubspot",
				"provider":      "hubspot",
				"state":         "ready",
			},
		})
	})

	connections, err := broker.ListConnections("owner")
	require.NoError(t, err)
	require.Len(t, connections, 1)
	assert.Equal(t, "c9", connections[0].ID)
	assert.Equal(t, "ca_hubspot", connections[0].AppID)
	assert.Equal(t, "hubspot", connections[0].Toolkit)
	assert.Equal(t, "ready", connections[0].Status)
}

func TestGetConnectionUnwrapsEnvelopes(t *testing.T) {
	for _, wrapper := range []string{"connection", "data"} {
		t.Run(wrapper, func(t *testing.T) {
			broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					wrapper: map[string]interface{}{"id": "c1", "status": "active"},
				})
			})

			conn, err := broker.GetConnection("c1")
			require.NoError(t, err)
			assert.Equal(t, "c1", conn.ID)
		})
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := broker.GetConnection("gone")
		assert.ErrorIs(t, err, ErrConnectionNotFound, "status %d", status)
	}
}

func TestGetConnectionServerErrorIsBrokerUnavailable(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := broker.GetConnection("c1")
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestBrokerUnreachableIsBrokerUnavailable(t *testing.T) {
	broker := NewBrokerClient(config.BrokerConfig{
		APIURL:    "http://127.0.0.1:1",
		SecretKey: "test",
	})

	_, err := broker.ListConnections("owner")
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestEnsureAuthConfig(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/auth-configs", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "salesforce", body["toolkit"])
		assert.Equal(t, "ca_salesforce", body["app_id"])

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ac_1"})
	})

	id, err := broker.EnsureAuthConfig("salesforce", "ca_salesforce")
	require.NoError(t, err)
	assert.Equal(t, "ac_1", id)
}

func TestEnsureAuthConfigRejected(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := broker.EnsureAuthConfig("salesforce", "ca_salesforce")
	assert.Error(t, err)
}

func TestInitiateConnectionImmediate(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"connection": map[string]interface{}{
				"id":      "c_api",
				"toolkit": "attio",
				"status":  "active",
			},
		})
	})

	result, err := broker.InitiateConnection("owner", "ac_1", ConnectParams{APIKey: "sk"})
	require.NoError(t, err)
	require.NotNil(t, result.Connection)
	assert.Equal(t, "c_api", result.Connection.ID)
	assert.True(t, result.Connection.IsActive())
}

func TestInitiateConnectionRedirect(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "owner", body["owner_id"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"connection_request_id": "req_1",
			"redirect_url":          "https://broker.example/authorize/req_1",
		})
	})

	result, err := broker.InitiateConnection("owner", "ac_1", ConnectParams{})
	require.NoError(t, err)
	assert.Nil(t, result.Connection)
	assert.Equal(t, "req_1", result.ConnectionRequestID)
	assert.Equal(t, "https://broker.example/authorize/req_1", result.AuthURL)
}

func TestInitiateConnectionMissingRedirectFields(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"something": "else"})
	})

	_, err := broker.InitiateConnection("owner", "ac_1", ConnectParams{})
	assert.Error(t, err)
}

func TestRevokeConnectionTreatsGoneAsRevoked(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone} {
		broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(status)
		})
		assert.NoError(t, broker.RevokeConnection("c1"), "status %d", status)
	}
}

func TestListRecords(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/connections/c1/records", r.URL.Path)
		assert.Equal(t, "Lead", r.URL.Query().Get("object"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []interface{}{
				map[string]interface{}{"Id": "00Q1", "Phone": "555-0100"},
			},
		})
	})

	records, err := broker.ListRecords("c1", "Lead")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "00Q1", records[0]["Id"])
}

func TestListRecordsFailureIsSyncFetch(t *testing.T) {
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := broker.ListRecords("c1", "Lead")
	assert.ErrorIs(t, err, ErrSyncFetch)
}

func TestGetConnectionSingleObjectWithId(t *testing.T) {
	// a bare object (no envelope) should parse directly
	broker := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "c7",
			"app_id":      "ca_zendesk",
			"status":      "Connected",
			"auth_config": map[string]interface{}{"subdomain": "acme"},
		})
	})

	conn, err := broker.GetConnection("c7")
	require.NoError(t, err)
	assert.Equal(t, "c7", conn.ID)
	assert.Equal(t, "ca_zendesk", conn.AppID)
	assert.True(t, conn.IsActive())
	assert.Equal(t, "acme", conn.AuthConfig["subdomain"])
}
