package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textflow/models"
)

func TestGetProviderSpec(t *testing.T) {
	for _, key := range models.ProviderKeys {
		spec, ok := GetProviderSpec(key)
		require.True(t, ok, "missing spec for %s", key)
		assert.Equal(t, key, spec.Key)
		assert.NotNil(t, spec.Extract)
		assert.NotEmpty(t, spec.LeadObject)
	}

	_, ok := GetProviderSpec("pipedrive")
	assert.False(t, ok)

	// route keys are case-insensitive
	spec, ok := GetProviderSpec("Salesforce")
	require.True(t, ok)
	assert.Equal(t, models.ProviderSalesforce, spec.Key)
}

func TestProviderSpecMatches(t *testing.T) {
	salesforce, _ := GetProviderSpec(models.ProviderSalesforce)
	zoho, _ := GetProviderSpec(models.ProviderZoho)
	bigin, _ := GetProviderSpec(models.ProviderZohoBigin)

	tests := []struct {
		name string
		spec *ProviderSpec
		rec  BrokerConnection
		want bool
	}{
		{"exact app id", salesforce, BrokerConnection{AppID: "ca_salesforce"}, true},
		{"toolkit equality case-insensitive", salesforce, BrokerConnection{Toolkit: "Salesforce"}, true},
		{"toolkit substring", salesforce, BrokerConnection{Toolkit: "salesforce_crm_v2"}, true},
		{"alias term", salesforce, BrokerConnection{Toolkit: "SFDC"}, true},
		{"auth config app id", salesforce, BrokerConnection{
			AuthConfig: map[string]interface{}{"app_id": "ca_salesforce"},
		}, true},
		{"auth config toolkit substring", salesforce, BrokerConnection{
			AuthConfig: map[string]interface{}{"toolkit": "my-salesforce-config"},
		}, true},
		{"no signal", salesforce, BrokerConnection{AppID: "ca_hubspot", Toolkit: "hubspot"}, false},
		{"empty record", salesforce, BrokerConnection{}, false},
		{"zoho crm does not claim bigin", zoho, BrokerConnection{AppID: "ca_zoho_bigin", Toolkit: "zoho_bigin"}, false},
		{"bigin claims bigin", bigin, BrokerConnection{Toolkit: "zoho_bigin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Matches(&tt.rec))
		})
	}
}

func TestFindActiveMatchSkipsInactive(t *testing.T) {
	hubspot, _ := GetProviderSpec(models.ProviderHubspot)

	connections := []BrokerConnection{
		{ID: "c1", AppID: "ca_hubspot", Status: "expired"},
		{ID: "c2", AppID: "ca_salesforce", Status: "active"},
		{ID: "c3", AppID: "ca_hubspot", Status: "ACTIVE"},
	}

	match := hubspot.FindActiveMatch(connections)
	require.NotNil(t, match)
	assert.Equal(t, "c3", match.ID)

	assert.Nil(t, hubspot.FindActiveMatch(connections[:2]))
}

func TestValidateConnectParams(t *testing.T) {
	salesforce, _ := GetProviderSpec(models.ProviderSalesforce)
	agencyzoom, _ := GetProviderSpec(models.ProviderAgencyZoom)
	dynamics, _ := GetProviderSpec(models.ProviderDynamics365)
	zendesk, _ := GetProviderSpec(models.ProviderZendesk)

	assert.NoError(t, salesforce.ValidateConnectParams(ConnectParams{}))

	err := agencyzoom.ValidateConnectParams(ConnectParams{})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "apiKey", ve.Field)
	assert.NoError(t, agencyzoom.ValidateConnectParams(ConnectParams{APIKey: "sk_test"}))
	assert.Error(t, agencyzoom.ValidateConnectParams(ConnectParams{APIKey: "   "}))

	assert.Error(t, dynamics.ValidateConnectParams(ConnectParams{}))
	assert.NoError(t, dynamics.ValidateConnectParams(ConnectParams{OrganizationName: "contoso"}))

	assert.Error(t, zendesk.ValidateConnectParams(ConnectParams{}))
	assert.NoError(t, zendesk.ValidateConnectParams(ConnectParams{Subdomain: "acme"}))
}

func TestExtractHubspotContact(t *testing.T) {
	lead := extractHubspotContact(map[string]interface{}{
		"id": "501",
		"properties": map[string]interface{}{
			"firstname":   "Ada",
			"lastname":    "Lovelace",
			"email":       "ada@example.com",
			"company":     "Analytical Engines",
			"phone":       "(415) 555-0100",
			"mobilephone": "+14155550101",
		},
	})

	assert.Equal(t, "501", lead.ExternalID)
	assert.Equal(t, "Ada", lead.FirstName)
	assert.Equal(t, "Lovelace", lead.LastName)
	assert.Equal(t, "ada@example.com", lead.Email)
	assert.Equal(t, "Analytical Engines", lead.CompanyName)
	assert.Equal(t, []string{"(415) 555-0100", "+14155550101"}, lead.Phones)
}

func TestExtractHubspotContactFlatRecord(t *testing.T) {
	// some broker proxies flatten properties into the record itself
	lead := extractHubspotContact(map[string]interface{}{
		"vid":       float64(99),
		"firstname": "Flat",
		"phone":     "5550100",
	})
	assert.Equal(t, "99", lead.ExternalID)
	assert.Equal(t, "Flat", lead.FirstName)
	assert.Equal(t, []string{"5550100"}, lead.Phones)
}

func TestExtractAttioPerson(t *testing.T) {
	lead := extractAttioPerson(map[string]interface{}{
		"id": map[string]interface{}{"record_id": "rec_123"},
		"values": map[string]interface{}{
			"name": []interface{}{
				map[string]interface{}{"first_name": "Grace", "last_name": "Hopper"},
			},
			"email_addresses": []interface{}{
				map[string]interface{}{"email_address": "grace@example.com"},
			},
			"phone_numbers": []interface{}{
				map[string]interface{}{"phone_number": "+14155550100"},
				map[string]interface{}{"original_phone_number": "+14155550101"},
			},
		},
	})

	assert.Equal(t, "rec_123", lead.ExternalID)
	assert.Equal(t, "Grace", lead.FirstName)
	assert.Equal(t, "Hopper", lead.LastName)
	assert.Equal(t, "grace@example.com", lead.Email)
	assert.Equal(t, []string{"+14155550100", "+14155550101"}, lead.Phones)
}

func TestExtractAttioPersonWithoutValues(t *testing.T) {
	lead := extractAttioPerson(map[string]interface{}{"id": "rec_9"})
	assert.Equal(t, "rec_9", lead.ExternalID)
	assert.Empty(t, lead.Phones)
}

func TestExtractZendeskUserSplitsName(t *testing.T) {
	lead := extractZendeskUser(map[string]interface{}{
		"id":    float64(314),
		"name":  "Alan Mathison Turing",
		"email": "alan@example.com",
		"phone": "+442079460000",
	})

	assert.Equal(t, "314", lead.ExternalID)
	assert.Equal(t, "Alan", lead.FirstName)
	assert.Equal(t, "Mathison Turing", lead.LastName)

	single := extractZendeskUser(map[string]interface{}{"name": "Cher"})
	assert.Equal(t, "Cher", single.FirstName)
	assert.Empty(t, single.LastName)
}

func TestExtractSalesforceLead(t *testing.T) {
	lead := extractSalesforceLead(map[string]interface{}{
		"Id":          "00Q123",
		"FirstName":   "Marie",
		"LastName":    "Curie",
		"Email":       "marie@example.com",
		"Company":     "Radium Labs",
		"Phone":       "555-0100",
		"MobilePhone": "555-0101",
	})

	assert.Equal(t, "00Q123", lead.ExternalID)
	assert.Equal(t, "Radium Labs", lead.CompanyName)
	assert.Len(t, lead.Phones, 2)
}
