package utils

import (
	"strings"

	"textflow/models"
)

// Lead is the provider-agnostic shape of one fetched CRM record: display
// fields plus zero-or-more raw phone candidates.
type Lead struct {
	ExternalID  string
	FirstName   string
	LastName    string
	Email       string
	CompanyName string
	Phones      []string
}

// LeadExtractor maps one provider-native record into a Lead.
type LeadExtractor func(record map[string]interface{}) Lead

// Auth modes: API-key providers connect synchronously, OAuth providers go
// through the broker's redirect flow.
const (
	AuthModeOAuth  = "oauth"
	AuthModeAPIKey = "api_key"
)

// Required connect parameters, validated as non-empty strings.
const (
	ParamNone             = ""
	ParamAPIKey           = "apiKey"
	ParamOrganizationName = "organizationName"
	ParamSubdomain        = "subdomain"
)

// ProviderSpec describes one CRM/helpdesk integration: how to establish a
// broker connection for it, how to recognize its connections in a broker
// listing, and how to read its lead records.
type ProviderSpec struct {
	Key           string
	DisplayName   string
	AuthMode      string
	RequiredParam string
	BrokerAppID   string
	MatchTerms    []string
	LeadObject    string
	Legacy        bool // still supports per-cell integration rows
	Extract       LeadExtractor
}

// Matches decides whether a broker connection record belongs to this
// provider. Heuristic cascade: exact app-id, case-insensitive toolkit term
// (equality before substring), then nested auth-config fields.
func (p *ProviderSpec) Matches(rec *BrokerConnection) bool {
	if p.BrokerAppID != "" && rec.AppID == p.BrokerAppID {
		return true
	}

	toolkit := strings.ToLower(rec.Toolkit)
	for _, term := range p.MatchTerms {
		if strings.EqualFold(rec.Toolkit, term) {
			return true
		}
	}
	for _, term := range p.MatchTerms {
		if toolkit != "" && strings.Contains(toolkit, strings.ToLower(term)) {
			return true
		}
	}

	if rec.AuthConfig != nil {
		for _, key := range []string{"app_id", "toolkit", "provider"} {
			v, ok := rec.AuthConfig[key].(string)
			if !ok || v == "" {
				continue
			}
			if v == p.BrokerAppID {
				return true
			}
			lower := strings.ToLower(v)
			for _, term := range p.MatchTerms {
				if strings.Contains(lower, strings.ToLower(term)) {
					return true
				}
			}
		}
	}
	return false
}

// FindActiveMatch selects the provider's active connection out of a broker
// listing, or nil.
func (p *ProviderSpec) FindActiveMatch(connections []BrokerConnection) *BrokerConnection {
	for i := range connections {
		if p.Matches(&connections[i]) && connections[i].IsActive() {
			return &connections[i]
		}
	}
	return nil
}

var providerRegistry = map[string]*ProviderSpec{
	models.ProviderSalesforce: {
		Key:         models.ProviderSalesforce,
		DisplayName: "Salesforce",
		AuthMode:    AuthModeOAuth,
		BrokerAppID: "ca_salesforce",
		MatchTerms:  []string{"salesforce", "sfdc"},
		LeadObject:  "Lead",
		Legacy:      true,
		Extract:     extractSalesforceLead,
	},
	models.ProviderHubspot: {
		Key:         models.ProviderHubspot,
		DisplayName: "HubSpot",
		AuthMode:    AuthModeOAuth,
		BrokerAppID: "ca_hubspot",
		MatchTerms:  []string{"hubspot"},
		LeadObject:  "contacts",
		Legacy:      true,
		Extract:     extractHubspotContact,
	},
	models.ProviderDynamics365: {
		Key:           models.ProviderDynamics365,
		DisplayName:   "Dynamics 365",
		AuthMode:      AuthModeOAuth,
		RequiredParam: ParamOrganizationName,
		BrokerAppID:   "ca_dynamics365",
		MatchTerms:    []string{"dynamics365", "dynamics", "microsoft_dynamics"},
		LeadObject:    "leads",
		Extract:       extractDynamicsLead,
	},
	models.ProviderZoho: {
		Key:         models.ProviderZoho,
		DisplayName: "Zoho CRM",
		AuthMode:    AuthModeOAuth,
		BrokerAppID: "ca_zoho_crm",
		MatchTerms:  []string{"zoho_crm", "zohocrm"},
		LeadObject:  "Leads",
		Extract:     extractZohoLead,
	},
	models.ProviderZohoBigin: {
		Key:         models.ProviderZohoBigin,
		DisplayName: "Zoho Bigin",
		AuthMode:    AuthModeOAuth,
		BrokerAppID: "ca_zoho_bigin",
		MatchTerms:  []string{"zoho_bigin", "bigin"},
		LeadObject:  "Contacts",
		Extract:     extractZohoLead,
	},
	models.ProviderAgencyZoom: {
		Key:           models.ProviderAgencyZoom,
		DisplayName:   "AgencyZoom",
		AuthMode:      AuthModeAPIKey,
		RequiredParam: ParamAPIKey,
		BrokerAppID:   "ca_agencyzoom",
		MatchTerms:    []string{"agencyzoom", "agency_zoom"},
		LeadObject:    "leads",
		Extract:       extractAgencyZoomLead,
	},
	models.ProviderAttio: {
		Key:           models.ProviderAttio,
		DisplayName:   "Attio",
		AuthMode:      AuthModeAPIKey,
		RequiredParam: ParamAPIKey,
		BrokerAppID:   "ca_attio",
		MatchTerms:    []string{"attio"},
		LeadObject:    "people",
		Extract:       extractAttioPerson,
	},
	models.ProviderZendesk: {
		Key:           models.ProviderZendesk,
		DisplayName:   "Zendesk",
		AuthMode:      AuthModeOAuth,
		RequiredParam: ParamSubdomain,
		BrokerAppID:   "ca_zendesk",
		MatchTerms:    []string{"zendesk"},
		LeadObject:    "users",
		Extract:       extractZendeskUser,
	},
}

// GetProviderSpec looks a provider up by route key.
func GetProviderSpec(key string) (*ProviderSpec, bool) {
	spec, ok := providerRegistry[strings.ToLower(key)]
	return spec, ok
}

// ValidateConnectParams checks the provider's required connect parameter.
func (p *ProviderSpec) ValidateConnectParams(params ConnectParams) error {
	switch p.RequiredParam {
	case ParamAPIKey:
		if strings.TrimSpace(params.APIKey) == "" {
			return &ValidationError{Field: "apiKey", Reason: "required for " + p.DisplayName}
		}
	case ParamOrganizationName:
		if strings.TrimSpace(params.OrganizationName) == "" {
			return &ValidationError{Field: "organizationName", Reason: "required for " + p.DisplayName}
		}
	case ParamSubdomain:
		if strings.TrimSpace(params.Subdomain) == "" {
			return &ValidationError{Field: "subdomain", Reason: "required for " + p.DisplayName}
		}
	}
	return nil
}

// ---- per-provider record readers ----

func extractSalesforceLead(record map[string]interface{}) Lead {
	return Lead{
		ExternalID:  getString(record, "Id", "id"),
		FirstName:   getString(record, "FirstName"),
		LastName:    getString(record, "LastName"),
		Email:       getString(record, "Email"),
		CompanyName: getString(record, "Company"),
		Phones:      collectPhones(record, "Phone", "MobilePhone"),
	}
}

func extractHubspotContact(record map[string]interface{}) Lead {
	props, _ := record["properties"].(map[string]interface{})
	if props == nil {
		props = record
	}
	return Lead{
		ExternalID:  getString(record, "id", "vid"),
		FirstName:   getString(props, "firstname"),
		LastName:    getString(props, "lastname"),
		Email:       getString(props, "email"),
		CompanyName: getString(props, "company"),
		Phones:      collectPhones(props, "phone", "mobilephone"),
	}
}

func extractDynamicsLead(record map[string]interface{}) Lead {
	return Lead{
		ExternalID:  getString(record, "leadid", "contactid", "id"),
		FirstName:   getString(record, "firstname"),
		LastName:    getString(record, "lastname"),
		Email:       getString(record, "emailaddress1"),
		CompanyName: getString(record, "companyname"),
		Phones:      collectPhones(record, "telephone1", "mobilephone"),
	}
}

func extractZohoLead(record map[string]interface{}) Lead {
	return Lead{
		ExternalID:  getString(record, "id"),
		FirstName:   getString(record, "First_Name"),
		LastName:    getString(record, "Last_Name"),
		Email:       getString(record, "Email"),
		CompanyName: getString(record, "Company", "Account_Name"),
		Phones:      collectPhones(record, "Phone", "Mobile"),
	}
}

func extractAgencyZoomLead(record map[string]interface{}) Lead {
	return Lead{
		ExternalID:  getString(record, "leadId", "id"),
		FirstName:   getString(record, "firstName"),
		LastName:    getString(record, "lastName"),
		Email:       getString(record, "email"),
		CompanyName: getString(record, "businessName", "company"),
		Phones:      collectPhones(record, "phone", "cellPhone", "workPhone"),
	}
}

// Attio nests everything under values, each attribute an array of value
// objects.
func extractAttioPerson(record map[string]interface{}) Lead {
	lead := Lead{}

	if id, ok := record["id"].(map[string]interface{}); ok {
		lead.ExternalID = getString(id, "record_id")
	}
	if lead.ExternalID == "" {
		lead.ExternalID = getString(record, "id")
	}

	values, _ := record["values"].(map[string]interface{})
	if values == nil {
		return lead
	}
	if name := firstValueEntry(values, "name"); name != nil {
		lead.FirstName = getString(name, "first_name")
		lead.LastName = getString(name, "last_name")
	}
	if email := firstValueEntry(values, "email_addresses"); email != nil {
		lead.Email = getString(email, "email_address")
	}
	if company := firstValueEntry(values, "company"); company != nil {
		lead.CompanyName = getString(company, "name", "value")
	}
	if entries, ok := values["phone_numbers"].([]interface{}); ok {
		for _, entry := range entries {
			if m, ok := entry.(map[string]interface{}); ok {
				if phone := getString(m, "phone_number", "original_phone_number"); phone != "" {
					lead.Phones = append(lead.Phones, phone)
				}
			}
		}
	}
	return lead
}

func extractZendeskUser(record map[string]interface{}) Lead {
	first, last := splitName(getString(record, "name"))
	return Lead{
		ExternalID:  getString(record, "id"),
		FirstName:   first,
		LastName:    last,
		Email:       getString(record, "email"),
		CompanyName: getString(record, "organization_name"),
		Phones:      collectPhones(record, "phone", "shared_phone_number"),
	}
}

func collectPhones(m map[string]interface{}, keys ...string) []string {
	var phones []string
	for _, key := range keys {
		if phone := getString(m, key); phone != "" {
			phones = append(phones, phone)
		}
	}
	return phones
}

func firstValueEntry(values map[string]interface{}, key string) map[string]interface{} {
	entries, ok := values[key].([]interface{})
	if !ok || len(entries) == 0 {
		return nil
	}
	m, _ := entries[0].(map[string]interface{})
	return m
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
