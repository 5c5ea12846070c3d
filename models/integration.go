package models

import (
	"time"

	"gorm.io/gorm"
)

// Supported CRM/helpdesk providers. Each key doubles as the route segment
// and the prefix of the provider's contact shadow table.
const (
	ProviderSalesforce  = "salesforce"
	ProviderHubspot     = "hubspot"
	ProviderDynamics365 = "dynamics365"
	ProviderZoho        = "zoho"
	ProviderZohoBigin   = "zoho_bigin"
	ProviderAgencyZoom  = "agencyzoom"
	ProviderAttio       = "attio"
	ProviderZendesk     = "zendesk"
)

// ProviderKeys lists every supported provider, in route order.
var ProviderKeys = []string{
	ProviderSalesforce,
	ProviderHubspot,
	ProviderDynamics365,
	ProviderZoho,
	ProviderZohoBigin,
	ProviderAgencyZoom,
	ProviderAttio,
	ProviderZendesk,
}

// Integration is one linked provider connection. Two mutually exclusive
// scopes exist: global rows are keyed by (user/org, provider) and serve all
// of the principal's cells; legacy rows are keyed by (cell, provider).
type Integration struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	OrganizationID *uint `gorm:"index" json:"organization_id,omitempty"`
	CellID         *uint `gorm:"index;uniqueIndex:uniq_cell_provider" json:"cell_id,omitempty"`

	Provider string `gorm:"not null;index;uniqueIndex:uniq_cell_provider" json:"provider"`

	// Broker-managed connection reference (current path)
	ConnectionID string `gorm:"index" json:"connection_id,omitempty"`

	// Encrypted copy of the connect-time API key, kept so an API-key
	// connection the broker lost can be re-established without asking the
	// user again. Empty for OAuth providers.
	APIKeyCipher string `json:"-"`

	// Legacy direct-token path, encrypted at rest. Mutually exclusive with
	// ConnectionID in practice.
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	InstanceURL  string `json:"instance_url,omitempty"`

	ConnectedAt         *time.Time `json:"connected_at,omitempty"`
	LastSyncedAt        *time.Time `json:"last_synced_at,omitempty"`
	SyncedContactsCount int        `gorm:"default:0" json:"synced_contacts_count"`

	// When set, the background worker re-syncs this integration periodically.
	AutoSync bool `gorm:"default:false" json:"auto_sync"`
}

// HasLegacyTokens reports whether this row predates the broker model and
// still carries its own credentials.
func (i *Integration) HasLegacyTokens() bool {
	return i.AccessToken != "" && i.RefreshToken != ""
}

// IntegrationScope identifies who owns an integration row: the whole
// principal (CellID nil) or a single cell (legacy). All store queries branch
// on this one tag.
type IntegrationScope struct {
	UserID uint
	OrgID  *uint
	CellID *uint
}

// Apply narrows a query to this scope. Used as a gorm scope:
// db.Scopes(scope.Apply).
func (s IntegrationScope) Apply(db *gorm.DB) *gorm.DB {
	if s.CellID != nil {
		return db.Where("cell_id = ?", *s.CellID)
	}
	q := db.Where("cell_id IS NULL AND user_id = ?", s.UserID)
	if s.OrgID != nil {
		return q.Where("organization_id = ?", *s.OrgID)
	}
	return q.Where("organization_id IS NULL")
}

// FindIntegration loads the single integration row for a scope+provider, or
// gorm.ErrRecordNotFound.
func FindIntegration(db *gorm.DB, scope IntegrationScope, provider string) (*Integration, error) {
	var integration Integration
	err := db.Scopes(scope.Apply).Where("provider = ?", provider).First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

// UpsertIntegration creates the scope's row for a provider or points the
// existing one at a new broker connection. At most one row per scope key per
// provider survives either path.
func UpsertIntegration(db *gorm.DB, scope IntegrationScope, provider, connectionID string) (*Integration, error) {
	now := time.Now()

	existing, err := FindIntegration(db, scope, provider)
	if err == nil {
		existing.ConnectionID = connectionID
		existing.ConnectedAt = &now
		if err := db.Save(existing).Error; err != nil {
			return nil, err
		}
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	integration := Integration{
		UserID:         scope.UserID,
		OrganizationID: scope.OrgID,
		CellID:         scope.CellID,
		Provider:       provider,
		ConnectionID:   connectionID,
		ConnectedAt:    &now,
	}
	if err := db.Create(&integration).Error; err != nil {
		return nil, err
	}
	return &integration, nil
}

// DeleteIntegration removes the scope's row for a provider. Deleting a
// missing row is not an error.
func DeleteIntegration(db *gorm.DB, scope IntegrationScope, provider string) error {
	return db.Scopes(scope.Apply).
		Where("provider = ?", provider).
		Delete(&Integration{}).Error
}

// PhoneMapping links a canonical phone number into a cell's addressable
// contact space. Rows are created once per (number, cell) during sync and
// never mutated afterward.
type PhoneMapping struct {
	gorm.Model
	PhoneNumber string `gorm:"not null;uniqueIndex:uniq_phone_cell" json:"phone_number"`
	CellID      uint   `gorm:"not null;index;uniqueIndex:uniq_phone_cell" json:"cell_id"`
}

// ProviderContact is the shadow copy of a provider's contact record, one
// structurally identical table per provider ({provider}_contacts). Display
// fields are overwritten on every sync pass; the row itself is keyed like
// PhoneMapping.
type ProviderContact struct {
	gorm.Model
	PhoneNumber string `gorm:"not null" json:"phone_number"`
	CellID      uint   `gorm:"not null" json:"cell_id"`

	ExternalID  string `gorm:"index" json:"external_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	CompanyName string `json:"company_name"`
}

// ContactTableName returns the shadow table for a provider key.
func ContactTableName(provider string) string {
	return provider + "_contacts"
}
