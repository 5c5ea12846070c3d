package models

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

func uintPtr(v uint) *uint { return &v }

func TestIntegrationScopeSeparatesPrincipals(t *testing.T) {
	db := openTestDB(t)

	// same provider, three distinct scopes
	rows := []Integration{
		{UserID: 1, Provider: ProviderSalesforce, ConnectionID: "user-row"},
		{UserID: 1, OrganizationID: uintPtr(9), Provider: ProviderSalesforce, ConnectionID: "org-row"},
		{UserID: 1, CellID: uintPtr(5), Provider: ProviderSalesforce, ConnectionID: "cell-row"},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	solo, err := FindIntegration(db, IntegrationScope{UserID: 1}, ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "user-row", solo.ConnectionID)

	org, err := FindIntegration(db, IntegrationScope{UserID: 1, OrgID: uintPtr(9)}, ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "org-row", org.ConnectionID)

	cell, err := FindIntegration(db, IntegrationScope{UserID: 1, CellID: uintPtr(5)}, ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "cell-row", cell.ConnectionID)

	_, err = FindIntegration(db, IntegrationScope{UserID: 2}, ProviderSalesforce)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGlobalScopeUniquePerProvider(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Create(&Integration{UserID: 1, Provider: ProviderSalesforce, ConnectionID: "a"}).Error)

	// second global row for the same user and provider hits the partial index
	err := db.Create(&Integration{UserID: 1, Provider: ProviderSalesforce, ConnectionID: "b"}).Error
	require.Error(t, err)

	// org rows are a distinct scope, but duplicate within it
	require.NoError(t, db.Create(&Integration{UserID: 1, OrganizationID: uintPtr(9), Provider: ProviderSalesforce, ConnectionID: "c"}).Error)
	err = db.Create(&Integration{UserID: 1, OrganizationID: uintPtr(9), Provider: ProviderSalesforce, ConnectionID: "d"}).Error
	require.Error(t, err)

	// a soft-deleted row does not block reconnecting
	require.NoError(t, DeleteIntegration(db, IntegrationScope{UserID: 1}, ProviderSalesforce))
	require.NoError(t, db.Create(&Integration{UserID: 1, Provider: ProviderSalesforce, ConnectionID: "e"}).Error)
}

func TestUpsertIntegrationReusesExistingRow(t *testing.T) {
	db := openTestDB(t)
	scope := IntegrationScope{UserID: 1}

	first, err := UpsertIntegration(db, scope, ProviderHubspot, "c1")
	require.NoError(t, err)
	require.NotNil(t, first.ConnectedAt)

	second, err := UpsertIntegration(db, scope, ProviderHubspot, "c2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "c2", second.ConnectionID)

	var count int64
	require.NoError(t, db.Model(&Integration{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertIntegrationKeepsProvidersApart(t *testing.T) {
	db := openTestDB(t)
	scope := IntegrationScope{UserID: 1}

	_, err := UpsertIntegration(db, scope, ProviderHubspot, "c1")
	require.NoError(t, err)
	_, err = UpsertIntegration(db, scope, ProviderAttio, "c2")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Integration{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDeleteIntegrationIsScopeBound(t *testing.T) {
	db := openTestDB(t)

	_, err := UpsertIntegration(db, IntegrationScope{UserID: 1}, ProviderZendesk, "c1")
	require.NoError(t, err)
	_, err = UpsertIntegration(db, IntegrationScope{UserID: 2}, ProviderZendesk, "c2")
	require.NoError(t, err)

	require.NoError(t, DeleteIntegration(db, IntegrationScope{UserID: 1}, ProviderZendesk))

	_, err = FindIntegration(db, IntegrationScope{UserID: 1}, ProviderZendesk)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	other, err := FindIntegration(db, IntegrationScope{UserID: 2}, ProviderZendesk)
	require.NoError(t, err)
	assert.Equal(t, "c2", other.ConnectionID)

	// deleting a missing row is not an error
	assert.NoError(t, DeleteIntegration(db, IntegrationScope{UserID: 1}, ProviderZendesk))
}

func TestHasLegacyTokens(t *testing.T) {
	assert.True(t, (&Integration{AccessToken: "a", RefreshToken: "r"}).HasLegacyTokens())
	assert.False(t, (&Integration{AccessToken: "a"}).HasLegacyTokens())
	assert.False(t, (&Integration{}).HasLegacyTokens())
}

func TestPhoneMappingUniquePerCell(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Create(&PhoneMapping{PhoneNumber: "+14155550100", CellID: 1}).Error)
	// same number into a different cell is fine
	require.NoError(t, db.Create(&PhoneMapping{PhoneNumber: "+14155550100", CellID: 2}).Error)
	// duplicate (number, cell) violates the composite key
	assert.Error(t, db.Create(&PhoneMapping{PhoneNumber: "+14155550100", CellID: 1}).Error)
}

func TestContactTableName(t *testing.T) {
	assert.Equal(t, "salesforce_contacts", ContactTableName(ProviderSalesforce))
	for _, provider := range ProviderKeys {
		assert.Equal(t, provider+"_contacts", ContactTableName(provider))
	}
}
