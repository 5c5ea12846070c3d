package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"textflow/config"
	"textflow/models"
	"textflow/utils"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

type workerFixture struct {
	worker *SyncWorker
	db     *gorm.DB
	user   models.User
	cell   models.Cell

	connectionStatus string
	records          []map[string]interface{}
	recordCalls      int
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	config.AppConfig.SyncWorkerInterval = time.Hour

	f := &workerFixture{
		db:               openTestDB(t),
		connectionStatus: "active",
		records: []map[string]interface{}{
			{"Id": "L1", "FirstName": "Ada", "LastName": "Lovelace", "Phone": "415-555-0100"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/records") {
			f.recordCalls++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": f.records})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"connection": map[string]interface{}{
				"connection_id": "c1",
				"app_id":        "salesforce",
				"status":        f.connectionStatus,
			},
		})
	}))
	t.Cleanup(srv.Close)

	broker := utils.NewBrokerClient(config.BrokerConfig{APIURL: srv.URL, SecretKey: "test-secret"})
	f.worker = NewSyncWorker(f.db, broker, log.New(io.Discard, "", 0))

	f.user = models.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, f.db.Create(&f.user).Error)

	f.cell = models.Cell{UserID: f.user.ID, Name: "Main line", PhoneNumber: "+14155550199", IsActive: true}
	require.NoError(t, f.db.Create(&f.cell).Error)

	return f
}

func (f *workerFixture) createIntegration(t *testing.T, mutate func(*models.Integration)) models.Integration {
	t.Helper()
	integration := models.Integration{
		UserID:       f.user.ID,
		Provider:     models.ProviderSalesforce,
		ConnectionID: "c1",
		AutoSync:     true,
	}
	if mutate != nil {
		mutate(&integration)
	}
	require.NoError(t, f.db.Create(&integration).Error)
	return integration
}

func TestWorkerSyncsStaleIntegration(t *testing.T) {
	f := newWorkerFixture(t)
	integration := f.createIntegration(t, nil)

	f.worker.processStaleIntegrations()

	var reloaded models.Integration
	require.NoError(t, f.db.First(&reloaded, integration.ID).Error)
	assert.Equal(t, 1, reloaded.SyncedContactsCount)
	require.NotNil(t, reloaded.LastSyncedAt)

	var mappings int64
	require.NoError(t, f.db.Model(&models.PhoneMapping{}).Count(&mappings).Error)
	assert.EqualValues(t, 1, mappings)
}

func TestWorkerSkipsFreshIntegration(t *testing.T) {
	f := newWorkerFixture(t)
	recent := time.Now().Add(-time.Minute)
	f.createIntegration(t, func(i *models.Integration) {
		i.LastSyncedAt = &recent
	})

	f.worker.processStaleIntegrations()

	assert.Equal(t, 0, f.recordCalls)
}

func TestWorkerIgnoresOptedOutAndLegacyRows(t *testing.T) {
	f := newWorkerFixture(t)
	f.createIntegration(t, func(i *models.Integration) {
		i.AutoSync = false
	})
	f.createIntegration(t, func(i *models.Integration) {
		i.Provider = models.ProviderHubspot
		i.CellID = &f.cell.ID
	})
	f.createIntegration(t, func(i *models.Integration) {
		i.Provider = models.ProviderAttio
		i.ConnectionID = ""
	})

	f.worker.processStaleIntegrations()

	assert.Equal(t, 0, f.recordCalls)
}

func TestWorkerSkipsInactiveConnection(t *testing.T) {
	f := newWorkerFixture(t)
	f.connectionStatus = "revoked"
	integration := f.createIntegration(t, nil)

	f.worker.processStaleIntegrations()

	assert.Equal(t, 0, f.recordCalls)

	var reloaded models.Integration
	require.NoError(t, f.db.First(&reloaded, integration.ID).Error)
	assert.Nil(t, reloaded.LastSyncedAt)
}
