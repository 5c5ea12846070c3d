package worker

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"textflow/config"
	"textflow/models"
	"textflow/utils"
)

// SyncWorker periodically re-syncs contacts for integrations that opted into
// auto sync and have gone stale.
type SyncWorker struct {
	DB     *gorm.DB
	Broker *utils.BrokerClient
	Engine *utils.ContactSyncEngine
	Logger *log.Logger
}

func NewSyncWorker(db *gorm.DB, broker *utils.BrokerClient, logger *log.Logger) *SyncWorker {
	return &SyncWorker{
		DB:     db,
		Broker: broker,
		Engine: utils.NewContactSyncEngine(db, broker, logger),
		Logger: logger,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sync worker started")

	ticker := time.NewTicker(config.AppConfig.SyncWorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sync worker shutting down...")
			return
		case <-ticker.C:
			sw.processStaleIntegrations()
		}
	}
}

// processStaleIntegrations runs one auto-sync sweep. An integration is stale
// when it has never synced or its last pass is older than the worker
// interval.
func (sw *SyncWorker) processStaleIntegrations() {
	cutoff := time.Now().Add(-config.AppConfig.SyncWorkerInterval)

	var integrations []models.Integration
	err := sw.DB.
		Where("auto_sync = ? AND cell_id IS NULL AND connection_id <> ''", true).
		Where("last_synced_at IS NULL OR last_synced_at < ?", cutoff).
		Find(&integrations).Error
	if err != nil {
		sw.Logger.Printf("Error fetching stale integrations: %v", err)
		return
	}

	for i := range integrations {
		if err := sw.syncIntegration(&integrations[i]); err != nil {
			sw.Logger.Printf("Error syncing integration %d (%s): %v",
				integrations[i].ID, integrations[i].Provider, err)
		}
	}
}

func (sw *SyncWorker) syncIntegration(integration *models.Integration) error {
	spec, ok := utils.GetProviderSpec(integration.Provider)
	if !ok {
		sw.Logger.Printf("Skipping integration %d: unknown provider %q",
			integration.ID, integration.Provider)
		return nil
	}

	conn, err := sw.Broker.GetConnection(integration.ConnectionID)
	if err != nil {
		return err
	}
	if !conn.IsActive() {
		sw.Logger.Printf("Skipping integration %d: connection status %q",
			integration.ID, conn.Status)
		return nil
	}

	var cells []models.Cell
	if err := sw.DB.Where("user_id = ? AND is_active = ?", integration.UserID, true).
		Order("id").Find(&cells).Error; err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	report, err := sw.Engine.Sync(spec, integration, cells)
	if err != nil {
		return err
	}

	sw.Logger.Printf("Auto-synced %s for user %d: %d new, %d updated across %d cells",
		integration.Provider, integration.UserID,
		report.SyncedCount, report.UpdatedCount, report.CellsSynced)
	return nil
}
