package utils

import (
	"fmt"
	"log"
	"time"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"textflow/models"
)

// CellSyncResult reports one cell's share of a sync pass. Sync across cells
// is not atomic: a failed cell does not roll back cells already committed,
// so callers get the per-cell breakdown.
type CellSyncResult struct {
	CellID      uint   `json:"cell_id"`
	CellName    string `json:"cell_name"`
	SyncedCount int    `json:"synced_count"`
	UpdatedCount int   `json:"updated_count"`
	Error       string `json:"error,omitempty"`
}

// SyncReport aggregates a full contact sync pass.
type SyncReport struct {
	SyncedCount  int              `json:"synced_count"`
	UpdatedCount int              `json:"updated_count"`
	TotalLeads   int              `json:"total_leads"`
	CellsSynced  int              `json:"cells_synced"`
	PerCell      []CellSyncResult `json:"per_cell"`
}

// ContactSyncEngine pulls provider leads through the broker and reconciles
// them into per-cell phone mappings and provider contact shadows.
type ContactSyncEngine struct {
	DB     *gorm.DB
	Broker *BrokerClient
	Logger *log.Logger
}

func NewContactSyncEngine(db *gorm.DB, broker *BrokerClient, logger *log.Logger) *ContactSyncEngine {
	return &ContactSyncEngine{
		DB:     db,
		Broker: broker,
		Logger: logger,
	}
}

// Sync fetches every lead for the connection and fans them out across the
// target cells sequentially. A broker fetch failure aborts before any cell
// is touched; a per-cell persistence failure stops that cell only.
func (e *ContactSyncEngine) Sync(spec *ProviderSpec, integration *models.Integration, cells []models.Cell) (*SyncReport, error) {
	records, err := e.Broker.ListRecords(integration.ConnectionID, spec.LeadObject)
	if err != nil {
		return nil, err
	}

	leads := make([]Lead, 0, len(records))
	for _, record := range records {
		lead := spec.Extract(record)
		// drop malformed emails rather than caching garbage
		if lead.Email != "" && checkmail.ValidateFormat(lead.Email) != nil {
			lead.Email = ""
		}
		leads = append(leads, lead)
	}

	report := &SyncReport{TotalLeads: len(leads)}
	for _, cell := range cells {
		result := e.syncCell(spec, cell, leads)
		report.PerCell = append(report.PerCell, result)
		report.SyncedCount += result.SyncedCount
		report.UpdatedCount += result.UpdatedCount
		if result.Error == "" {
			report.CellsSynced++
		}
	}

	// Aggregate totals land on the global row last.
	now := time.Now()
	integration.LastSyncedAt = &now
	integration.SyncedContactsCount = report.SyncedCount + report.UpdatedCount
	if err := e.DB.Save(integration).Error; err != nil {
		LogError("sync_aggregate_update", err, map[string]interface{}{
			"provider":       spec.Key,
			"integration_id": integration.ID,
		})
	}

	return report, nil
}

// syncCell runs one cell's reconciliation pass. The first canonical
// occurrence of a number wins within the pass; later candidates that
// normalize to the same key are skipped.
func (e *ContactSyncEngine) syncCell(spec *ProviderSpec, cell models.Cell, leads []Lead) CellSyncResult {
	result := CellSyncResult{CellID: cell.ID, CellName: cell.Name}
	country := InferCountryFromPhone(cell.PhoneNumber)
	table := models.ContactTableName(spec.Key)

	var mappings []models.PhoneMapping
	if err := e.DB.Where("cell_id = ?", cell.ID).Find(&mappings).Error; err != nil {
		result.Error = fmt.Sprintf("loading phone mappings: %v", err)
		return result
	}
	existing := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		existing[m.PhoneNumber] = true
	}

	seen := make(map[string]bool)
	for _, lead := range leads {
		for _, raw := range lead.Phones {
			canonical, err := NormalizePhone(raw, country)
			if err != nil {
				continue
			}
			if seen[canonical] {
				continue
			}
			seen[canonical] = true

			if existing[canonical] {
				// mapping stays untouched, shadow display fields refresh
				if err := e.updateShadow(table, canonical, cell.ID, lead); err != nil {
					result.Error = fmt.Sprintf("updating contact shadow: %v", err)
					return result
				}
				result.UpdatedCount++
				continue
			}

			// FirstOrCreate keeps concurrent passes converging on the one
			// unique row instead of failing on the constraint.
			var mapping models.PhoneMapping
			err = e.DB.Where("phone_number = ? AND cell_id = ?", canonical, cell.ID).
				Attrs(models.PhoneMapping{PhoneNumber: canonical, CellID: cell.ID}).
				FirstOrCreate(&mapping).Error
			if err != nil {
				result.Error = fmt.Sprintf("creating phone mapping: %v", err)
				return result
			}
			if err := e.upsertShadow(table, canonical, cell.ID, lead); err != nil {
				result.Error = fmt.Sprintf("writing contact shadow: %v", err)
				return result
			}
			existing[canonical] = true
			result.SyncedCount++
		}
	}

	// Legacy per-cell rows keep their own counters.
	e.updateLegacyRow(spec, cell, result.SyncedCount)

	return result
}

func (e *ContactSyncEngine) updateShadow(table, phone string, cellID uint, lead Lead) error {
	return e.DB.Table(table).
		Where("phone_number = ? AND cell_id = ?", phone, cellID).
		Updates(map[string]interface{}{
			"external_id":  lead.ExternalID,
			"first_name":   lead.FirstName,
			"last_name":    lead.LastName,
			"email":        lead.Email,
			"company_name": lead.CompanyName,
			"updated_at":   time.Now(),
		}).Error
}

func (e *ContactSyncEngine) upsertShadow(table, phone string, cellID uint, lead Lead) error {
	updated := e.DB.Table(table).
		Where("phone_number = ? AND cell_id = ?", phone, cellID).
		Updates(map[string]interface{}{
			"external_id":  lead.ExternalID,
			"first_name":   lead.FirstName,
			"last_name":    lead.LastName,
			"email":        lead.Email,
			"company_name": lead.CompanyName,
			"updated_at":   time.Now(),
		})
	if updated.Error != nil {
		return updated.Error
	}
	if updated.RowsAffected > 0 {
		return nil
	}
	contact := models.ProviderContact{
		PhoneNumber: phone,
		CellID:      cellID,
		ExternalID:  lead.ExternalID,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Email:       lead.Email,
		CompanyName: lead.CompanyName,
	}
	return e.DB.Table(table).Create(&contact).Error
}

// updateLegacyRow refreshes a per-cell integration's sync metadata if one
// exists. Best effort: a miss or a failed write never fails the cell.
func (e *ContactSyncEngine) updateLegacyRow(spec *ProviderSpec, cell models.Cell, syncedCount int) {
	legacyScope := models.IntegrationScope{UserID: cell.UserID, CellID: &cell.ID}
	legacy, err := models.FindIntegration(e.DB, legacyScope, spec.Key)
	if err != nil {
		return
	}
	now := time.Now()
	legacy.LastSyncedAt = &now
	legacy.SyncedContactsCount = syncedCount
	if err := e.DB.Save(legacy).Error; err != nil {
		e.Logger.Printf("Failed to update legacy integration %d metadata: %v", legacy.ID, err)
	}
}
