package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"textflow/models"
	"textflow/utils"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewDashboardController(db *gorm.DB, logger *log.Logger) *DashboardController {
	return &DashboardController{
		DB:     db,
		Logger: logger,
	}
}

type DashboardStats struct {
	TotalCells         int64 `json:"total_cells"`
	ActiveCells        int64 `json:"active_cells"`
	ConnectedProviders int64 `json:"connected_providers"`
	TotalContacts      int64 `json:"total_contacts"`
}

type ProviderSummary struct {
	Provider            string     `json:"provider"`
	SyncedContactsCount int        `json:"synced_contacts_count"`
	LastSyncedAt        *time.Time `json:"last_synced_at"`
}

// GetDashboardStats returns summary statistics for the dashboard cards
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var stats DashboardStats

	if err := dc.DB.Model(&models.Cell{}).Where("user_id = ?", user.ID).Count(&stats.TotalCells).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count cells", err)
	}
	if err := dc.DB.Model(&models.Cell{}).Where("user_id = ? AND is_active = ?", user.ID, true).
		Count(&stats.ActiveCells).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count active cells", err)
	}

	scope := models.IntegrationScope{UserID: user.ID, OrgID: user.OrganizationID}
	if err := dc.DB.Model(&models.Integration{}).Scopes(scope.Apply).
		Count(&stats.ConnectedProviders).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count integrations", err)
	}

	if err := dc.DB.Model(&models.PhoneMapping{}).
		Where("cell_id IN (?)", dc.DB.Model(&models.Cell{}).Select("id").Where("user_id = ?", user.ID)).
		Count(&stats.TotalContacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count contacts", err)
	}

	return c.JSON(stats)
}

// GetProviderSummaries returns per-provider sync totals for the dashboard
// table.
func (dc *DashboardController) GetProviderSummaries(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	scope := models.IntegrationScope{UserID: user.ID, OrgID: user.OrganizationID}
	var integrations []models.Integration
	if err := dc.DB.Scopes(scope.Apply).Order("provider").Find(&integrations).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integrations", err)
	}

	summaries := make([]ProviderSummary, 0, len(integrations))
	for _, integration := range integrations {
		summaries = append(summaries, ProviderSummary{
			Provider:            integration.Provider,
			SyncedContactsCount: integration.SyncedContactsCount,
			LastSyncedAt:        integration.LastSyncedAt,
		})
	}

	return c.JSON(fiber.Map{"providers": summaries})
}

// GetContactGrowth returns daily new-contact counts over the requested
// window for the dashboard chart.
func (dc *DashboardController) GetContactGrowth(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	days := c.QueryInt("days", 30)
	if days < 1 || days > 365 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	type dayCount struct {
		Day   string `json:"day"`
		Count int64  `json:"count"`
	}
	var rows []dayCount
	err := dc.DB.Model(&models.PhoneMapping{}).
		Select("DATE(created_at) AS day, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Where("cell_id IN (?)", dc.DB.Model(&models.Cell{}).Select("id").Where("user_id = ?", user.ID)).
		Group("DATE(created_at)").
		Order("day").
		Scan(&rows).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load contact growth", err)
	}

	return c.JSON(fiber.Map{
		"since":  since,
		"growth": rows,
	})
}
