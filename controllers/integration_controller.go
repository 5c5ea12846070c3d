package controller

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"textflow/config"
	"textflow/models"
	"textflow/utils"
)

// IntegrationController serves the CRM integration lifecycle: connecting a
// provider through the external broker, reporting status, disconnecting and
// running contact sync.
type IntegrationController struct {
	DB     *gorm.DB
	Broker *utils.BrokerClient
	Engine *utils.ContactSyncEngine
	Logger *log.Logger
}

func NewIntegrationController(db *gorm.DB, broker *utils.BrokerClient, logger *log.Logger) *IntegrationController {
	return &IntegrationController{
		DB:     db,
		Broker: broker,
		Engine: utils.NewContactSyncEngine(db, broker, logger),
		Logger: logger,
	}
}

// brokerOwnerID derives the broker-side owner identity for a principal. All
// connections for an organization live under one shared owner so every
// member sees them.
func brokerOwnerID(user *models.User) string {
	if user.OrganizationID != nil {
		return fmt.Sprintf("%s-org-%d", config.AppConfig.Broker.OwnerTag, *user.OrganizationID)
	}
	return fmt.Sprintf("%s-user-%d", config.AppConfig.Broker.OwnerTag, user.ID)
}

func principalScope(user *models.User) models.IntegrationScope {
	return models.IntegrationScope{
		UserID: user.ID,
		OrgID:  user.OrganizationID,
	}
}

// requestScope picks the integration scope for a status/disconnect request:
// the legacy per-cell scope when a cellId accompanies the request (query
// param or JSON body), otherwise the principal scope. Returns nil after
// writing the error response when the cell is invalid or not owned.
func (ic *IntegrationController) requestScope(c *fiber.Ctx, user *models.User) (*models.IntegrationScope, error) {
	cellID := uint(c.QueryInt("cellId"))
	if cellID == 0 && len(c.Body()) > 0 {
		var body struct {
			CellID uint `json:"cell_id"`
		}
		if err := c.BodyParser(&body); err == nil {
			cellID = body.CellID
		}
	}
	if cellID == 0 {
		scope := principalScope(user)
		return &scope, nil
	}

	var cell models.Cell
	if err := ic.DB.Where("id = ? AND user_id = ?", cellID, user.ID).First(&cell).Error; err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Cell not found", nil)
	}
	return &models.IntegrationScope{UserID: user.ID, CellID: &cell.ID}, nil
}

// resolveSpec validates the :provider route param against the registry.
func resolveSpec(c *fiber.Ctx) (*utils.ProviderSpec, error) {
	spec, ok := utils.GetProviderSpec(c.Params("provider"))
	if !ok {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown provider", nil)
	}
	return spec, nil
}

// resolveActiveConnection reconciles the local integration row against the
// broker's view and returns the row backed by a live connection.
//
// Three paths converge here:
//   - no local row: scan the owner's broker connections for an active match
//     and adopt it (auto-link), so connections completed out-of-band still
//     surface
//   - local row whose connection the broker no longer knows: rescan once for
//     a replacement before giving up
//   - local row with a live connection: verify status and toolkit
//
// A legacy row that still carries its own tokens is returned as-is with a
// nil connection.
func (ic *IntegrationController) resolveActiveConnection(user *models.User, scope models.IntegrationScope, spec *utils.ProviderSpec) (*models.Integration, *utils.BrokerConnection, error) {
	integration, err := models.FindIntegration(ic.DB, scope, spec.Key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if scope.CellID != nil {
			// Per-cell rows are legacy only; there is nothing to adopt from
			// the broker for them.
			return nil, nil, utils.ErrConnectionNotFound
		}
		return ic.adoptBrokerConnection(user, scope, spec)
	}
	if err != nil {
		return nil, nil, err
	}

	if integration.HasLegacyTokens() && integration.ConnectionID == "" {
		return integration, nil, nil
	}
	if integration.ConnectionID == "" {
		return integration, nil, utils.ErrConnectionNotFound
	}

	conn, err := ic.Broker.GetConnection(integration.ConnectionID)
	if errors.Is(err, utils.ErrConnectionNotFound) {
		// The stored connection is gone; the user may have reconnected and
		// produced a fresh one.
		adopted, match, adoptErr := ic.adoptBrokerConnection(user, scope, spec)
		if errors.Is(adoptErr, utils.ErrConnectionNotFound) && integration.APIKeyCipher != "" {
			return ic.reinitiateAPIKeyConnection(user, scope, spec, integration)
		}
		if adopted == nil {
			// Keep the stored row so callers can still report its sync
			// metadata alongside the failure.
			adopted = integration
		}
		return adopted, match, adoptErr
	}
	if err != nil {
		return integration, nil, err
	}

	if !spec.Matches(conn) {
		return integration, conn, utils.ErrProviderMismatch
	}
	if !conn.IsActive() {
		return integration, conn, &utils.ConnectionInactiveError{Status: conn.Status}
	}
	return integration, conn, nil
}

func (ic *IntegrationController) adoptBrokerConnection(user *models.User, scope models.IntegrationScope, spec *utils.ProviderSpec) (*models.Integration, *utils.BrokerConnection, error) {
	connections, err := ic.Broker.ListConnections(brokerOwnerID(user))
	if err != nil {
		return nil, nil, err
	}

	match := spec.FindActiveMatch(connections)
	if match == nil {
		return nil, nil, utils.ErrConnectionNotFound
	}

	integration, err := models.UpsertIntegration(ic.DB, scope, spec.Key, match.ID)
	if err != nil {
		return nil, match, err
	}

	utils.LogEvent("integration_auto_linked", map[string]interface{}{
		"provider":      spec.Key,
		"user_id":       user.ID,
		"connection_id": match.ID,
	})
	return integration, match, nil
}

// reinitiateAPIKeyConnection re-establishes an API-key connection the broker
// lost, using the encrypted key stored at connect time.
func (ic *IntegrationController) reinitiateAPIKeyConnection(user *models.User, scope models.IntegrationScope, spec *utils.ProviderSpec, integration *models.Integration) (*models.Integration, *utils.BrokerConnection, error) {
	apiKey, err := utils.Decrypt(integration.APIKeyCipher)
	if err != nil {
		return integration, nil, utils.ErrConnectionNotFound
	}

	authConfigID, err := ic.Broker.EnsureAuthConfig(spec.Key, spec.BrokerAppID)
	if err != nil {
		return integration, nil, err
	}
	result, err := ic.Broker.InitiateConnection(brokerOwnerID(user), authConfigID, utils.ConnectParams{APIKey: apiKey})
	if err != nil {
		return integration, nil, err
	}
	if result.Connection == nil || !result.Connection.IsActive() {
		return integration, nil, utils.ErrConnectionNotFound
	}

	refreshed, err := models.UpsertIntegration(ic.DB, scope, spec.Key, result.Connection.ID)
	if err != nil {
		return integration, result.Connection, err
	}
	refreshed.APIKeyCipher = integration.APIKeyCipher
	if err := ic.DB.Save(refreshed).Error; err != nil {
		utils.LogError("api_key_cipher_save", err, map[string]interface{}{
			"provider":       spec.Key,
			"integration_id": refreshed.ID,
		})
	}

	utils.LogEvent("integration_reestablished", map[string]interface{}{
		"provider":      spec.Key,
		"user_id":       user.ID,
		"connection_id": result.Connection.ID,
	})
	return refreshed, result.Connection, nil
}

// ListIntegrations returns every integration row visible to the principal,
// including legacy per-cell rows.
func (ic *IntegrationController) ListIntegrations(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var integrations []models.Integration
	q := ic.DB.Order("provider, cell_id")
	if user.OrganizationID != nil {
		q = q.Where("user_id = ? OR organization_id = ?", user.ID, *user.OrganizationID)
	} else {
		q = q.Where("user_id = ? AND organization_id IS NULL", user.ID)
	}
	if err := q.Find(&integrations).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integrations", err)
	}

	return c.JSON(fiber.Map{
		"integrations": integrations,
		"providers":    models.ProviderKeys,
	})
}

// GetStatus reports whether the provider is connected for the principal. It
// never trusts the local row alone: the broker's current view decides, so a
// connection revoked out-of-band reads as disconnected here.
func (ic *IntegrationController) GetStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	spec, err := resolveSpec(c)
	if spec == nil {
		return err
	}

	scope, scopeErr := ic.requestScope(c, user)
	if scope == nil {
		return scopeErr
	}

	integration, conn, err := ic.resolveActiveConnection(user, *scope, spec)
	if err != nil {
		if errors.Is(err, utils.ErrBrokerUnavailable) {
			return utils.ErrorResponse(c, fiber.StatusBadGateway, "Connection broker unreachable", err)
		}
		// Not connected, or the connection is not usable. Report the state
		// rather than failing the request.
		resp := fiber.Map{
			"provider":  spec.Key,
			"connected": false,
			"status":    utils.ErrorCode(err),
		}
		if integration != nil {
			resp["synced_contacts_count"] = integration.SyncedContactsCount
			resp["last_synced_at"] = integration.LastSyncedAt
		}
		return c.JSON(resp)
	}

	resp := fiber.Map{
		"provider":              spec.Key,
		"connected":             true,
		"synced_contacts_count": integration.SyncedContactsCount,
		"last_synced_at":        integration.LastSyncedAt,
		"connected_at":          integration.ConnectedAt,
	}
	if conn != nil {
		resp["connection_id"] = conn.ID
		resp["status"] = conn.Status
	} else {
		// Legacy row carrying its own credentials.
		resp["status"] = "active"
		resp["legacy"] = true
	}
	return c.JSON(resp)
}

// Disconnect revokes the broker connection and removes the local row. The
// local row is removed even when the broker revoke fails: the user asked to
// disconnect, and a dangling broker-side connection is recoverable while a
// dangling local row is confusing.
func (ic *IntegrationController) Disconnect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	spec, err := resolveSpec(c)
	if spec == nil {
		return err
	}

	scope, scopeErr := ic.requestScope(c, user)
	if scope == nil {
		return scopeErr
	}
	integration, err := models.FindIntegration(ic.DB, *scope, spec.Key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Integration not connected", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}

	revokeFailed := false
	if integration.ConnectionID != "" {
		if err := ic.Broker.RevokeConnection(integration.ConnectionID); err != nil {
			revokeFailed = true
			utils.LogError("broker_revoke", err, map[string]interface{}{
				"provider":      spec.Key,
				"user_id":       user.ID,
				"connection_id": integration.ConnectionID,
			})
		}
	}

	if err := models.DeleteIntegration(ic.DB, *scope, spec.Key); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to remove integration", err)
	}

	message := "Integration disconnected"
	if revokeFailed {
		message = "Integration disconnected locally; broker revocation failed and may need manual cleanup"
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": message,
	})
}

// SyncContacts pulls the provider's contacts through the broker and
// reconciles them into phone mappings for the target cells. With ?cellId it
// targets one cell, otherwise every active cell the user owns.
func (ic *IntegrationController) SyncContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	spec, err := resolveSpec(c)
	if spec == nil {
		return err
	}

	integration, conn, err := ic.resolveActiveConnection(user, principalScope(user), spec)
	if err != nil {
		return ic.connectionError(c, spec, err)
	}
	if conn == nil {
		// Legacy rows have no broker connection to pull from.
		return utils.ErrorResponse(c, fiber.StatusConflict,
			"This integration uses legacy credentials; reconnect it to enable contact sync", nil)
	}

	cells, err := ic.targetCells(c, user)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active cells to sync into", nil)
	}

	report, err := ic.Engine.Sync(spec, integration, cells)
	if err != nil {
		if errors.Is(err, utils.ErrSyncFetch) || errors.Is(err, utils.ErrBrokerUnavailable) {
			return utils.ErrorResponse(c, fiber.StatusBadGateway, "Failed to fetch contacts from provider", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Contact sync failed", err)
	}

	utils.LogEvent("contacts_synced", map[string]interface{}{
		"provider":      spec.Key,
		"user_id":       user.ID,
		"synced_count":  report.SyncedCount,
		"updated_count": report.UpdatedCount,
		"cells_synced":  report.CellsSynced,
	})

	return c.JSON(fiber.Map{
		"success":       true,
		"provider":      spec.Key,
		"synced_count":  report.SyncedCount,
		"updated_count": report.UpdatedCount,
		"total_leads":   report.TotalLeads,
		"cells_synced":  report.CellsSynced,
		"per_cell":      report.PerCell,
		"message": fmt.Sprintf("Synced %d new and updated %d existing contacts across %d cells",
			report.SyncedCount, report.UpdatedCount, report.CellsSynced),
	})
}

// targetCells resolves the cells a sync should write into. Writes an error
// response and returns a fiber error when the cellId param is invalid.
func (ic *IntegrationController) targetCells(c *fiber.Ctx, user *models.User) ([]models.Cell, error) {
	if raw := c.Query("cellId"); raw != "" {
		cellID := utils.ParseUint(raw)
		if cellID == 0 {
			return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid cellId", nil)
		}
		var cell models.Cell
		if err := ic.DB.Where("id = ? AND user_id = ?", cellID, user.ID).First(&cell).Error; err != nil {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Cell not found", nil)
		}
		if !cell.IsActive {
			return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Cell is inactive", nil)
		}
		return []models.Cell{cell}, nil
	}

	var cells []models.Cell
	if err := ic.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		Order("id").Find(&cells).Error; err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load cells", err)
	}
	return cells, nil
}

// connectionError maps a resolution failure to the right HTTP response.
func (ic *IntegrationController) connectionError(c *fiber.Ctx, spec *utils.ProviderSpec, err error) error {
	var inactive *utils.ConnectionInactiveError
	switch {
	case errors.Is(err, utils.ErrBrokerUnavailable):
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Connection broker unreachable", err)
	case errors.Is(err, utils.ErrConnectionNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound,
			fmt.Sprintf("No active %s connection; connect it first", spec.DisplayName), err)
	case errors.Is(err, utils.ErrProviderMismatch):
		return utils.ErrorResponse(c, fiber.StatusConflict,
			"Stored connection does not belong to this provider", err)
	case errors.As(err, &inactive):
		return utils.ErrorResponse(c, fiber.StatusConflict,
			fmt.Sprintf("Connection is not active (status: %s)", inactive.Status), err)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resolve connection", err)
	}
}
