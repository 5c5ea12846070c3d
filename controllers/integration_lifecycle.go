package controller

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"textflow/config"
	"textflow/models"
	"textflow/utils"
)

type ConnectRequest struct {
	APIKey           string `json:"api_key"`
	OrganizationName string `json:"organization_name"`
	Subdomain        string `json:"subdomain"`
}

// Connect starts linking a provider for the principal. API-key providers
// complete synchronously; OAuth providers return an authorization URL plus a
// state token the UI must carry through the redirect.
func (ic *IntegrationController) Connect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	spec, err := resolveSpec(c)
	if spec == nil {
		return err
	}

	var req ConnectRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	params := utils.ConnectParams{
		APIKey:           req.APIKey,
		OrganizationName: req.OrganizationName,
		Subdomain:        req.Subdomain,
	}
	if err := spec.ValidateConnectParams(params); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), err)
	}

	authConfigID, err := ic.Broker.EnsureAuthConfig(spec.Key, spec.BrokerAppID)
	if err != nil {
		return ic.connectionError(c, spec, err)
	}

	result, err := ic.Broker.InitiateConnection(brokerOwnerID(user), authConfigID, params)
	if err != nil {
		return ic.connectionError(c, spec, err)
	}

	// API-key providers come back with the connection already established.
	if result.Connection != nil {
		if !result.Connection.IsActive() {
			return utils.ErrorResponse(c, fiber.StatusBadGateway,
				fmt.Sprintf("Broker reported connection status %q", result.Connection.Status), nil)
		}
		integration, err := models.UpsertIntegration(ic.DB, principalScope(user), spec.Key, result.Connection.ID)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store integration", err)
		}

		// Keep an encrypted copy of the key so a broker-side loss of the
		// connection can be healed without re-prompting the user.
		if cipher, err := utils.Encrypt(params.APIKey); err == nil {
			integration.APIKeyCipher = cipher
			if err := ic.DB.Save(integration).Error; err != nil {
				utils.LogError("api_key_cipher_save", err, map[string]interface{}{
					"provider":       spec.Key,
					"integration_id": integration.ID,
				})
			}
		}

		utils.LogEvent("integration_connected", map[string]interface{}{
			"provider":      spec.Key,
			"user_id":       user.ID,
			"connection_id": result.Connection.ID,
			"immediate":     true,
		})
		return c.JSON(fiber.Map{
			"success":       true,
			"connected":     true,
			"connection_id": integration.ConnectionID,
		})
	}

	state, err := utils.PackConnectState(user.ID, user.OrganizationID, result.ConnectionRequestID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to prepare connect state", err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"auth_url": result.AuthURL,
		"state":    state,
	})
}

// Callback finishes an OAuth connect after the provider redirects back. The
// browser lands here, so failures redirect to the UI with an error code
// instead of returning JSON.
func (ic *IntegrationController) Callback(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	spec, err := resolveSpec(c)
	if spec == nil {
		return err
	}

	if errParam := c.Query("error"); errParam != "" {
		utils.LogEvent("integration_callback_denied", map[string]interface{}{
			"provider": spec.Key,
			"user_id":  user.ID,
			"error":    errParam,
		})
		return ic.redirectUI(c, spec, "error", errParam)
	}

	state, err := utils.UnpackConnectState(c.Query("state"))
	if err != nil {
		return ic.redirectUI(c, spec, "error", utils.CodeStateMismatch)
	}
	// Principal check before any broker or store call.
	if !state.MatchesPrincipal(user.ID, user.OrganizationID) {
		utils.LogEvent("integration_state_mismatch", map[string]interface{}{
			"provider":      spec.Key,
			"user_id":       user.ID,
			"state_user_id": state.UserID,
		})
		return ic.redirectUI(c, spec, "error", utils.CodeStateMismatch)
	}

	conn := ic.resolveCallbackConnection(user, spec, state.ConnectionRequestID)
	if conn == nil {
		return ic.redirectUI(c, spec, "error", utils.CodeConnectionNotFound)
	}

	if _, err := models.UpsertIntegration(ic.DB, principalScope(user), spec.Key, conn.ID); err != nil {
		utils.LogError("integration_upsert", err, map[string]interface{}{
			"provider": spec.Key,
			"user_id":  user.ID,
		})
		return ic.redirectUI(c, spec, "error", utils.CodePersistenceError)
	}

	utils.LogEvent("integration_connected", map[string]interface{}{
		"provider":      spec.Key,
		"user_id":       user.ID,
		"connection_id": conn.ID,
	})
	return ic.redirectUI(c, spec, "connected", "true")
}

// resolveCallbackConnection turns a pending connection request into the live
// connection. Brokers differ on whether the request id resolves directly, so
// a failed lookup falls back to scanning the owner's connections for an
// active match.
func (ic *IntegrationController) resolveCallbackConnection(user *models.User, spec *utils.ProviderSpec, connectionRequestID string) *utils.BrokerConnection {
	conn, err := ic.Broker.GetConnection(connectionRequestID)
	if err == nil && conn.IsActive() && spec.Matches(conn) {
		return conn
	}
	if err != nil && !errors.Is(err, utils.ErrConnectionNotFound) {
		utils.LogError("broker_get_connection", err, map[string]interface{}{
			"provider":              spec.Key,
			"connection_request_id": connectionRequestID,
		})
	}

	connections, err := ic.Broker.ListConnections(brokerOwnerID(user))
	if err != nil {
		utils.LogError("broker_list_connections", err, map[string]interface{}{
			"provider": spec.Key,
			"user_id":  user.ID,
		})
		return nil
	}
	return spec.FindActiveMatch(connections)
}

func (ic *IntegrationController) redirectUI(c *fiber.Ctx, spec *utils.ProviderSpec, key, value string) error {
	target := fmt.Sprintf("%s/integrations/%s?%s=%s",
		config.AppConfig.UIBaseURL, spec.Key, key, url.QueryEscape(value))
	return c.Redirect(target, fiber.StatusFound)
}
