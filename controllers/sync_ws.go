package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"textflow/config"
	"textflow/models"
	"textflow/utils"
)

// HandleSyncProgressWS streams contact sync progress for one provider. The
// client sends {"provider": "...", "action": "watch"} after connecting and
// receives periodic snapshots of the integration row until it disconnects
// or the watch window expires.
func HandleSyncProgressWS(c *websocket.Conn) {
	defer c.Close()

	userID, ok := c.Locals("userID").(uint)
	if !ok || userID == 0 {
		log.Printf("sync ws: missing authenticated user")
		return
	}

	var input struct {
		Provider string `json:"provider"`
		Action   string `json:"action"`
	}

	if err := c.ReadJSON(&input); err != nil {
		log.Printf("sync ws: error reading JSON: %v", err)
		return
	}

	spec, found := utils.GetProviderSpec(input.Provider)
	if !found {
		_ = c.WriteJSON(map[string]string{"error": "unknown provider"})
		return
	}
	if input.Action != "watch" {
		_ = c.WriteJSON(map[string]string{"error": "unsupported action"})
		return
	}

	var user models.User
	if err := config.DB.First(&user, userID).Error; err != nil {
		log.Printf("sync ws: error loading user %d: %v", userID, err)
		return
	}
	scope := models.IntegrationScope{UserID: user.ID, OrgID: user.OrganizationID}

	type snapshot struct {
		Provider            string     `json:"provider"`
		Status              string     `json:"status"`
		SyncedContactsCount int        `json:"synced_contacts_count"`
		LastSyncedAt        *time.Time `json:"last_synced_at"`
	}

	// Poll the integration row and push changes. Ten minutes covers any
	// realistic sync pass.
	deadline := time.Now().Add(10 * time.Minute)
	var last snapshot
	for time.Now().Before(deadline) {
		integration, err := models.FindIntegration(config.DB, scope, spec.Key)
		snap := snapshot{Provider: spec.Key, Status: "not_connected"}
		if err == nil {
			snap.Status = "connected"
			snap.SyncedContactsCount = integration.SyncedContactsCount
			snap.LastSyncedAt = integration.LastSyncedAt
		} else if err != gorm.ErrRecordNotFound {
			log.Printf("sync ws: error loading integration: %v", err)
			return
		}

		if snap.Status != last.Status ||
			snap.SyncedContactsCount != last.SyncedContactsCount ||
			!timePtrEqual(snap.LastSyncedAt, last.LastSyncedAt) {
			if err := c.WriteJSON(snap); err != nil {
				return
			}
			last = snap
		}

		time.Sleep(2 * time.Second)
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.Equal(*b)
}
