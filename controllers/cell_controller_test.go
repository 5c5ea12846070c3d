package controller

import (
	"io"
	"log"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textflow/config"
	"textflow/models"
)

type cellFixture struct {
	*integrationFixture
}

func newCellFixture(t *testing.T) *cellFixture {
	t.Helper()

	db := openTestDB(t)
	config.AppConfig = config.Config{Environment: "test"}

	user := &models.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	cc := NewCellController(db, log.New(io.Discard, "", 0))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		c.Locals("userID", user.ID)
		return c.Next()
	})
	group := app.Group("/api/v1/cells")
	group.Post("/", cc.CreateCell)
	group.Get("/", cc.GetCells)
	group.Get("/:id", cc.GetCell)
	group.Put("/:id", cc.UpdateCell)
	group.Delete("/:id", cc.DeleteCell)

	return &cellFixture{&integrationFixture{app: app, db: db, user: user}}
}

func TestCreateCellNormalizesPhoneNumber(t *testing.T) {
	f := newCellFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/v1/cells/", map[string]string{
		"name":         "Main line",
		"phone_number": "(415) 555-0100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "+14155550100", body["phone_number"])

	var cell models.Cell
	require.NoError(t, f.db.First(&cell).Error)
	assert.Equal(t, "+14155550100", cell.PhoneNumber)
	assert.True(t, cell.IsActive)
}

func TestCreateCellRejectsDuplicateNumberAcrossFormats(t *testing.T) {
	f := newCellFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/v1/cells/", map[string]string{
		"name": "First", "phone_number": "(415) 555-0100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// same number, different formatting
	resp, _ = f.request(t, http.MethodPost, "/api/v1/cells/", map[string]string{
		"name": "Second", "phone_number": "+1 415 555 0100",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateCellRejectsInvalidNumber(t *testing.T) {
	f := newCellFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/v1/cells/", map[string]string{
		"name": "Bad", "phone_number": "not-a-phone",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateCellTogglesActive(t *testing.T) {
	f := newCellFixture(t)

	cell := models.Cell{UserID: f.user.ID, Name: "Main", PhoneNumber: "+14155550100", IsActive: true}
	require.NoError(t, f.db.Create(&cell).Error)

	resp, body := f.request(t, http.MethodPut, "/api/v1/cells/1", map[string]interface{}{
		"is_active": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_active"])
	assert.Equal(t, "Main", body["name"])
}

func TestDeleteCellCascadesMappings(t *testing.T) {
	f := newCellFixture(t)

	cell := models.Cell{UserID: f.user.ID, Name: "Main", PhoneNumber: "+14155550100", IsActive: true}
	require.NoError(t, f.db.Create(&cell).Error)
	require.NoError(t, f.db.Create(&models.PhoneMapping{PhoneNumber: "+14155550101", CellID: cell.ID}).Error)

	resp, _ := f.request(t, http.MethodDelete, "/api/v1/cells/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var count int64
	require.NoError(t, f.db.Model(&models.PhoneMapping{}).Where("cell_id = ?", cell.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestGetCellScopedToOwner(t *testing.T) {
	f := newCellFixture(t)

	other := models.User{Email: "other@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, f.db.Create(&other).Error)
	foreign := models.Cell{UserID: other.ID, Name: "Foreign", PhoneNumber: "+14155550102", IsActive: true}
	require.NoError(t, f.db.Create(&foreign).Error)

	resp, _ := f.request(t, http.MethodGet, "/api/v1/cells/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
