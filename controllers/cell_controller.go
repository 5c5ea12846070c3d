package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"textflow/models"
	"textflow/utils"
)

type CellController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCellController(db *gorm.DB, logger *log.Logger) *CellController {
	return &CellController{
		DB:     db,
		Logger: logger,
	}
}

// CreateCell registers a new messaging endpoint for the user
func (cc *CellController) CreateCell(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string `json:"name" validate:"required,max=100"`
		PhoneNumber string `json:"phone_number" validate:"required,phone"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	// Canonicalize before the uniqueness check so formatting variants of the
	// same number collide.
	normalized, err := utils.NormalizePhone(input.PhoneNumber, utils.InferCountryFromPhone(input.PhoneNumber))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid phone number", err)
	}

	var existing models.Cell
	if err := cc.DB.Where("phone_number = ?", normalized).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A cell with this phone number already exists", nil)
	}

	cell := models.Cell{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Name:           input.Name,
		PhoneNumber:    normalized,
		IsActive:       true,
	}

	if err := cc.DB.Create(&cell).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create cell", err)
	}

	return c.Status(fiber.StatusCreated).JSON(cell)
}

// GetCells lists the user's cells
func (cc *CellController) GetCells(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var cells []models.Cell
	if err := cc.DB.Where("user_id = ?", user.ID).Order("id").Find(&cells).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load cells", err)
	}

	return c.JSON(fiber.Map{"cells": cells})
}

// GetCell returns one cell with its contact count
func (cc *CellController) GetCell(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cell, err := cc.findCell(c, user)
	if err != nil {
		return err
	}

	var contactCount int64
	if err := cc.DB.Model(&models.PhoneMapping{}).Where("cell_id = ?", cell.ID).Count(&contactCount).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count contacts", err)
	}

	return c.JSON(fiber.Map{
		"cell":          cell,
		"contact_count": contactCount,
	})
}

// GetCellContacts pages through a cell's synced contacts for one provider
func (cc *CellController) GetCellContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cell, err := cc.findCell(c, user)
	if err != nil {
		return err
	}

	provider := c.Query("provider")
	if _, ok := utils.GetProviderSpec(provider); !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown or missing provider", nil)
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := c.QueryInt("per_page", 50)
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	table := models.ContactTableName(provider)

	var total int64
	if err := cc.DB.Table(table).Where("cell_id = ? AND deleted_at IS NULL", cell.ID).Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count contacts", err)
	}

	var contacts []models.ProviderContact
	if err := cc.DB.Table(table).
		Where("cell_id = ? AND deleted_at IS NULL", cell.ID).
		Order("phone_number").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load contacts", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Page:  page,
		Limit: perPage,
	})
}

// UpdateCell renames a cell or toggles its active flag
func (cc *CellController) UpdateCell(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cell, err := cc.findCell(c, user)
	if err != nil {
		return err
	}

	var input struct {
		Name     *string `json:"name" validate:"omitempty,max=100"`
		IsActive *bool   `json:"is_active"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if input.Name != nil {
		cell.Name = *input.Name
	}
	if input.IsActive != nil {
		cell.IsActive = *input.IsActive
	}

	if err := cc.DB.Save(cell).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update cell", err)
	}

	return c.JSON(cell)
}

// DeleteCell removes a cell along with its phone mappings
func (cc *CellController) DeleteCell(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cell, err := cc.findCell(c, user)
	if err != nil {
		return err
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cell_id = ?", cell.ID).Delete(&models.PhoneMapping{}).Error; err != nil {
			return err
		}
		// Legacy per-cell integration rows go with the cell.
		if err := tx.Where("cell_id = ?", cell.ID).Delete(&models.Integration{}).Error; err != nil {
			return err
		}
		return tx.Delete(cell).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete cell", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cell deleted",
	})
}

func (cc *CellController) findCell(c *fiber.Ctx, user *models.User) (*models.Cell, error) {
	cellID := utils.ParseUint(c.Params("id"))
	if cellID == 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid cell id", nil)
	}

	var cell models.Cell
	err := cc.DB.Where("id = ? AND user_id = ?", cellID, user.ID).First(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Cell not found", nil)
	}
	if err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load cell", err)
	}
	return &cell, nil
}
