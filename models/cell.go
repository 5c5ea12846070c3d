package models

import (
	"gorm.io/gorm"
)

// Cell is a messaging endpoint (a phone number) owned by a user. Contact
// sync fans out across every active cell of the owning principal, so each
// cell keeps its own contact space.
type Cell struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	OrganizationID *uint `gorm:"index" json:"organization_id,omitempty"`

	Name        string `gorm:"not null" json:"name"`
	PhoneNumber string `gorm:"not null;uniqueIndex" json:"phone_number"` // E.164

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	PhoneMappings []PhoneMapping `gorm:"foreignKey:CellID" json:"-"`
}
