package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string `gorm:"not null" json:"-"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`
	OTP           string `json:"-"`
	OTPExpiresAt  time.Time `json:"-"`
	OTPVerified   bool   `gorm:"default:false" json:"-"`

	// Password reset
	ResetToken          *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`

	// Google OAuth fields
	GoogleID       *string `gorm:"uniqueIndex" json:"google_id,omitempty"`
	GoogleImageURL *string `json:"google_image_url,omitempty"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Organization scope (optional; a user may operate standalone)
	OrganizationID *uint         `gorm:"index" json:"organization_id,omitempty"`
	Organization   *Organization `json:"organization,omitempty"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	IsAdmin      bool `gorm:"default:false" json:"is_admin"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Cells        []Cell        `gorm:"foreignKey:UserID" json:"cells,omitempty"`
	Integrations []Integration `gorm:"foreignKey:UserID" json:"integrations,omitempty"`
}

// Organization groups users into a shared workspace. Integrations connected
// under an organization are visible to every member.
type Organization struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex" json:"slug"`

	Users []User `gorm:"foreignKey:OrganizationID" json:"users,omitempty"`
}
