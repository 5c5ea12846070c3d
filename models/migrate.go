package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate runs all schema migrations, including one contact shadow table
// per provider.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Organization{},
		&Cell{},
		&Integration{},
		&PhoneMapping{},
	); err != nil {
		return err
	}

	// Global integration rows have NULL cell_id, which plain unique indexes
	// treat as distinct, so the one-row-per-scope-per-provider rule is
	// enforced with partial indexes matching each scope shape.
	for _, stmt := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uniq_user_provider_global ON integrations (user_id, provider) " +
			"WHERE cell_id IS NULL AND organization_id IS NULL AND deleted_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS uniq_org_provider_global ON integrations (user_id, organization_id, provider) " +
			"WHERE cell_id IS NULL AND organization_id IS NOT NULL AND deleted_at IS NULL",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("indexing integrations: %w", err)
		}
	}

	// The provider contact tables share one struct, so AutoMigrate is driven
	// per table and the composite unique key is created by hand (tag-derived
	// index names would collide across tables).
	for _, provider := range ProviderKeys {
		table := ContactTableName(provider)
		if err := db.Table(table).AutoMigrate(&ProviderContact{}); err != nil {
			return fmt.Errorf("migrating %s: %w", table, err)
		}
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uniq_%s_phone_cell ON %s (phone_number, cell_id)",
			table, table,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("indexing %s: %w", table, err)
		}
	}
	return nil
}
