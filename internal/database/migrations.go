package database

import (
	"log"

	"gorm.io/gorm"
)

// RunMigrations runs custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := backfillLastUpdated(db); err != nil {
		return err
	}
	normalizeCurrency(db)
	return nil
}

// backfillLastUpdated fills in last_updated for rows imported before the
// column existed. The sweep orders by last_updated ascending; a NULL
// there would pin the row to the front of every batch.
func backfillLastUpdated(db *gorm.DB) error {
	if !db.Migrator().HasColumn("products", "last_updated") {
		return nil
	}

	result := db.Exec(`
		UPDATE products
		SET last_updated = created_at
		WHERE last_updated IS NULL OR last_updated = ''
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Backfilled last_updated for %d products", result.RowsAffected)
	}
	return nil
}

// normalizeCurrency defaults empty currency codes to USD. Safe to run
// repeatedly.
func normalizeCurrency(db *gorm.DB) {
	result := db.Exec(`UPDATE products SET currency = 'USD' WHERE currency IS NULL OR currency = ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize currency values: %v", result.Error)
	}
}
