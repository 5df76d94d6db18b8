package main

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"facturo/models"
)

// initDB opens the Postgres connection and, unless disabled via
// DB_AUTO_MIGRATE, brings the schema up to date. AutoMigrate creates the two
// unique indexes (file_hash, business_key) the dedup logic relies on.
func initDB(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.Invoice{}); err != nil {
			return nil, fmt.Errorf("migrate invoices: %w", err)
		}
		log.Println("invoices schema migrated")
	}
	return db, nil
}
