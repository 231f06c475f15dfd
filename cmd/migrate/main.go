package main

import (
	"log"

	"campaign-gateway/internal/config"
	"campaign-gateway/internal/database"
	"campaign-gateway/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Copies a local SQLite dataset into PostgreSQL, for moving a development
// instance onto the production database.
func main() {
	cfg := config.LoadConfig()

	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to SQLite: %v", err)
	}
	log.Printf("Connected to SQLite at %s", cfg.DBPath)

	pgCfg := *cfg
	pgCfg.DBDriver = "postgres"
	pgDB, err := database.Open(&pgCfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	log.Println("Starting data migration...")

	migrateTable := func(tableName string, rows interface{}) {
		log.Printf("Migrating table: %s", tableName)

		if err := sqliteDB.Find(rows).Error; err != nil {
			log.Printf("Error reading %s from SQLite: %v", tableName, err)
			return
		}

		err := pgDB.Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(rows, 100).Error
		})
		if err != nil {
			log.Printf("Error writing %s to PostgreSQL: %v", tableName, err)
			return
		}
		log.Printf("Migrated table: %s", tableName)
	}

	migrateTable("templates", &[]models.Template{})
	migrateTable("contacts", &[]models.Contact{})
	migrateTable("campaigns", &[]models.Campaign{})
	migrateTable("messages", &[]models.Message{})
	migrateTable("webhook_events", &[]models.WebhookEvent{})

	log.Println("Data migration completed")
}
