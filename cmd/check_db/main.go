package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Schema sanity check for the tabletop tables. Run after a deploy to
// confirm AutoMigrate produced the expected columns and indexes.
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Database connection
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	tables := []string{"sandboxes", "users", "images", "tokens", "chat_messages"}
	for _, table := range tables {
		var exists bool
		query := `
			SELECT EXISTS (
				SELECT 1
				FROM information_schema.tables
				WHERE table_name = ?
			)
		`
		if err := db.Raw(query, table).Scan(&exists).Error; err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		fmt.Printf("📊 Table %-14s exists: %v\n", table, exists)
	}
	fmt.Println()

	// Visibility column on chat_messages (added after the first schema)
	var visExists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_name = 'chat_messages'
			AND column_name = 'visibility'
		)
	`
	if err := db.Raw(query).Scan(&visExists).Error; err != nil {
		log.Fatal("Failed to check visibility column:", err)
	}
	fmt.Printf("📋 chat_messages.visibility exists: %v\n", visExists)

	// History index used by the viewer-filtered message query
	var idxExists bool
	query = `
		SELECT EXISTS (
			SELECT 1
			FROM pg_indexes
			WHERE tablename = 'chat_messages'
			AND indexname = 'idx_messages_sandbox_created'
		)
	`
	if err := db.Raw(query).Scan(&idxExists).Error; err != nil {
		log.Fatal("Failed to check history index:", err)
	}
	fmt.Printf("📋 idx_messages_sandbox_created exists: %v\n", idxExists)

	// Active image invariant: no sandbox should have two active images
	type dup struct {
		SandboxID string
		N         int64
	}
	var dups []dup
	query = `
		SELECT sandbox_id, COUNT(*) AS n
		FROM images
		WHERE is_active = true
		GROUP BY sandbox_id
		HAVING COUNT(*) > 1
	`
	if err := db.Raw(query).Scan(&dups).Error; err != nil {
		log.Fatal("Failed to check active image invariant:", err)
	}
	if len(dups) == 0 {
		fmt.Println("✅ No sandbox has more than one active image")
	} else {
		for _, d := range dups {
			fmt.Printf("⚠️ Sandbox %s has %d active images\n", d.SandboxID, d.N)
		}
	}
}
