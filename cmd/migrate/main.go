// ABOUTME: Migration utility that prepares a relational database for embudo.
// ABOUTME: Creates the schema and seeds the demo pipeline, with dry-run and SQLite backup support.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/models"
)

func main() {
	dsn := flag.String("db", os.Getenv("EMBUDO_DATABASE_URL"), "Database URL or SQLite path (default: $EMBUDO_DATABASE_URL)")
	dryRun := flag.Bool("dry-run", false, "Show what would happen without making changes")
	backup := flag.Bool("backup", true, "Create backup before migration (SQLite only)")
	seed := flag.Bool("seed", true, "Insert the demo pipeline so database ids match the surface seed")
	force := flag.Bool("force", false, "Seed even if deals already exist (ids will not match)")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("Error: -db flag is required")
	}

	if err := migrate(context.Background(), *dsn, *dryRun, *backup, *seed, *force); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migration completed successfully")
}

func migrate(ctx context.Context, dsn string, dryRun, createBackup, seed, force bool) error {
	_, dialect, source, err := db.ParseDSN(dsn)
	if err != nil {
		return err
	}

	if dialect == db.DialectSQLite {
		if _, err := os.Stat(source); err == nil && createBackup && !dryRun {
			if err := backupFile(source); err != nil {
				return err
			}
		}
	}

	if dryRun {
		log.Printf("[DRY RUN] Would perform the following actions on %s:", dialect)
		log.Printf("[DRY RUN] - Create tables contacts, deals, activities if missing")
		if seed {
			for _, d := range db.SeedDeals() {
				log.Printf("[DRY RUN] - Insert deal %d %q (%s)", d.ID, d.Title, d.Stage)
			}
		}
		return nil
	}

	// Opening applies the schema.
	backend, err := db.OpenSQLBackend(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = backend.Close() }()
	log.Printf("Schema ready (%s)", dialect)

	if !seed {
		return nil
	}

	var created []models.Deal
	err = backend.InTx(ctx, func(tb db.Tables) error {
		var err error
		created, err = db.SeedTables(ctx, tb, db.DefaultSeed(), force)
		return err
	})
	if errors.Is(err, db.ErrNotEmpty) {
		log.Printf("Deals already exist, skipping seed (use -force to seed anyway)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}

	for _, d := range created {
		log.Printf("Seeded deal %d: %s", d.ID, d.Title)
	}
	return nil
}

func backupFile(path string) error {
	backupPath := fmt.Sprintf("%s.backup.%s", path, time.Now().Format("20060102-150405"))
	log.Printf("Creating backup: %s", backupPath)

	input, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read database: %w", err)
	}

	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	log.Printf("Backup created successfully")
	return nil
}
