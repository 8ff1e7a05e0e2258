package main

import (
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/storage/sqlite"
)

// runMigrate handles the 'migrate' subcommand dispatching
func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	dbPath := fs.String("db", "", "Experiment database")
	if len(args) < 1 {
		printMigrateHelp(stderr)
		return errUsage
	}
	action := args[0]
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}
	if action == "help" {
		printMigrateHelp(stdout)
		return nil
	}
	if *dbPath == "" {
		fmt.Fprintln(stderr, "migrate: -db is required")
		return errUsage
	}

	// Open without applying migrations; the action decides.
	database, err := sqlite.OpenDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(); err != nil {
			return err
		}
		log.Println("All migrations applied successfully")
	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			return err
		}
		log.Println("Migration rolled back successfully")
	case "status":
	default:
		fmt.Fprintf(stderr, "Unknown migrate action: %s\n\n", action)
		printMigrateHelp(stderr)
		return errUsage
	}

	st, err := database.GetMigrationStatus()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "=== Migration Status ===")
	fmt.Fprintf(stdout, "Current version: %d\n", st.CurrentVersion)
	fmt.Fprintf(stdout, "Latest version: %d\n", st.LatestVersion)
	fmt.Fprintf(stdout, "Dirty: %v\n", st.Dirty)
	if st.Dirty {
		fmt.Fprintln(stdout, "\nWARNING: a migration failed mid-execution; inspect the database before continuing.")
	} else if st.Pending() {
		fmt.Fprintln(stdout, "Pending migrations: run 'migrate up'")
	}
	return nil
}

func printMigrateHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s migrate <action> -db FILE

Actions:
  up      Apply all pending migrations
  down    Roll back the most recent migration
  status  Show the current schema version
  help    Show this help message
`, program)
}
