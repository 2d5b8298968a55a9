package db

import (
	"fmt"
	"io"
	"strconv"
)

// MigrateUsage is printed for unknown or missing migrate actions.
const MigrateUsage = `Usage: depthcam migrate <action>

Actions:
  up             apply all pending migrations
  down           roll back the most recent migration
  status         show the current schema version
  force <v>      set the schema version without running migrations (recovery only)
`

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(out, MigrateUsage)
		return fmt.Errorf("missing migrate action")
	}

	// Open without migrating; the actions below manage the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		// reported below
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: depthcam migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migration version forced to %d\n", v)
	case "help":
		fmt.Fprint(out, MigrateUsage)
		return nil
	default:
		fmt.Fprint(out, MigrateUsage)
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (latest %d)\n", version, latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database, then run: depthcam migrate force <version>")
	}
	return nil
}
