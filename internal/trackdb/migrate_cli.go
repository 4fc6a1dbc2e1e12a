package trackdb

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand runs one 'migrate' subcommand against the database at
// dbPath without recording a run: up, down, status, to <version> or help.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("migrate: missing action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	sqlDB, err := openSQL(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlDB.Close()
	db := &TrackDB{DB: sqlDB}

	switch action {
	case "up":
		err = db.MigrateUp()
	case "down":
		err = db.MigrateDown()
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("usage: camflow migrate to <version>")
		}
		v, perr := strconv.ParseUint(args[1], 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		err = db.MigrateTo(uint(v))
	case "status":
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
	if err != nil {
		return err
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed part way. Inspect the database before migrating again.")
	}
	return nil
}

// PrintMigrateHelp writes the migrate subcommand usage to out.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: camflow migrate <action> [args]

Actions:
  up             apply every pending migration
  down           roll back the latest migration
  to <version>   migrate up or down to version
  status         print the current schema version
  help           show this message
`)
}
