package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// getSchemaVersion reads the applied schema version. SQLite keeps it in
// PRAGMA user_version; PostgreSQL in the single-row schema_version table.
func getSchemaVersion(db *DB) (int, error) {
	var version int
	if db.dialect == Postgres {
		if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, fmt.Errorf("creating schema_version: %w", err)
		}
		err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("reading schema version: %w", err)
		}
		return version, nil
	}

	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *DB, version int) error {
	if db.dialect == Postgres {
		if _, err := db.conn.Exec("DELETE FROM schema_version"); err != nil {
			return err
		}
		_, err := db.conn.Exec("INSERT INTO schema_version (version) VALUES ($1)", version)
		return err
	}
	// PRAGMA cannot be parameterized.
	_, err := db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

// migrate brings the database schema up to the latest version.
func migrate(db *DB) error {
	current, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.Version, "description", m.Description, "dialect", string(db.dialect))

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, db.dialect); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set the version outside the transaction (modernc/sqlite requirement).
		// Safe: if we crash here, the idempotent DDL lets the migration re-run.
		if err := setSchemaVersion(db, m.Version); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
