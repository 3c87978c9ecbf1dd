package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	logger *zap.Logger
}

// New opens (creating if needed) the sqlite database at storagePath and
// applies the schema's pending migrations.
func New(storagePath string, schema Schema, logger *zap.Logger) (*DB, error) {
	if storagePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(storagePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(storagePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serialises writers anyway; one connection keeps transactions
	// and :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("path", storagePath),
		zap.String("schema", schema.Name),
	)
	return database, nil
}

func dsn(storagePath string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if storagePath != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return "file:" + storagePath + "?" + strings.Join(pragmas, "&")
}

func (db *DB) migrate(schema Schema) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		schema TEXT NOT NULL,
		version INTEGER NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (schema, version)
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range schema.Migrations {
		var exists int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations WHERE schema = ? AND version = ?`,
			schema.Name, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to read migration state: %w", err)
		}
		if exists > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (schema, version) VALUES (?, ?)`,
			schema.Name, m.Version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		applied++
	}

	db.logger.Info("Database migrations completed",
		zap.String("schema", schema.Name),
		zap.Int("applied", applied),
	)
	return nil
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Info("Database connection closed")
	return nil
}
