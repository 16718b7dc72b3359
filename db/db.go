package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Open opens the SQLite database at dbPath, creating the parent directory if
// needed, and enables foreign key enforcement on the connection.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return conn, nil
}

// InitSchema creates all tables if they do not exist. Deleting a room cascades
// to its zones, and deleting a zone cascades to its schedules.
func InitSchema(conn *sql.DB) error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zones (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		room_id TEXT NOT NULL,
		plant_count INTEGER DEFAULT 1,
		pump_entity TEXT,
		solenoid_entity TEXT,
		flow_rate REAL DEFAULT 4.0,
		active BOOLEAN DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms (id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		duration INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		times TEXT NOT NULL,
		days TEXT,
		active BOOLEAN DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (zone_id) REFERENCES zones (id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS water_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zone_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		amount REAL NOT NULL,
		duration INTEGER NOT NULL,
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Msg("Database schema initialized")
	return nil
}
