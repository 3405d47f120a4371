package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dosu/internal/domain"
	"dosu/internal/logging"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken is returned when a new appointment overlaps an active one.
	ErrSlotTaken = errors.New("slot already booked")
	ErrNoWorker  = errors.New("no available worker for room")
)

// DB is the SQLite persistence of the development schedule backend.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

var _ domain.ScheduleRepository = (*DB)(nil)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS timeslot_configs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL DEFAULT 'default',
            is_default BOOLEAN NOT NULL DEFAULT 0,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL DEFAULT '9999-12-01',
            wd_start_hour TEXT NOT NULL,
            wd_end_hour TEXT NOT NULL,
            wd_lunch_start_hour TEXT NOT NULL,
            wd_lunch_end_hour TEXT NOT NULL,
            wd_overtime_hour TEXT NOT NULL,
            sd_start_hour TEXT NOT NULL,
            sd_end_hour TEXT NOT NULL,
            sd_overtime_hour TEXT NOT NULL,
            duration INTEGER NOT NULL,
            rooms TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS patients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            mrn INTEGER UNIQUE NOT NULL,
            name TEXT NOT NULL,
            sex TEXT NOT NULL DEFAULT '',
            tel TEXT NOT NULL DEFAULT '',
            note TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS workers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            room INTEGER NOT NULL,
            available BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS dosutypes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT UNIQUE NOT NULL,
            order_code TEXT NOT NULL DEFAULT '',
            slot_quantity INTEGER NOT NULL,
            price INTEGER NOT NULL DEFAULT 0,
            available BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS appointments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            date TEXT NOT NULL,
            room INTEGER NOT NULL,
            slot INTEGER NOT NULL,
            slot_quantity INTEGER NOT NULL,
            dosutype_id INTEGER NOT NULL REFERENCES dosutypes(id),
            worker_id INTEGER NOT NULL REFERENCES workers(id),
            patient_id INTEGER NOT NULL REFERENCES patients(id),
            price INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'active',
            note TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(date)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date_room ON appointments(date, room)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments(patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_room ON workers(room)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
