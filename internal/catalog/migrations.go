package catalog

import (
	"database/sql"

	"github.com/HerbHall/roomsense/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create catalog tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS rooms (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS scanners (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT NOT NULL UNIQUE,
						display_name TEXT NOT NULL DEFAULT '',
						latest_signal_at DATETIME,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS prediction_models (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						display_name TEXT NOT NULL DEFAULT '',
						accuracy REAL NOT NULL DEFAULT 0,
						inputs_hash TEXT NOT NULL DEFAULT '',
						model BLOB,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS devices (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						uuid TEXT NOT NULL UNIQUE,
						use_name_as_id INTEGER NOT NULL DEFAULT 0,
						display_name TEXT NOT NULL DEFAULT '',
						prediction_model_id INTEGER REFERENCES prediction_models(id),
						latest_signal_at DATETIME,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS learning_sessions (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id INTEGER NOT NULL REFERENCES devices(id),
						room_id INTEGER NOT NULL REFERENCES rooms(id),
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS device_signals (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						learning_session_id INTEGER REFERENCES learning_sessions(id),
						device_id INTEGER NOT NULL REFERENCES devices(id),
						room_id INTEGER NOT NULL REFERENCES rooms(id),
						scanner_id INTEGER NOT NULL REFERENCES scanners(id),
						rssi REAL NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_signals_session ON device_signals(learning_session_id)`,
					`CREATE INDEX IF NOT EXISTS idx_signals_device ON device_signals(device_id, created_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "create generated heartbeats table for training",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS learn_heartbeats (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						learning_session_id INTEGER NOT NULL REFERENCES learning_sessions(id),
						device_id INTEGER NOT NULL REFERENCES devices(id),
						room_id INTEGER NOT NULL REFERENCES rooms(id),
						signals TEXT NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_learn_heartbeats_device ON learn_heartbeats(device_id)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
