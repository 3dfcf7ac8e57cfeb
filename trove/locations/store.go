package locations

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// Store persists resolved structure records across runs in a single libsql
// database. Placeholders are never written: a failed resolution should be
// retried on the next run, not remembered.
type Store struct {
	db *sql.DB
}

// OpenStore opens or initializes the location database at the given DSN
// (e.g. "file:/path/to/locations.db").
func OpenStore(dsn string) (*Store, error) {
	if path, ok := strings.CutPrefix(dsn, "file:"); ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create location database directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open location database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init sets up the locations table.
func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS locations (
		location_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		last_checked TEXT NOT NULL,
		owner_id INTEGER,
		esi_name TEXT,
		custom_name TEXT,
		solar_system_id INTEGER
	)`)
	if err != nil {
		return fmt.Errorf("failed to create locations table: %w", err)
	}
	return nil
}

// Upsert writes one record. Placeholder records are skipped.
func (s *Store) Upsert(rec Record) error {
	if rec.IsPlaceholder {
		return nil
	}

	_, err := s.db.Exec(`INSERT INTO locations
		(location_id, name, category, last_checked, owner_id, esi_name, custom_name, solar_system_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			last_checked = excluded.last_checked,
			owner_id = excluded.owner_id,
			esi_name = excluded.esi_name,
			custom_name = excluded.custom_name,
			solar_system_id = excluded.solar_system_id`,
		rec.LocationID,
		rec.Name,
		string(rec.Category),
		rec.LastChecked.UTC().Format(time.RFC3339Nano),
		rec.OwnerID,
		rec.ESIName,
		rec.CustomName,
		rec.SolarSystemID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert location %d: %w", rec.LocationID, err)
	}
	return nil
}

// All loads every persisted record. Rows that fail to scan or carry an
// unparseable timestamp are skipped with a debug log rather than failing the
// whole load.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(`SELECT location_id, name, category, last_checked,
		owner_id, esi_name, custom_name, solar_system_id FROM locations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec         Record
			category    string
			lastChecked string
		)
		if err := rows.Scan(&rec.LocationID, &rec.Name, &category, &lastChecked,
			&rec.OwnerID, &rec.ESIName, &rec.CustomName, &rec.SolarSystemID); err != nil {
			slog.Debug("Skipping unreadable location row", "error", err)
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, lastChecked)
		if err != nil {
			slog.Debug("Skipping location row with bad timestamp",
				"location_id", rec.LocationID, "error", err)
			continue
		}
		rec.Category = Category(category)
		rec.LastChecked = ts
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}
	return out, nil
}

// Delete removes one record by id.
func (s *Store) Delete(locationID int64) error {
	_, err := s.db.Exec("DELETE FROM locations WHERE location_id = ?", locationID)
	if err != nil {
		return fmt.Errorf("failed to delete location %d: %w", locationID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
