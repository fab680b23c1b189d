// Package postgis loads location lists from a PostGIS table.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/1F47E/geo-overlay/pkg/models"
)

// DefaultTable holds location records.
const DefaultTable = "overlay_locations"

var ErrInvalidBox = errors.New("invalid bounding box")

// LocationStore reads and writes location records in PostGIS.
type LocationStore struct {
	db    *sql.DB
	table string
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, table string) (*LocationStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, table), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, table string) *LocationStore {
	if table == "" {
		table = DefaultTable
	}
	return &LocationStore{db: db, table: table}
}

func (s *LocationStore) ident() string {
	return pq.QuoteIdentifier(s.table)
}

// InitSchema creates the table and its spatial index if they do not exist.
func (s *LocationStore) InitSchema(ctx context.Context) error {
	queries := schemaQueries(s.table)
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

func schemaQueries(table string) []string {
	ident := pq.QuoteIdentifier(table)
	index := pq.QuoteIdentifier("idx_" + table + "_location")
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			price_range TEXT NOT NULL DEFAULT '',
			features JSONB NOT NULL DEFAULT '{}',
			location GEOMETRY(POINT, 4326) NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + ident + ` USING GIST(location);`,
	}
}

// Upsert writes records in batches, replacing rows with the same id.
// Records without a location are skipped and counted.
func (s *LocationStore) Upsert(ctx context.Context, recs []models.LocationRecord) (written, skipped int, err error) {
	const batchSize = 10000

	query := `INSERT INTO ` + s.ident() + ` (id, name, address, price_range, features, location)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			price_range = EXCLUDED.price_range,
			features = EXCLUDED.features,
			location = EXCLUDED.location`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("failed to prepare statement: %w", err)
	}

	for _, rec := range recs {
		if rec.Location == nil {
			skipped++
			continue
		}
		features, err := encodeFeatures(rec.Features)
		if err != nil {
			tx.Rollback()
			return written, skipped, fmt.Errorf("failed to encode features of %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Name, rec.Address, rec.PriceRange, features,
			rec.Location.Lon, rec.Location.Lat); err != nil {
			tx.Rollback()
			return written, skipped, fmt.Errorf("failed to insert location %s: %w", rec.ID, err)
		}
		written++

		// Commit batch
		if written%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return written, skipped, fmt.Errorf("failed to commit batch: %w", err)
			}
			tx, err = s.db.BeginTx(ctx, nil)
			if err != nil {
				return written, skipped, fmt.Errorf("failed to begin new transaction: %w", err)
			}
			stmt, err = tx.PrepareContext(ctx, query)
			if err != nil {
				tx.Rollback()
				return written, skipped, fmt.Errorf("failed to prepare statement: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return written, skipped, fmt.Errorf("failed to commit final batch: %w", err)
	}
	return written, skipped, nil
}

// LoadBox returns the records inside box, ordered by id.
func (s *LocationStore) LoadBox(ctx context.Context, box models.BoundingBox) ([]models.LocationRecord, error) {
	if box.BottomLeft.Lat > box.TopRight.Lat || box.BottomLeft.Lon > box.TopRight.Lon {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidBox, box)
	}

	query := `
		SELECT id, name, address, price_range, features, ST_Y(location) AS lat, ST_X(location) AS lon
		FROM ` + s.ident() + `
		WHERE location && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query,
		box.BottomLeft.Lon, box.BottomLeft.Lat,
		box.TopRight.Lon, box.TopRight.Lat)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var results []models.LocationRecord
	for rows.Next() {
		var (
			rec      models.LocationRecord
			features []byte
			lat, lon float64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Address, &rec.PriceRange, &features, &lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if rec.Features, err = decodeFeatures(features); err != nil {
			return nil, fmt.Errorf("failed to decode features of %s: %w", rec.ID, err)
		}
		rec.Location = &models.Location{Lat: lat, Lon: lon}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// Count returns the number of stored locations.
func (s *LocationStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.ident()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *LocationStore) Close() error {
	return s.db.Close()
}

func encodeFeatures(f map[string]bool) ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

func decodeFeatures(data []byte) (map[string]bool, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var f map[string]bool
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, nil
	}
	return f, nil
}
