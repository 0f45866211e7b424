package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/breathsafe/airquality-core/internal/domain"
)

type sqliteStore struct {
	baseStore
}

// NewSQLite opens (or creates) a sqlite-backed store.
func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:airquality.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			city TEXT NOT NULL,
			observed_date TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			pm25 REAL,
			pm10 REAL,
			o3 REAL,
			co REAL,
			no2 REAL,
			so2 REAL,
			temperature REAL,
			aqi REAL,
			station_id TEXT,
			UNIQUE(city, observed_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_city_date ON measurements(city, observed_date)`,
		`CREATE TABLE IF NOT EXISTS algorithms (
			code TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			period_days INTEGER NOT NULL,
			threshold REAL NOT NULL,
			base_ratio REAL NOT NULL,
			strategy TEXT NOT NULL,
			pollutant TEXT NOT NULL,
			age_group TEXT,
			age_min INTEGER,
			age_max INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) UpsertBatch(ctx context.Context, measurements []domain.Measurement) (int, error) {
	valid, _ := filterReportable(measurements)
	if len(valid) == 0 {
		return 0, fmt.Errorf("upsert batch: %w", ErrNoValidRecords)
	}
	valid = dedupeByDateKey(valid)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (city, observed_date, observed_at, pm25, pm10, o3, co, no2, so2, temperature, aqi, station_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city, observed_date) DO UPDATE SET
			observed_at = excluded.observed_at,
			pm25 = excluded.pm25,
			pm10 = excluded.pm10,
			o3 = excluded.o3,
			co = excluded.co,
			no2 = excluded.no2,
			so2 = excluded.so2,
			temperature = excluded.temperature,
			aqi = excluded.aqi,
			station_id = excluded.station_id`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, m := range valid {
		if _, err := stmt.ExecContext(ctx,
			m.City,
			m.DateKey(),
			m.ObservedAt.UTC().Format(time.RFC3339),
			nullFloat(m.PM25),
			nullFloat(m.PM10),
			nullFloat(m.O3),
			nullFloat(m.CO),
			nullFloat(m.NO2),
			nullFloat(m.SO2),
			nullFloat(m.Temperature),
			nullFloat(m.AirQualityIndex),
			m.StationID,
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert %s/%s: %w", m.City, m.DateKey(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(valid), nil
}

func (s *sqliteStore) ExistingDates(ctx context.Context, city string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT observed_date FROM measurements WHERE city = ?`, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates[d] = struct{}{}
	}
	return dates, rows.Err()
}

func (s *sqliteStore) Series(ctx context.Context, city string, days int, now time.Time) ([]domain.Measurement, error) {
	from := now.UTC().AddDate(0, 0, -days).Format(domain.DateLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT city, observed_at, pm25, pm10, o3, co, no2, so2, temperature, aqi, station_id
		FROM measurements
		WHERE city = ? AND observed_date > ?
		ORDER BY observed_date ASC`, city, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeasurements(rows)
}

func (s *sqliteStore) Latest(ctx context.Context, city string) (domain.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT city, observed_at, pm25, pm10, o3, co, no2, so2, temperature, aqi, station_id
		FROM measurements
		WHERE city = ?
		ORDER BY observed_date DESC
		LIMIT 1`, city)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Measurement{}, fmt.Errorf("%s: %w", city, ErrNoMeasurements)
	}
	return m, err
}

func (s *sqliteStore) HasMeasurements(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM measurements`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ListAlgorithms(ctx context.Context) ([]domain.AlgorithmDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, description, period_days, threshold, base_ratio, strategy, pollutant, age_group, age_min, age_max
		FROM algorithms ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlgorithms(rows)
}

func (s *sqliteStore) SeedAlgorithms(ctx context.Context, defs []domain.AlgorithmDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO algorithms (code, description, period_days, threshold, base_ratio, strategy, pollutant, age_group, age_min, age_max)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code) DO NOTHING`,
			d.Code, d.Description, d.PeriodDays, d.Threshold, d.BaseRatio, d.Strategy, string(d.Pollutant),
			d.AgeGroup, nullInt(d.AgeMin), nullInt(d.AgeMax),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed algorithm %s: %w", d.Code, err)
		}
	}
	return tx.Commit()
}

func scanAlgorithms(rows *sql.Rows) ([]domain.AlgorithmDefinition, error) {
	var out []domain.AlgorithmDefinition
	for rows.Next() {
		var (
			d         domain.AlgorithmDefinition
			pollutant string
			ageGroup  sql.NullString
			ageMin    sql.NullInt64
			ageMax    sql.NullInt64
		)
		if err := rows.Scan(&d.Code, &d.Description, &d.PeriodDays, &d.Threshold, &d.BaseRatio,
			&d.Strategy, &pollutant, &ageGroup, &ageMin, &ageMax); err != nil {
			return nil, err
		}
		d.Pollutant = domain.Pollutant(pollutant)
		d.AgeGroup = ageGroup.String
		d.AgeMin = intPtr(ageMin)
		d.AgeMax = intPtr(ageMax)
		out = append(out, d)
	}
	return out, rows.Err()
}
