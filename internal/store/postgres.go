package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/breathsafe/airquality-core/internal/domain"
)

type postgresStore struct {
	baseStore
}

// NewPostgres opens a postgres-backed store via the pgx stdlib driver.
func NewPostgres(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id BIGSERIAL PRIMARY KEY,
			city TEXT NOT NULL,
			observed_date TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			pm25 DOUBLE PRECISION,
			pm10 DOUBLE PRECISION,
			o3 DOUBLE PRECISION,
			co DOUBLE PRECISION,
			no2 DOUBLE PRECISION,
			so2 DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			aqi DOUBLE PRECISION,
			station_id TEXT,
			UNIQUE(city, observed_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_city_date ON measurements(city, observed_date)`,
		`CREATE TABLE IF NOT EXISTS algorithms (
			code TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			period_days INTEGER NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			base_ratio DOUBLE PRECISION NOT NULL,
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

func (s *postgresStore) UpsertBatch(ctx context.Context, measurements []domain.Measurement) (int, error) {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (city, observed_date) DO UPDATE SET
			observed_at = EXCLUDED.observed_at,
			pm25 = EXCLUDED.pm25,
			pm10 = EXCLUDED.pm10,
			o3 = EXCLUDED.o3,
			co = EXCLUDED.co,
			no2 = EXCLUDED.no2,
			so2 = EXCLUDED.so2,
			temperature = EXCLUDED.temperature,
			aqi = EXCLUDED.aqi,
			station_id = EXCLUDED.station_id`)
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

func (s *postgresStore) ExistingDates(ctx context.Context, city string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT observed_date FROM measurements WHERE city = $1`, city)
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

func (s *postgresStore) Series(ctx context.Context, city string, days int, now time.Time) ([]domain.Measurement, error) {
	from := now.UTC().AddDate(0, 0, -days).Format(domain.DateLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT city, observed_at, pm25, pm10, o3, co, no2, so2, temperature, aqi, station_id
		FROM measurements
		WHERE city = $1 AND observed_date > $2
		ORDER BY observed_date ASC`, city, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeasurements(rows)
}

func (s *postgresStore) Latest(ctx context.Context, city string) (domain.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT city, observed_at, pm25, pm10, o3, co, no2, so2, temperature, aqi, station_id
		FROM measurements
		WHERE city = $1
		ORDER BY observed_date DESC
		LIMIT 1`, city)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Measurement{}, fmt.Errorf("%s: %w", city, ErrNoMeasurements)
	}
	return m, err
}

func (s *postgresStore) HasMeasurements(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM measurements`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) ListAlgorithms(ctx context.Context) ([]domain.AlgorithmDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, description, period_days, threshold, base_ratio, strategy, pollutant, age_group, age_min, age_max
		FROM algorithms ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlgorithms(rows)
}

func (s *postgresStore) SeedAlgorithms(ctx context.Context, defs []domain.AlgorithmDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO algorithms (code, description, period_days, threshold, base_ratio, strategy, pollutant, age_group, age_min, age_max)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (code) DO NOTHING`,
			d.Code, d.Description, d.PeriodDays, d.Threshold, d.BaseRatio, d.Strategy, string(d.Pollutant),
			d.AgeGroup, nullInt(d.AgeMin), nullInt(d.AgeMax),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed algorithm %s: %w", d.Code, err)
		}
	}
	return tx.Commit()
}
