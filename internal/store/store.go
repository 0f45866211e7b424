// Package store persists measurements and algorithm definitions behind a
// relational query interface. Two drivers are supported: sqlite for local and
// test use, postgres for deployments.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/breathsafe/airquality-core/internal/domain"
)

// ErrNoValidRecords is returned by UpsertBatch when every record in the batch
// failed the usable-pollutant invariant.
var ErrNoValidRecords = errors.New("no valid records in batch")

// ErrNoMeasurements is returned by Latest when a city has no stored data.
var ErrNoMeasurements = errors.New("no measurements for city")

// MeasurementStore is the gateway the ingestion and analysis paths use to
// reach stored measurements.
type MeasurementStore interface {
	// UpsertBatch validates and writes measurements keyed by (city, date).
	// Records failing the usable-pollutant invariant are filtered out, not
	// fatal; the batch fails only if nothing valid remains. Returns the
	// number of records written.
	UpsertBatch(ctx context.Context, measurements []domain.Measurement) (int, error)

	// ExistingDates returns the set of YYYY-MM-DD date keys already stored
	// for a city.
	ExistingDates(ctx context.Context, city string) (map[string]struct{}, error)

	// Series returns a city's measurements from the trailing number of days
	// up to now, ascending by observation time.
	Series(ctx context.Context, city string, days int, now time.Time) ([]domain.Measurement, error)

	// Latest returns the most recent measurement for a city, or
	// ErrNoMeasurements.
	Latest(ctx context.Context, city string) (domain.Measurement, error)
}

// AlgorithmStore loads the risk algorithm catalog.
type AlgorithmStore interface {
	ListAlgorithms(ctx context.Context) ([]domain.AlgorithmDefinition, error)

	// SeedAlgorithms inserts definitions, skipping codes that already exist.
	SeedAlgorithms(ctx context.Context, defs []domain.AlgorithmDefinition) error
}

// Store is the full persistence surface.
type Store interface {
	MeasurementStore
	AlgorithmStore
	Init(ctx context.Context) error
	HasMeasurements(ctx context.Context) (bool, error)
	Close() error
}

// New opens a store for the configured driver.
func New(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// filterReportable drops records missing every usable pollutant. Returns the
// surviving records and the number dropped.
func filterReportable(measurements []domain.Measurement) ([]domain.Measurement, int) {
	valid := make([]domain.Measurement, 0, len(measurements))
	for _, m := range measurements {
		if m.Reportable() {
			valid = append(valid, m)
		}
	}
	return valid, len(measurements) - len(valid)
}

// dedupeByDateKey keeps the last record per (city, date) so a single batch
// never conflicts with itself inside one statement.
func dedupeByDateKey(measurements []domain.Measurement) []domain.Measurement {
	index := make(map[string]int, len(measurements))
	out := make([]domain.Measurement, 0, len(measurements))
	for _, m := range measurements {
		key := m.City + "|" + m.DateKey()
		if i, ok := index[key]; ok {
			out[i] = m
			continue
		}
		index[key] = len(out)
		out = append(out, m)
	}
	return out
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func scanMeasurements(rows *sql.Rows) ([]domain.Measurement, error) {
	var out []domain.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row rowScanner) (domain.Measurement, error) {
	var (
		m          domain.Measurement
		observedAt string
		pm25, pm10 sql.NullFloat64
		o3, co     sql.NullFloat64
		no2, so2   sql.NullFloat64
		temp, aqi  sql.NullFloat64
		station    sql.NullString
	)
	if err := row.Scan(&m.City, &observedAt, &pm25, &pm10, &o3, &co, &no2, &so2, &temp, &aqi, &station); err != nil {
		return domain.Measurement{}, err
	}
	ts, err := time.Parse(time.RFC3339, observedAt)
	if err != nil {
		return domain.Measurement{}, fmt.Errorf("parse observed_at %q: %w", observedAt, err)
	}
	m.ObservedAt = ts.UTC()
	m.PM25 = floatPtr(pm25)
	m.PM10 = floatPtr(pm10)
	m.O3 = floatPtr(o3)
	m.CO = floatPtr(co)
	m.NO2 = floatPtr(no2)
	m.SO2 = floatPtr(so2)
	m.Temperature = floatPtr(temp)
	m.AirQualityIndex = floatPtr(aqi)
	m.StationID = station.String
	return m, nil
}
