// Package apininjas fetches city air quality readings from the API Ninjas
// airquality endpoint and maps them to domain measurements.
package apininjas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Client calls the provider's city-keyed airquality endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates a provider client with a bounded request timeout.
func NewClient(apiKey, baseURL string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		clock:   clock,
		logger:  logger,
	}
}

// FetchCity requests the current reading for a city and maps it to a
// Measurement. It returns domain.ErrRateLimited on HTTP 429 or a
// quota-exceeded payload, and domain.ErrInvalidData when the payload carries
// no usable pollutant.
func (c *Client) FetchCity(ctx context.Context, city string) (domain.Measurement, error) {
	u := c.baseURL + "?" + url.Values{"city": {city}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Measurement{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Measurement{}, fmt.Errorf("fetch %s: %w", city, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Measurement{}, fmt.Errorf("read response for %s: %w", city, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.Measurement{}, fmt.Errorf("fetch %s: %w", city, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		if quotaExceeded(body) {
			return domain.Measurement{}, fmt.Errorf("fetch %s: %w", city, domain.ErrRateLimited)
		}
		return domain.Measurement{}, fmt.Errorf("fetch %s: provider status %d: %s", city, resp.StatusCode, body)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Measurement{}, fmt.Errorf("fetch %s: decode payload: %w", city, domain.ErrInvalidData)
	}
	if quotaExceeded(body) {
		return domain.Measurement{}, fmt.Errorf("fetch %s: %w", city, domain.ErrRateLimited)
	}

	m := MapMeasurement(city, c.clock.Now().UTC(), payload)
	if !m.Reportable() {
		return domain.Measurement{}, fmt.Errorf("fetch %s: no usable pollutant: %w", city, domain.ErrInvalidData)
	}
	return m, nil
}

// quotaExceeded detects the provider's non-429 quota error payload,
// e.g. {"error": "monthly quota exceeded"}.
func quotaExceeded(body []byte) bool {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return false
	}
	msg := strings.ToLower(e.Error)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
}

// MapMeasurement translates a provider payload into the canonical
// Measurement. Pollutants the provider omits stay nil; they are never
// coerced to zero.
func MapMeasurement(city string, observedAt time.Time, payload response) domain.Measurement {
	m := domain.Measurement{
		City:        city,
		ObservedAt:  observedAt,
		Temperature: payload.Temperature,
		StationID:   payload.StationID,
	}
	if payload.PM25 != nil {
		m.PM25 = domain.Float(payload.PM25.Concentration)
	}
	if payload.PM10 != nil {
		m.PM10 = domain.Float(payload.PM10.Concentration)
	}
	if payload.O3 != nil {
		m.O3 = domain.Float(payload.O3.Concentration)
	}
	if payload.CO != nil {
		m.CO = domain.Float(payload.CO.Concentration)
	}
	if payload.NO2 != nil {
		m.NO2 = domain.Float(payload.NO2.Concentration)
	}
	if payload.SO2 != nil {
		m.SO2 = domain.Float(payload.SO2.Concentration)
	}
	if payload.OverallAQI != nil {
		m.AirQualityIndex = domain.Float(*payload.OverallAQI)
	}
	return m
}

// Provider API response types. Each pollutant arrives as an object with a
// concentration and its own sub-index; absence of the object is a valid
// response.

type response struct {
	CO         *reading `json:"CO"`
	NO2        *reading `json:"NO2"`
	O3         *reading `json:"O3"`
	SO2        *reading `json:"SO2"`
	PM25       *reading `json:"PM2.5"`
	PM10       *reading `json:"PM10"`
	OverallAQI *float64 `json:"overall_aqi"`

	// Optional enrichments some plans include.
	Temperature *float64 `json:"temperature"`
	StationID   string   `json:"station_id"`
}

type reading struct {
	Concentration float64 `json:"concentration"`
	AQI           float64 `json:"aqi"`
}
