// Package cpcb fetches station readings from a CPCB-style open data API
// (api.data.gov.in resource endpoints). Responses are paged; records arrive
// with every value as a string and missing values spelled "NA".
package cpcb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/airshed/aod-calibration-service/internal/domain"
)

type backoffConfig struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// Client is a resilient station API client: retries with exponential
// backoff behind a circuit breaker, matching how the upstream rate-limits.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int

	httpClient *http.Client
	circuit    *gobreaker.CircuitBreaker
	backoff    backoffConfig
	logger     *slog.Logger
}

// Config carries the station API settings.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

// New builds a client with its own circuit breaker.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("cpcb: base URL is required")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.New("cpcb: page size must be positive")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cpcb",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: timeout},
		circuit:    cb,
		backoff: backoffConfig{
			maxRetries:      3,
			initialInterval: 500 * time.Millisecond,
			maxInterval:     5 * time.Second,
		},
		logger: logger,
	}, nil
}

// Page is one page of readings plus the upstream's total record count.
type Page struct {
	Readings []domain.Reading
	Total    int
}

type apiResponse struct {
	Total   int         `json:"total"`
	Count   int         `json:"count"`
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	Station    string    `json:"station"`
	LastUpdate string    `json:"last_update"`
	AOD        apiNumber `json:"satellite_aod"`
	MinTemp    apiNumber `json:"min_temp"`
	MaxTemp    apiNumber `json:"max_temp"`
	Rainfall   apiNumber `json:"rainfall"`
	Humidity   apiNumber `json:"humidity"`
	PM25       apiNumber `json:"pm2_5"`
}

// apiNumber tolerates the upstream's loose typing: numbers arrive as JSON
// numbers or as strings, with "NA" and "" meaning absent.
type apiNumber struct {
	value *float64
}

func (n *apiNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return err
		}
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || strings.EqualFold(s, "NA") || strings.EqualFold(s, "None") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cpcb: bad numeric value %q", s)
	}
	n.value = &v
	return nil
}

// FetchPage retrieves one page of readings starting at offset. Records
// missing a station, timestamp, or any required field are skipped with a
// warning rather than failing the page.
func (c *Client) FetchPage(ctx context.Context, offset int) (Page, error) {
	resp, err := c.doWithResilience(ctx, offset)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Page{}, fmt.Errorf("cpcb: decode response: %w", err)
	}

	page := Page{Total: payload.Total}
	for _, rec := range payload.Records {
		reading, err := c.toReading(rec)
		if err != nil {
			c.logger.Warn("skipping malformed station record", "station", rec.Station, "error", err)
			continue
		}
		page.Readings = append(page.Readings, reading)
	}
	return page, nil
}

func (c *Client) toReading(rec apiRecord) (domain.Reading, error) {
	if rec.Station == "" {
		return domain.Reading{}, errors.New("missing station")
	}
	ts, err := parseTimestamp(rec.LastUpdate)
	if err != nil {
		return domain.Reading{}, err
	}
	for name, n := range map[string]apiNumber{
		"satellite_aod": rec.AOD,
		"min_temp":      rec.MinTemp,
		"max_temp":      rec.MaxTemp,
		"rainfall":      rec.Rainfall,
	} {
		if n.value == nil {
			return domain.Reading{}, fmt.Errorf("missing %s", name)
		}
	}

	r := domain.Reading{
		Station: rec.Station,
		Observation: domain.Observation{
			AOD:       *rec.AOD.value,
			MinTemp:   *rec.MinTemp.value,
			MaxTemp:   *rec.MaxTemp.value,
			Rainfall:  *rec.Rainfall.value,
			Humidity:  rec.Humidity.value,
			Timestamp: ts,
		},
		PM25: rec.PM25.value,
	}
	if err := r.Observation.Validate(); err != nil {
		return domain.Reading{}, err
	}
	return r, nil
}

// The upstream reports IST wall-clock times without a zone suffix.
var istZone = time.FixedZone("IST", 5*3600+1800)

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "02-01-2006 15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() == time.UTC && layout != time.RFC3339 {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, istZone)
			}
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

var (
	errRateLimited = errors.New("cpcb: rate limited")
	errServerError = errors.New("cpcb: server error")
)

func (c *Client) doWithResilience(ctx context.Context, offset int) (*http.Response, error) {
	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := c.buildRequest(ctx, offset)
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.httpClient.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				resp.Body.Close()
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				resp.Body.Close()
				return nil, errServerError
			case resp.StatusCode != http.StatusOK:
				resp.Body.Close()
				return nil, fmt.Errorf("cpcb: unexpected status %d", resp.StatusCode)
			}
			return resp, nil
		})
		if err == nil {
			return result.(*http.Response), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("cpcb: circuit open: %w", err)
		}
		if attempt >= c.backoff.maxRetries {
			return nil, err
		}

		delay := c.backoff.initialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.backoff.maxInterval {
			delay = c.backoff.maxInterval
		}
		c.logger.Warn("station API request failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

func (c *Client) buildRequest(ctx context.Context, offset int) (*http.Request, error) {
	values := url.Values{}
	values.Set("api-key", c.apiKey)
	values.Set("format", "json")
	values.Set("offset", strconv.Itoa(offset))
	values.Set("limit", strconv.Itoa(c.pageSize))

	u := fmt.Sprintf("%s?%s", c.baseURL, values.Encode())
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

// PageSize is the configured records-per-page limit.
func (c *Client) PageSize() int { return c.pageSize }
