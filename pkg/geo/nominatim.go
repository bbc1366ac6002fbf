// Package geo resolves free-text locations to coordinates and back using
// an OpenStreetMap Nominatim endpoint.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "civic-reporting/1.0"

	maxBody = 1 << 20
)

// ErrNotFound is returned when an address resolves to nothing.
var ErrNotFound = errors.New("geo: location not found")

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// India's bounding box.
const (
	minLat = 6.4
	maxLat = 37.6
	minLng = 68.1
	maxLng = 97.4
)

// InIndia reports whether c falls inside India's bounding box.
func InIndia(c Coordinates) bool {
	return c.Lat >= minLat && c.Lat <= maxLat && c.Lng >= minLng && c.Lng <= maxLng
}

// Nominatim is a client for the search and reverse endpoints.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewNominatim creates a client. Empty baseURL or userAgent select the
// public defaults.
func NewNominatim(baseURL, userAgent string, logger *slog.Logger) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Nominatim{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.With("adapter", "nominatim"),
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reverseResult struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// Geocode resolves address, biased to India, to its best match.
func (n *Nominatim) Geocode(ctx context.Context, address string) (Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Coordinates{}, ErrNotFound
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "in")
	q.Set("q", address)

	var results []searchResult
	if err := n.get(ctx, "/search", q, &results); err != nil {
		return Coordinates{}, err
	}
	if len(results) == 0 {
		return Coordinates{}, ErrNotFound
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return Coordinates{}, fmt.Errorf("nominatim: bad coordinates %q,%q", results[0].Lat, results[0].Lon)
	}
	return Coordinates{Lat: lat, Lng: lng}, nil
}

// Reverse returns a display address for c.
func (n *Nominatim) Reverse(ctx context.Context, c Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lng, 'f', -1, 64))

	var res reverseResult
	if err := n.get(ctx, "/reverse", q, &res); err != nil {
		return "", err
	}
	if res.DisplayName == "" {
		return "", ErrNotFound
	}
	return res.DisplayName, nil
}

func (n *Nominatim) get(ctx context.Context, path string, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("nominatim: create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.WarnContext(ctx, "nominatim request failed", slog.String("path", path), slog.String("error", err.Error()))
		return fmt.Errorf("nominatim: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("nominatim: read body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("nominatim: decode json: %w", err)
	}
	return nil
}
