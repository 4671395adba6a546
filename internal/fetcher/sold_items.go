package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-intel/internal/market"
	"market-intel/internal/version"
)

const (
	defaultSearchPath = "/api/sold"
	soldDateLayout    = "2006-01-02"
)

// HTTPSourceOptions parameterise the HTTP sold-items source.
type HTTPSourceOptions struct {
	BaseURL    string
	SearchPath string
	APIKey     string
	Timeout    time.Duration
	UserAgent  string
}

// HTTPSource queries a JSON sold-items search endpoint.
type HTTPSource struct {
	baseURL    string
	searchPath string
	client     *resty.Client
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewHTTPSource constructs an HTTP sold-items source.
func NewHTTPSource(opts HTTPSourceOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	searchPath := strings.TrimSpace(opts.SearchPath)
	if searchPath == "" {
		searchPath = defaultSearchPath
	}
	if !strings.HasPrefix(searchPath, "/") {
		searchPath = "/" + searchPath
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		client.SetHeader("X-API-Key", key)
	}

	return &HTTPSource{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		searchPath: searchPath,
		client:     client,
		validate:   validator.New(),
		logger:     logger.With().Str("component", "sold_items_source").Logger(),
	}
}

// SearchSoldItems returns up to limit sold items matching query.
func (s *HTTPSource) SearchSoldItems(ctx context.Context, query string, limit int) ([]market.SoldItem, error) {
	if s.baseURL == "" {
		return nil, errors.New("sold items base url not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	start := time.Now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		Get(s.baseURL + s.searchPath)
	if err != nil {
		return nil, fmt.Errorf("request sold items: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode(), resp.Body())
	}

	payloads, err := decodeSoldItems(resp.Body())
	if err != nil {
		return nil, err
	}

	items := make([]market.SoldItem, 0, len(payloads))
	for i, p := range payloads {
		item, err := s.normalize(p)
		if err != nil {
			return nil, fmt.Errorf("sold item %d: %w", i, err)
		}
		items = append(items, item)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	s.logger.Debug().
		Str("query", query).
		Int("limit", limit).
		Int("returned", len(items)).
		Dur("latency", time.Since(start)).
		Msg("sold items fetched")
	return items, nil
}

// SearchURL returns the search URL used for query.
func (s *HTTPSource) SearchURL(query string, limit int) string {
	if s.baseURL == "" {
		return ""
	}
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return s.baseURL + s.searchPath + "?" + params.Encode()
}

func (s *HTTPSource) normalize(p soldItemPayload) (market.SoldItem, error) {
	if err := s.validate.Struct(p); err != nil {
		return market.SoldItem{}, fmt.Errorf("invalid record: %w", err)
	}
	if p.Price.IsNegative() {
		return market.SoldItem{}, fmt.Errorf("negative price %s", p.Price.String())
	}

	soldDate, err := time.Parse(soldDateLayout, p.SoldDate)
	if err != nil {
		return market.SoldItem{}, fmt.Errorf("parse sold_date: %w", err)
	}

	return market.SoldItem{
		Title:      strings.TrimSpace(p.Title),
		Price:      *p.Price,
		SoldDate:   soldDate.UTC(),
		SourceLink: strings.TrimSpace(p.Link),
		Condition:  strings.TrimSpace(p.Condition),
	}, nil
}

type soldItemPayload struct {
	Title     string           `json:"title" validate:"required"`
	Price     *decimal.Decimal `json:"price" validate:"required"`
	SoldDate  string           `json:"sold_date" validate:"required,datetime=2006-01-02"`
	Link      string           `json:"link" validate:"omitempty,url"`
	Condition string           `json:"condition"`
}

// decodeSoldItems accepts both {"items":[...]} and a bare array.
func decodeSoldItems(body []byte) ([]soldItemPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty sold items payload")
	}

	if trimmed[0] == '[' {
		var arr []soldItemPayload
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("sold items payload parse: %w", err)
		}
		return arr, nil
	}

	var wrapped struct {
		Items *[]soldItemPayload `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("sold items payload parse: %w", err)
	}
	if wrapped.Items == nil {
		return nil, errors.New("sold items payload missing items")
	}
	return *wrapped.Items, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("sold items api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("sold items api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("sold items api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("sold items api error (%d)", status)
}

var (
	_ SoldItemsSource = (*HTTPSource)(nil)
	_ ReferenceLinker = (*HTTPSource)(nil)
)
