package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// maxHotelOptions caps the normalized hotel list; the provider returns far
// more properties than the itinerary generator needs to see.
const maxHotelOptions = 4

// HotelService queries the external hotel search provider and normalizes
// its property list into HotelOptions.
type HotelService struct {
	config     config.SearchConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger
}

// HotelQuery carries the derived parameters for one property search.
// MinStars is a hint to the provider, not a hard filter; the provider may
// still return properties below it.
type HotelQuery struct {
	Location     string
	CheckInDate  string
	CheckOutDate string
	Adults       int
	Children     int
	MinStars     int
}

type hotelSearchResponse struct {
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	Properties []hotelProperty `json:"properties"`
	Error      string          `json:"error"`
}

type hotelProperty struct {
	Type          string  `json:"type"`
	Name          string  `json:"name"`
	HotelClass    string  `json:"hotel_class"`
	OverallRating float64 `json:"overall_rating"`
	RatePerNight struct {
		Lowest string `json:"lowest"`
	} `json:"rate_per_night"`
	TotalRate struct {
		Lowest string `json:"lowest"`
	} `json:"total_rate"`
	Images []struct {
		Thumbnail string `json:"thumbnail"`
	} `json:"images"`
}

func NewHotelService(cfg config.SearchConfig, log *logger.Logger) (*HotelService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("hotel search API key required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "hotel-search",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	service := &HotelService{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     log,
	}

	log.Info("Hotel service initialized",
		"base_url", cfg.BaseURL,
		"currency", cfg.Currency)

	return service, nil
}

// Search queries the provider for properties at the destination. Only real
// hotels with a published guest rating survive normalization, and at most
// maxHotelOptions of them, in provider order.
func (s *HotelService) Search(ctx context.Context, query HotelQuery) ([]models.HotelOption, error) {
	startTime := time.Now()

	params := url.Values{}
	params.Set("engine", "google_hotels")
	params.Set("q", query.Location)
	params.Set("gl", s.config.CountryCode)
	params.Set("hl", s.config.Locale)
	params.Set("currency", s.config.Currency)
	params.Set("check_in_date", query.CheckInDate)
	params.Set("check_out_date", query.CheckOutDate)
	params.Set("adults", strconv.Itoa(query.Adults))
	params.Set("children", strconv.Itoa(query.Children))
	if query.MinStars > 0 {
		params.Set("hotel_class", strconv.Itoa(query.MinStars))
	}
	params.Set("api_key", s.config.APIKey)

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return backoff.Retry(ctx, func() (*hotelSearchResponse, error) {
			return s.fetch(ctx, params)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(uint(s.config.MaxRetries)))
	})
	if err != nil {
		wrapped := models.WrapExternalError("hotel search", err)
		s.logger.LogService("hotel_search", "search", time.Since(startTime), map[string]interface{}{
			"location": query.Location,
		}, wrapped)
		return nil, wrapped
	}

	resp := result.(*hotelSearchResponse)
	if resp.SearchMetadata.Status != "Success" {
		statusErr := models.NewExternalError(models.CodeServiceError,
			fmt.Sprintf("hotel search returned status %q", resp.SearchMetadata.Status)).
			WithMetadata("provider_error", resp.Error)
		s.logger.LogService("hotel_search", "search", time.Since(startTime), map[string]interface{}{
			"location": query.Location,
		}, statusErr)
		return nil, statusErr
	}

	options := normalizeProperties(resp.Properties)

	s.logger.LogService("hotel_search", "search", time.Since(startTime), map[string]interface{}{
		"location":   query.Location,
		"properties": len(resp.Properties),
		"selected":   len(options),
	}, nil)

	return options, nil
}

func (s *HotelService) fetch(ctx context.Context, params url.Values) (*hotelSearchResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build hotel search request: %w", err))
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hotel search request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hotel search returned HTTP %d", httpResp.StatusCode)
	}

	var resp hotelSearchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode hotel search response: %w", err)
	}

	return &resp, nil
}

// normalizeProperties keeps rated hotel-type properties only, preserving
// provider order, truncated to maxHotelOptions.
func normalizeProperties(properties []hotelProperty) []models.HotelOption {
	options := make([]models.HotelOption, 0, maxHotelOptions)

	for _, property := range properties {
		if property.Type != "hotel" || property.OverallRating <= 0 {
			continue
		}

		option := models.HotelOption{
			Name:          property.Name,
			RatePerNight:  models.ParsePrice(property.RatePerNight.Lowest),
			TotalRate:     models.ParsePrice(property.TotalRate.Lowest),
			HotelClass:    property.HotelClass,
			OverallRating: property.OverallRating,
		}
		if len(property.Images) > 0 {
			option.Thumbnail = property.Images[0].Thumbnail
		}

		options = append(options, option)
		if len(options) == maxHotelOptions {
			break
		}
	}

	return options
}
