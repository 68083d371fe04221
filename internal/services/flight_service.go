package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// FlightService queries the external flight search provider. The provider
// contract is asymmetric by design: outbound searches return candidates
// under "best_flights", while token-bearing return searches answer under
// "other_flights". Both shapes are normalized into models.FlightOption.
type FlightService struct {
	config     config.SearchConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger
}

// FlightQuery carries the derived parameters for one search call. Round
// trips always send both dates; the provider uses the return date to pair
// alternates with the chosen outbound leg.
type FlightQuery struct {
	DepartureID  string
	ArrivalID    string
	OutboundDate string
	ReturnDate   string
	Adults       int
	Children     int
	MaxPrice     float64
}

type flightSearchResponse struct {
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	BestFlights  []flightCandidate `json:"best_flights"`
	OtherFlights []flightCandidate `json:"other_flights"`
	Error        string            `json:"error"`
}

type flightCandidate struct {
	Flights        []flightLeg `json:"flights"`
	Price          float64     `json:"price"`
	DepartureToken string      `json:"departure_token"`
}

type flightLeg struct {
	FlightNumber     string        `json:"flight_number"`
	DepartureAirport airportMoment `json:"departure_airport"`
	ArrivalAirport   airportMoment `json:"arrival_airport"`
}

type airportMoment struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

func NewFlightService(cfg config.SearchConfig, log *logger.Logger) (*FlightService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("flight search API key required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "flight-search",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	service := &FlightService{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     log,
	}

	log.Info("Flight service initialized",
		"base_url", cfg.BaseURL,
		"currency", cfg.Currency,
		"max_retries", cfg.MaxRetries)

	return service, nil
}

// SearchOutbound queries the provider for outbound candidates. A success
// status with no "best_flights" key is a legitimate empty result and yields
// an empty list; a non-success status is a SERVICE_ERROR.
func (s *FlightService) SearchOutbound(ctx context.Context, query FlightQuery) ([]models.FlightOption, error) {
	startTime := time.Now()

	params := s.baseParams(query)
	if query.MaxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(query.MaxPrice, 'f', -1, 64))
	}

	resp, err := s.doSearch(ctx, params)
	if err != nil {
		s.logger.LogService("flight_search", "search_outbound", time.Since(startTime), map[string]interface{}{
			"departure_id": query.DepartureID,
			"arrival_id":   query.ArrivalID,
		}, err)
		return nil, err
	}

	options := normalizeCandidates(resp.BestFlights, true)

	s.logger.LogService("flight_search", "search_outbound", time.Since(startTime), map[string]interface{}{
		"departure_id": query.DepartureID,
		"arrival_id":   query.ArrivalID,
		"candidates":   len(options),
	}, nil)

	return options, nil
}

// SearchReturn repeats the search with the outbound candidate's departure
// token attached and reads the "other_flights" result set. A token the
// provider has no alternates for yields an empty list, not an error.
func (s *FlightService) SearchReturn(ctx context.Context, query FlightQuery, departureToken string) ([]models.FlightOption, error) {
	startTime := time.Now()

	if departureToken == "" {
		return nil, models.NewValidationError(models.CodeInvalidSearchQuery, "departure token required for return search")
	}

	params := s.baseParams(query)
	params.Set("departure_token", departureToken)

	resp, err := s.doSearch(ctx, params)
	if err != nil {
		s.logger.LogService("flight_search", "search_return", time.Since(startTime), map[string]interface{}{
			"departure_id": query.DepartureID,
			"arrival_id":   query.ArrivalID,
		}, err)
		return nil, err
	}

	options := normalizeCandidates(resp.OtherFlights, false)

	s.logger.LogService("flight_search", "search_return", time.Since(startTime), map[string]interface{}{
		"departure_id": query.DepartureID,
		"arrival_id":   query.ArrivalID,
		"candidates":   len(options),
	}, nil)

	return options, nil
}

func (s *FlightService) baseParams(query FlightQuery) url.Values {
	params := url.Values{}
	params.Set("engine", "google_flights")
	params.Set("type", "1")
	params.Set("gl", s.config.CountryCode)
	params.Set("hl", s.config.Locale)
	params.Set("currency", s.config.Currency)
	params.Set("departure_id", query.DepartureID)
	params.Set("arrival_id", query.ArrivalID)
	params.Set("outbound_date", query.OutboundDate)
	params.Set("return_date", query.ReturnDate)
	params.Set("adults", strconv.Itoa(query.Adults))
	params.Set("children", strconv.Itoa(query.Children))
	params.Set("api_key", s.config.APIKey)
	return params
}

func (s *FlightService) doSearch(ctx context.Context, params url.Values) (*flightSearchResponse, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return backoff.Retry(ctx, func() (*flightSearchResponse, error) {
			return s.fetch(ctx, params)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(uint(s.config.MaxRetries)))
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, models.WrapExternalError("flight search", err)
	}

	resp := result.(*flightSearchResponse)
	if resp.SearchMetadata.Status != "Success" {
		return nil, models.NewExternalError(models.CodeServiceError,
			fmt.Sprintf("flight search returned status %q", resp.SearchMetadata.Status)).
			WithMetadata("provider_error", resp.Error)
	}

	return resp, nil
}

func (s *FlightService) fetch(ctx context.Context, params url.Values) (*flightSearchResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build flight search request: %w", err))
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flight search request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flight search returned HTTP %d", httpResp.StatusCode)
	}

	var resp flightSearchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode flight search response: %w", err)
	}

	return &resp, nil
}

// normalizeCandidates flattens provider candidates into FlightOptions. Only
// the first leg's departure and the last leg's arrival are surfaced; the
// continuation token lives on the candidate, not the leg. Candidates with
// no legs are skipped rather than indexed into.
func normalizeCandidates(candidates []flightCandidate, withToken bool) []models.FlightOption {
	options := make([]models.FlightOption, 0, len(candidates))

	for _, candidate := range candidates {
		if len(candidate.Flights) == 0 {
			continue
		}

		first := candidate.Flights[0]
		last := candidate.Flights[len(candidate.Flights)-1]

		departureDate, departureTime := splitProviderTime(first.DepartureAirport.Time)
		arrivalDate, arrivalTime := splitProviderTime(last.ArrivalAirport.Time)

		option := models.FlightOption{
			FlightNumber:     first.FlightNumber,
			Price:            candidate.Price,
			DepartureAirport: first.DepartureAirport.Name,
			DepartureDate:    departureDate,
			DepartureTime:    departureTime,
			ArrivalAirport:   last.ArrivalAirport.Name,
			ArrivalDate:      arrivalDate,
			ArrivalTime:      arrivalTime,
		}

		if withToken {
			option.DepartureToken = candidate.DepartureToken
		}

		options = append(options, option)
	}

	return options
}

// splitProviderTime splits the provider's "2024-12-14 09:30" format into
// date and clock parts.
func splitProviderTime(raw string) (string, string) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return strings.TrimSpace(raw), ""
	}
	return fields[0], fields[1]
}
