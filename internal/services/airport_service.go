package services

import (
	"fmt"
	"sort"
	"strings"

	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// The workflow supports a fixed allow-list of cities; anything else must be
// rejected before a flight query is built.
var cityCodes = map[string]string{
	"boston":        "BOS",
	"new york":      "JFK",
	"austin":        "AUS",
	"san francisco": "SFO",
	"dallas":        "DFW",
	"chicago":       "ORD",
	"houston":       "IAH",
}

type AirportResolver struct {
	logger *logger.Logger
}

func NewAirportResolver(log *logger.Logger) *AirportResolver {
	return &AirportResolver{logger: log}
}

// Resolve maps a city name to its airport code. Matching is
// case-insensitive and whitespace-tolerant; unknown cities return a
// CITY_NOT_FOUND error rather than an empty code.
func (r *AirportResolver) Resolve(city string) (string, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(city), " "))

	code, ok := cityCodes[normalized]
	if !ok {
		r.logger.Warn("city not in supported list", "city", city)
		return "", models.NewValidationError(models.CodeCityNotFound,
			fmt.Sprintf("city %q is not supported", city)).WithMetadata("city", city)
	}

	return code, nil
}

// CityForCode is the inverse mapping, used for display and for round-trip
// checks.
func (r *AirportResolver) CityForCode(code string) (string, bool) {
	for city, c := range cityCodes {
		if c == code {
			return city, true
		}
	}
	return "", false
}

func (r *AirportResolver) SupportedCities() []string {
	cities := make([]string, 0, len(cityCodes))
	for city := range cityCodes {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}
