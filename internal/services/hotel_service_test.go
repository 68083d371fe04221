package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
)

const hotelResponse = `{
	"search_metadata": {"status": "Success"},
	"properties": [
		{
			"type": "hotel",
			"name": "The Grand Plaza",
			"hotel_class": "4-star hotel",
			"overall_rating": 4.5,
			"rate_per_night": {"lowest": "$189"},
			"total_rate": {"lowest": "$756"},
			"images": [{"thumbnail": "https://img.example/grand.jpg"}]
		},
		{
			"type": "vacation rental",
			"name": "Downtown Loft",
			"overall_rating": 4.8,
			"rate_per_night": {"lowest": "$240"}
		},
		{
			"type": "hotel",
			"name": "Unrated Inn",
			"overall_rating": 0,
			"rate_per_night": {"lowest": "$80"}
		},
		{
			"type": "hotel",
			"name": "Harborside Suites",
			"hotel_class": "5-star hotel",
			"overall_rating": 4.7,
			"rate_per_night": {"lowest": "$310"},
			"total_rate": {"lowest": "$1,240"}
		},
		{
			"type": "hotel",
			"name": "City Center Hotel",
			"hotel_class": "3-star hotel",
			"overall_rating": 4.1,
			"rate_per_night": {"lowest": "$130"},
			"total_rate": {"lowest": "$520"}
		},
		{
			"type": "hotel",
			"name": "Airport Hotel",
			"hotel_class": "3-star hotel",
			"overall_rating": 3.9,
			"rate_per_night": {"lowest": "$110"},
			"total_rate": {"lowest": "$440"}
		},
		{
			"type": "hotel",
			"name": "One Too Many",
			"hotel_class": "3-star hotel",
			"overall_rating": 4.0,
			"rate_per_night": {"lowest": "$120"},
			"total_rate": {"lowest": "$480"}
		}
	]
}`

func newHotelService(t *testing.T, serverURL string) *HotelService {
	t.Helper()

	service, err := NewHotelService(config.SearchConfig{
		APIKey:      "test-key",
		BaseURL:     serverURL,
		Currency:    "USD",
		CountryCode: "us",
		Locale:      "en",
		Timeout:     5 * time.Second,
		MaxRetries:  1,
	}, newTestLogger(t))
	if err != nil {
		t.Fatalf("failed to create hotel service: %v", err)
	}

	return service
}

func testHotelQuery() HotelQuery {
	return HotelQuery{
		Location:     "New York",
		CheckInDate:  "2025-12-10",
		CheckOutDate: "2025-12-14",
		Adults:       2,
		MinStars:     4,
	}
}

func TestHotelSearch(t *testing.T) {
	var gotParams map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		gotParams = map[string]string{
			"engine":         query.Get("engine"),
			"q":              query.Get("q"),
			"check_in_date":  query.Get("check_in_date"),
			"check_out_date": query.Get("check_out_date"),
			"hotel_class":    query.Get("hotel_class"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(hotelResponse))
	}))
	defer server.Close()

	service := newHotelService(t, server.URL)

	options, err := service.Search(context.Background(), testHotelQuery())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotParams["engine"] != "google_hotels" || gotParams["q"] != "New York" {
		t.Errorf("unexpected provider params: %v", gotParams)
	}
	if gotParams["hotel_class"] != "4" {
		t.Errorf("star-class hint not forwarded: %q", gotParams["hotel_class"])
	}

	// vacation rental and unrated properties are filtered, list capped at 4
	if len(options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(options))
	}

	first := options[0]
	if first.Name != "The Grand Plaza" {
		t.Errorf("provider order not preserved, first = %s", first.Name)
	}
	if first.RatePerNight != 189 || first.TotalRate != 756 {
		t.Errorf("rates not parsed: %+v", first)
	}
	if first.Thumbnail != "https://img.example/grand.jpg" {
		t.Errorf("thumbnail not captured: %q", first.Thumbnail)
	}

	for _, option := range options {
		if option.Name == "Downtown Loft" {
			t.Error("non-hotel property survived filtering")
		}
		if option.Name == "Unrated Inn" {
			t.Error("unrated property survived filtering")
		}
		if option.Name == "One Too Many" {
			t.Error("list not truncated at 4 options")
		}
	}
}

func TestHotelSearchProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"search_metadata": {"status": "Error"}, "error": "invalid location"}`))
	}))
	defer server.Close()

	service := newHotelService(t, server.URL)

	_, err := service.Search(context.Background(), testHotelQuery())
	if err == nil {
		t.Fatal("expected error for non-success status")
	}
	if !models.HasCode(err, models.CodeServiceError) {
		t.Errorf("expected %s, got %v", models.CodeServiceError, err)
	}
}

func TestHotelSearchHTTPError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	service := newHotelService(t, server.URL)

	_, err := service.Search(context.Background(), testHotelQuery())
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if attempts == 0 {
		t.Error("expected at least one attempt")
	}
}
