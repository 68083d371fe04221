package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// ContentGenerator is the slice of GeminiService the itinerary builder
// needs. Narrowing it to one method keeps generation testable without a
// live API client.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, request *GenerationRequest) (*GenerationResponse, error)
}

// ItineraryService turns the assembled trip state into a structured
// itinerary document via the text-generation service.
type ItineraryService struct {
	generator ContentGenerator
	logger    *logger.Logger
}

func NewItineraryService(generator ContentGenerator, log *logger.Logger) *ItineraryService {
	return &ItineraryService{
		generator: generator,
		logger:    log,
	}
}

// Generate builds the itinerary for the workflow. Incomplete trip requests
// fail before any generation call is made; a response that cannot be parsed
// into the document schema is a GENERATION_PARSE_ERROR.
func (s *ItineraryService) Generate(ctx context.Context, wc *models.TripWorkflowContext) (*models.ItineraryDocument, error) {
	startTime := time.Now()

	if missing := wc.Request.MissingFields(); len(missing) > 0 {
		return nil, &models.MissingFieldsError{Fields: missing}
	}

	prompt := buildItineraryPrompt(wc)

	var temperature float32 = 0.6
	resp, err := s.generator.GenerateContent(ctx, &GenerationRequest{
		Prompt:          prompt,
		Temperature:     &temperature,
		SystemRole:      "You are an expert travel planner producing structured itineraries.",
		DisableThinking: true,
		ResponseFormat:  "application/json",
	})
	if err != nil {
		s.logger.LogService("itinerary", "generate", time.Since(startTime), map[string]interface{}{
			"workflow_id": wc.ID,
		}, err)
		return nil, err
	}

	doc, err := parseItineraryResponse(resp.Content)
	if err != nil {
		s.logger.LogService("itinerary", "generate", time.Since(startTime), map[string]interface{}{
			"workflow_id":     wc.ID,
			"response_length": len(resp.Content),
		}, err)
		return nil, err
	}

	// The generator emits an empty car_rental_info object when no rental is
	// requested; drop it so the document renders without a rental block.
	if !wc.Request.CarNeeded || doc.Header.CarRental.IsZero() {
		doc.Header.CarRental = nil
	}

	s.logger.LogService("itinerary", "generate", time.Since(startTime), map[string]interface{}{
		"workflow_id": wc.ID,
		"entries":     len(doc.Content),
		"tokens_used": resp.TokensUsed,
	}, nil)

	return doc, nil
}

func buildItineraryPrompt(wc *models.TripWorkflowContext) string {
	req := wc.Request

	departingFlight := "not booked"
	returningFlight := "not booked"
	if wc.SelectedFlight != nil {
		departingFlight = fmt.Sprintf("%s, $%.2f, departs %s %s from %s",
			wc.SelectedFlight.FlightNumber, wc.SelectedFlight.Price,
			wc.SelectedFlight.DepartureDate, wc.SelectedFlight.DepartureTime,
			wc.SelectedFlight.DepartureAirport)
	}
	if wc.ReturnFlight != nil {
		returningFlight = fmt.Sprintf("%s, $%.2f, departs %s %s from %s",
			wc.ReturnFlight.FlightNumber, wc.ReturnFlight.Price,
			wc.ReturnFlight.DepartureDate, wc.ReturnFlight.DepartureTime,
			wc.ReturnFlight.DepartureAirport)
	}

	hotel := "no hotel selected"
	if wc.SelectedHotel != nil {
		hotel = fmt.Sprintf("%s (%s, rated %.1f), $%.2f per night",
			wc.SelectedHotel.Name, wc.SelectedHotel.HotelClass,
			wc.SelectedHotel.OverallRating, wc.SelectedHotel.RatePerNight)
	}

	budget := req.BudgetTier
	if budget == "" {
		budget = "Not specified"
	}

	return fmt.Sprintf(`Generate a detailed travel itinerary in JSON format. Ensure the itinerary includes all necessary details, including timestamps, addresses, travel durations, and costs. Use the following JSON structure:

{
    "header": {
        "departure_city": "",
        "arrival_city": "",
        "start_date": "",
        "end_date": "",
        "car_rental_info": {
            "company": "",
            "car_type": "",
            "pick_up_location": "",
            "pick_up_time": "",
            "return_location": "",
            "return_time": "",
            "total_price": ""
        }
    },
    "content": [
        {
            "place": "",
            "location": "",
            "time_stamp": "",
            "description": "",
            "price": ""
        }
    ]
}

Requirements:
1. Travel Dates: From %s to %s.
2. Departure City: %s.
3. Arrival City: %s.
4. Flight Details:
   - Required: %t.
   - Departure Flight: %s.
   - Return Flight: %s.
5. Car Rental:
   - Required: %t.
   - If a car rental is required, include details under "car_rental_info". If not, set "car_rental_info" as an empty object.
6. Budget Level: %s.
7. Travelers: %d adults, %d children.
8. Accommodation:
   - Hotel: %s (Include nightly rate in the total cost).
   - Add the hotel stay to the end of each day in the itinerary.
9. Preferences:
   - Keywords: %s (Use these to prioritize activities or destinations).
   - Include detailed descriptions for each activity or place to visit.
   - Provide timestamps and detailed costs for all activities and meals.
10. Additional Considerations:
    - Account for travel time to/from the airport.
    - Ensure the itinerary starts and ends with flights only if flights are required.
    - Include all meals every day.
    - Add necessary transportation for each activity.

Formatting Rules:
- Use clear timestamps (e.g., "2024-12-03T09:00").
- Include all numbers for prices.
- Avoid using the character ’ for apostrophes.
- Use a dictionary for the "content" array.`,
		req.StartDate, req.EndDate,
		req.DepartureCity, req.ArrivalCity,
		req.FlightNeeded, departingFlight, returningFlight,
		req.CarNeeded,
		budget,
		req.Adults, req.Children,
		hotel,
		strings.Join(req.Keywords, ", "))
}

// parseItineraryResponse strips optional markdown fences and decodes the
// document. Documents with no content entries are rejected the same way as
// malformed JSON; downstream rendering needs at least one entry.
func parseItineraryResponse(response string) (*models.ItineraryDocument, error) {
	cleaned := strings.TrimSpace(response)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	if cleaned == "" {
		return nil, models.NewInternalError(models.CodeGenerationParseError, "generation service returned an empty response")
	}

	var doc models.ItineraryDocument
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, models.NewInternalError(models.CodeGenerationParseError, "itinerary response is not valid JSON").WithCause(err)
	}

	if len(doc.Content) == 0 {
		return nil, models.NewInternalError(models.CodeGenerationParseError, "itinerary response has no content entries")
	}

	return &doc, nil
}
