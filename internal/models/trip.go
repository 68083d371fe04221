package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// TripRequest holds the per-session trip parameters. It is owned by the
// orchestrator and threaded explicitly through every stage; no stage relies
// on server-side session state.
type TripRequest struct {
	StartDate     string   `json:"start_date" binding:"required"`
	EndDate       string   `json:"end_date" binding:"required"`
	DepartureCity string   `json:"departure_city" binding:"required"`
	ArrivalCity   string   `json:"arrival_city" binding:"required"`
	Adults        int      `json:"adults" binding:"required,min=1"`
	Children      int      `json:"children"`
	MinHotelClass int      `json:"min_hotel_class"`
	BudgetTier    string   `json:"budget_tier"`
	Keywords      []string `json:"keywords"`
	FlightNeeded  bool     `json:"flight_needed"`
	CarNeeded     bool     `json:"car_needed"`
}

func (r *TripRequest) Validate() error {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return NewValidationError(CodeInvalidTripRequest, fmt.Sprintf("invalid start_date %q, want YYYY-MM-DD", r.StartDate))
	}

	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return NewValidationError(CodeInvalidTripRequest, fmt.Sprintf("invalid end_date %q, want YYYY-MM-DD", r.EndDate))
	}

	if end.Before(start) {
		return NewValidationError(CodeInvalidTripRequest, "start_date must not be after end_date")
	}

	if r.Adults < 1 {
		return NewValidationError(CodeInvalidTripRequest, "at least one adult traveler is required")
	}

	return nil
}

// MissingFields lists the trip parameters that itinerary generation cannot
// proceed without.
func (r *TripRequest) MissingFields() []string {
	var missing []string

	if r.StartDate == "" {
		missing = append(missing, "start_date")
	}
	if r.EndDate == "" {
		missing = append(missing, "end_date")
	}
	if r.DepartureCity == "" {
		missing = append(missing, "departure_city")
	}
	if r.ArrivalCity == "" {
		missing = append(missing, "arrival_city")
	}
	if r.Adults < 1 {
		missing = append(missing, "adults")
	}

	return missing
}

// FlightOption is one normalized flight candidate. Multi-leg candidates are
// surfaced as first-leg departure and last-leg arrival. The departure token
// is set on outbound candidates only; it is the provider's continuation
// token for fetching the matching return flights.
type FlightOption struct {
	FlightNumber     string  `json:"flight_number"`
	Price            float64 `json:"price"`
	DepartureAirport string  `json:"departure_airport"`
	DepartureDate    string  `json:"departure_date"`
	DepartureTime    string  `json:"departure_time"`
	ArrivalAirport   string  `json:"arrival_airport"`
	ArrivalDate      string  `json:"arrival_date"`
	ArrivalTime      string  `json:"arrival_time"`
	DepartureToken   string  `json:"departure_token,omitempty"`
}

// HotelOption is one candidate lodging, already filtered to rated hotels.
type HotelOption struct {
	Name          string  `json:"name"`
	RatePerNight  float64 `json:"rate_per_night"`
	TotalRate     float64 `json:"total_rate"`
	HotelClass    string  `json:"hotel_class"`
	OverallRating float64 `json:"overall_rating"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
}

type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

type StageStatus string

const (
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusSkipped    StageStatus = "skipped"
	StageStatusFailed     StageStatus = "failed"
)

// Workflow stage names, in execution order.
const (
	StageResolve             = "resolve"
	StageOutboundSearch      = "outbound_search"
	StageReturnSearch        = "return_search"
	StageHotelSearch         = "hotel_search"
	StageItineraryGeneration = "itinerary_generation"
	StageDocumentRender      = "document_render"
)

type PlanTripRequest struct {
	WorkflowID string      `json:"workflow_id"`
	Trip       TripRequest `json:"trip" binding:"required"`
}

type TripWorkflowResponse struct {
	WorkflowID  string    `json:"workflow_id"`
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	DocumentKey string    `json:"document_key,omitempty"`
	Diagnostic  bool      `json:"diagnostic,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TotalTimeMs *float64  `json:"total_time_ms,omitempty"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StageUpdate is published after every stage transition so callers can track
// workflow progress.
type StageUpdate struct {
	WorkflowID string         `json:"workflow_id"`
	RequestID  string         `json:"request_id"`
	Stage      string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	Message    string         `json:"message"`
	Progress   float64        `json:"progress"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Retryable  bool           `json:"retryable"`
}

type StageStats struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

type ProcessingStats struct {
	TotalDuration time.Duration         `json:"total_duration"`
	StageStats    map[string]StageStats `json:"stage_stats"`
	APICallsCount int                   `json:"api_calls_count,omitempty"`
}

// TripWorkflowContext carries the full state of one trip-planning pass. All
// state a later stage needs travels in here, never in hidden globals.
type TripWorkflowContext struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Status    WorkflowStatus `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`

	Request       TripRequest `json:"request"`
	DepartureCode string      `json:"departure_code,omitempty"`
	ArrivalCode   string      `json:"arrival_code,omitempty"`

	OutboundFlights []FlightOption `json:"outbound_flights,omitempty"`
	SelectedFlight  *FlightOption  `json:"selected_flight,omitempty"`
	ReturnFlight    *FlightOption  `json:"return_flight,omitempty"`
	Hotels          []HotelOption  `json:"hotels,omitempty"`
	SelectedHotel   *HotelOption   `json:"selected_hotel,omitempty"`

	Itinerary   *ItineraryDocument `json:"itinerary,omitempty"`
	Diagnostic  bool               `json:"diagnostic,omitempty"`
	DocumentKey string             `json:"document_key,omitempty"`

	Warnings        []string        `json:"warnings,omitempty"`
	ProcessingStats ProcessingStats `json:"processing_stats,omitempty"`
}

func NewTripWorkflowContext(req *PlanTripRequest, requestID string) *TripWorkflowContext {
	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}

	return &TripWorkflowContext{
		ID:        workflowID,
		RequestID: requestID,
		Status:    WorkflowStatusPending,
		StartTime: time.Now(),
		Request:   req.Trip,
		ProcessingStats: ProcessingStats{
			StageStats: make(map[string]StageStats),
		},
	}
}

// Clone deep-copies the context. Callers that hand workflow state to another
// goroutine must hand out a clone, never the live struct the executor is
// still writing.
func (wc *TripWorkflowContext) Clone() *TripWorkflowContext {
	clone := *wc

	if wc.EndTime != nil {
		endTime := *wc.EndTime
		clone.EndTime = &endTime
	}

	clone.Request.Keywords = append([]string(nil), wc.Request.Keywords...)
	clone.OutboundFlights = append([]FlightOption(nil), wc.OutboundFlights...)
	clone.Hotels = append([]HotelOption(nil), wc.Hotels...)
	clone.Warnings = append([]string(nil), wc.Warnings...)

	if wc.SelectedFlight != nil {
		flight := *wc.SelectedFlight
		clone.SelectedFlight = &flight
	}
	if wc.ReturnFlight != nil {
		flight := *wc.ReturnFlight
		clone.ReturnFlight = &flight
	}
	if wc.SelectedHotel != nil {
		hotel := *wc.SelectedHotel
		clone.SelectedHotel = &hotel
	}

	if wc.Itinerary != nil {
		doc := *wc.Itinerary
		doc.Content = append([]ItineraryEntry(nil), wc.Itinerary.Content...)
		if wc.Itinerary.Header.CarRental != nil {
			rental := *wc.Itinerary.Header.CarRental
			doc.Header.CarRental = &rental
		}
		clone.Itinerary = &doc
	}

	if wc.ProcessingStats.StageStats != nil {
		stats := make(map[string]StageStats, len(wc.ProcessingStats.StageStats))
		for stage, stat := range wc.ProcessingStats.StageStats {
			stats[stage] = stat
		}
		clone.ProcessingStats.StageStats = stats
	}

	return &clone
}

func NewTripWorkflowResponse(workflowID, requestID, status, message string) *TripWorkflowResponse {
	return &TripWorkflowResponse{
		WorkflowID: workflowID,
		RequestID:  requestID,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

func (wc *TripWorkflowContext) MarkCompleted() {
	wc.Status = WorkflowStatusCompleted
	now := time.Now()
	wc.EndTime = &now
	wc.ProcessingStats.TotalDuration = time.Since(wc.StartTime)
}

func (wc *TripWorkflowContext) MarkFailed() {
	wc.Status = WorkflowStatusFailed
	now := time.Now()
	wc.EndTime = &now
	wc.ProcessingStats.TotalDuration = time.Since(wc.StartTime)
}

func (wc *TripWorkflowContext) UpdateStageStats(stage string, stats StageStats) {
	if wc.ProcessingStats.StageStats == nil {
		wc.ProcessingStats.StageStats = make(map[string]StageStats)
	}
	wc.ProcessingStats.StageStats[stage] = stats
}

func (wc *TripWorkflowContext) AddWarning(warning string) {
	wc.Warnings = append(wc.Warnings, warning)
}

func (wc *TripWorkflowContext) IsCompleted() bool {
	return wc.Status == WorkflowStatusCompleted
}

func (wc *TripWorkflowContext) IsFailed() bool {
	return wc.Status == WorkflowStatusFailed
}

func GenerateRequestID() string {
	return uuid.New().String()
}

func GenerateWorkflowID() string {
	return uuid.New().String()
}
