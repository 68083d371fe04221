package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
)

type fakeFlights struct {
	outbound       []models.FlightOption
	outboundErr    error
	returnsByToken map[string][]models.FlightOption
	returnErr      error

	outboundCalls int
	returnCalls   int
	probedTokens  []string
}

func (f *fakeFlights) SearchOutbound(ctx context.Context, query FlightQuery) ([]models.FlightOption, error) {
	f.outboundCalls++
	return f.outbound, f.outboundErr
}

func (f *fakeFlights) SearchReturn(ctx context.Context, query FlightQuery, token string) ([]models.FlightOption, error) {
	f.returnCalls++
	f.probedTokens = append(f.probedTokens, token)
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	return f.returnsByToken[token], nil
}

type fakeHotels struct {
	options []models.HotelOption
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeHotels) Search(ctx context.Context, query HotelQuery) ([]models.HotelOption, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.options, f.err
}

type fakeItinerary struct {
	doc   *models.ItineraryDocument
	err   error
	calls int
}

func (f *fakeItinerary) Generate(ctx context.Context, wc *models.TripWorkflowContext) (*models.ItineraryDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fakeRenderer struct {
	renderCalls     int
	diagnosticCalls int
	lastTrip        models.TripRequest
	lastReason      string
	lastDetails     []string
}

func (f *fakeRenderer) Render(doc *models.ItineraryDocument, trip models.TripRequest, mode RenderMode) (*models.RenderedDocument, error) {
	f.renderCalls++
	f.lastTrip = trip
	return &models.RenderedDocument{Payload: []byte("%PDF-test"), Filename: "itinerary.pdf", ContentType: "application/pdf"}, nil
}

func (f *fakeRenderer) RenderDiagnostic(wc *models.TripWorkflowContext, reason string, details []string, mode RenderMode) (*models.RenderedDocument, error) {
	f.diagnosticCalls++
	f.lastReason = reason
	f.lastDetails = details
	return &models.RenderedDocument{Payload: []byte("%PDF-diagnostic"), Filename: "itinerary.pdf", ContentType: "application/pdf"}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	states    map[string]*models.TripWorkflowContext
	documents map[string]*models.RenderedDocument
	updates   []*models.StageUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:    make(map[string]*models.TripWorkflowContext),
		documents: make(map[string]*models.RenderedDocument),
	}
}

func (f *fakeStore) PublishStageUpdate(ctx context.Context, update *models.StageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeStore) StoreWorkflowState(ctx context.Context, wc *models.TripWorkflowContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[wc.ID] = wc
	return nil
}

func (f *fakeStore) GetWorkflowState(ctx context.Context, workflowID string) (*models.TripWorkflowContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wc, ok := f.states[workflowID]; ok {
		return wc, nil
	}
	return nil, models.ErrWorkflowNotFound
}

func (f *fakeStore) StoreDocument(ctx context.Context, workflowID string, doc *models.RenderedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[workflowID] = doc
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, workflowID string) (*models.RenderedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.documents[workflowID]; ok {
		return doc, nil
	}
	return nil, models.ErrDocumentNotFound
}

func (f *fakeStore) stageStatus(stage string) models.StageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var status models.StageStatus
	for _, update := range f.updates {
		if update.Stage == stage {
			status = update.Status
		}
	}
	return status
}

func outboundCandidates() []models.FlightOption {
	return []models.FlightOption{
		{FlightNumber: "DL 1234", Price: 284, DepartureToken: "tok-1"},
		{FlightNumber: "AA 88", Price: 312, DepartureToken: "tok-2"},
		{FlightNumber: "UA 9", Price: 330, DepartureToken: "tok-3"},
	}
}

func sampleItinerary() *models.ItineraryDocument {
	return &models.ItineraryDocument{
		Header: models.ItineraryHeader{DepartureCity: "Boston", ArrivalCity: "New York"},
		Content: []models.ItineraryEntry{
			{Place: "Museum", TimeStamp: "2025-12-10T13:00", Price: "30"},
		},
	}
}

type orchestratorDeps struct {
	flights   *fakeFlights
	hotels    *fakeHotels
	itinerary *fakeItinerary
	renderer  *fakeRenderer
	store     *fakeStore
}

func newTestOrchestrator(t *testing.T, deps *orchestratorDeps) *Orchestrator {
	t.Helper()

	return NewOrchestrator(
		NewAirportResolver(newTestLogger(t)),
		deps.flights,
		deps.hotels,
		deps.itinerary,
		deps.renderer,
		deps.store,
		config.Config{},
		newTestLogger(t),
	)
}

func defaultDeps() *orchestratorDeps {
	return &orchestratorDeps{
		flights: &fakeFlights{
			outbound: outboundCandidates(),
			returnsByToken: map[string][]models.FlightOption{
				"tok-1": {{FlightNumber: "DL 4321", Price: 251}},
			},
		},
		hotels: &fakeHotels{
			options: []models.HotelOption{
				{Name: "The Grand Plaza", RatePerNight: 189, OverallRating: 4.5},
				{Name: "Harborside Suites", RatePerNight: 310, OverallRating: 4.7},
			},
		},
		itinerary: &fakeItinerary{doc: sampleItinerary()},
		renderer:  &fakeRenderer{},
		store:     newFakeStore(),
	}
}

func planRequest() *models.PlanTripRequest {
	return &models.PlanTripRequest{
		Trip: models.TripRequest{
			StartDate:     "2025-12-10",
			EndDate:       "2025-12-14",
			DepartureCity: "Boston",
			ArrivalCity:   "New York",
			Adults:        2,
			FlightNeeded:  true,
		},
	}
}

func TestExecuteTripFullFlow(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	response, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err != nil {
		t.Fatalf("ExecuteTrip failed: %v", err)
	}

	if response.Status != "completed" {
		t.Errorf("expected completed status, got %s", response.Status)
	}
	if response.Diagnostic {
		t.Error("unexpected diagnostic flag")
	}
	if response.DocumentKey == "" {
		t.Error("expected document key")
	}

	wc := deps.store.states[response.WorkflowID]
	if wc == nil {
		t.Fatal("workflow state not stored")
	}
	if wc.DepartureCode != "BOS" || wc.ArrivalCode != "JFK" {
		t.Errorf("cities not resolved: %s/%s", wc.DepartureCode, wc.ArrivalCode)
	}
	if wc.SelectedFlight == nil || wc.SelectedFlight.FlightNumber != "DL 1234" {
		t.Errorf("unexpected selected flight: %+v", wc.SelectedFlight)
	}
	if wc.ReturnFlight == nil || wc.ReturnFlight.FlightNumber != "DL 4321" {
		t.Errorf("unexpected return flight: %+v", wc.ReturnFlight)
	}
	if wc.SelectedHotel == nil || wc.SelectedHotel.Name != "The Grand Plaza" {
		t.Errorf("unexpected selected hotel: %+v", wc.SelectedHotel)
	}

	// the first candidate's token answered, so only one probe
	if deps.flights.returnCalls != 1 {
		t.Errorf("expected 1 return probe, got %d", deps.flights.returnCalls)
	}
	if deps.renderer.renderCalls != 1 || deps.renderer.diagnosticCalls != 0 {
		t.Errorf("unexpected renderer usage: %d/%d", deps.renderer.renderCalls, deps.renderer.diagnosticCalls)
	}
	if deps.renderer.lastTrip.Adults != 2 || deps.renderer.lastTrip.DepartureCity != "Boston" {
		t.Errorf("trip request not passed to renderer: %+v", deps.renderer.lastTrip)
	}

	if _, ok := deps.store.documents[response.WorkflowID]; !ok {
		t.Error("rendered document not stored")
	}
}

func TestExecuteTripProbesCandidatesInOrder(t *testing.T) {
	deps := defaultDeps()
	deps.flights.returnsByToken = map[string][]models.FlightOption{
		"tok-2": {{FlightNumber: "AA 101", Price: 290}},
	}
	orchestrator := newTestOrchestrator(t, deps)

	response, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err != nil {
		t.Fatalf("ExecuteTrip failed: %v", err)
	}

	wc := deps.store.states[response.WorkflowID]
	if wc.SelectedFlight.FlightNumber != "AA 88" {
		t.Errorf("expected second candidate to be selected, got %s", wc.SelectedFlight.FlightNumber)
	}
	if len(deps.flights.probedTokens) != 2 || deps.flights.probedTokens[0] != "tok-1" || deps.flights.probedTokens[1] != "tok-2" {
		t.Errorf("unexpected probe order: %v", deps.flights.probedTokens)
	}
}

func TestExecuteTripNoReturnFlights(t *testing.T) {
	deps := defaultDeps()
	deps.flights.returnsByToken = map[string][]models.FlightOption{}
	orchestrator := newTestOrchestrator(t, deps)

	_, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err == nil {
		t.Fatal("expected error when no return flights exist")
	}
	if !models.HasCode(err, models.CodeEmptyResultSet) {
		t.Errorf("expected %s, got %v", models.CodeEmptyResultSet, err)
	}

	// every token probed, bounded by maxReturnProbes
	if deps.flights.returnCalls != 3 {
		t.Errorf("expected 3 probes, got %d", deps.flights.returnCalls)
	}
}

func TestExecuteTripNoOutboundFlights(t *testing.T) {
	deps := defaultDeps()
	deps.flights.outbound = nil
	orchestrator := newTestOrchestrator(t, deps)

	_, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if !models.HasCode(err, models.CodeEmptyResultSet) {
		t.Errorf("expected %s, got %v", models.CodeEmptyResultSet, err)
	}
}

func TestExecuteTripUnknownCity(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	req := planRequest()
	req.Trip.ArrivalCity = "Atlantis"

	_, err := orchestrator.ExecuteTrip(context.Background(), req)
	if !models.HasCode(err, models.CodeCityNotFound) {
		t.Errorf("expected %s, got %v", models.CodeCityNotFound, err)
	}

	if deps.flights.outboundCalls != 0 {
		t.Error("flight search must not run after resolution failure")
	}
}

func TestExecuteTripWithoutFlights(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	req := planRequest()
	req.Trip.FlightNeeded = false

	response, err := orchestrator.ExecuteTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecuteTrip failed: %v", err)
	}
	if response.Status != "completed" {
		t.Errorf("expected completed status, got %s", response.Status)
	}

	if deps.flights.outboundCalls != 0 || deps.flights.returnCalls != 0 {
		t.Error("flight searches must be skipped for ground trips")
	}

	if status := deps.store.stageStatus(models.StageOutboundSearch); status != models.StageStatusSkipped {
		t.Errorf("expected skipped outbound stage, got %s", status)
	}
	if status := deps.store.stageStatus(models.StageHotelSearch); status != models.StageStatusCompleted {
		t.Errorf("expected completed hotel stage, got %s", status)
	}
}

func TestExecuteTripDegradesToDiagnosticOnParseError(t *testing.T) {
	deps := defaultDeps()
	deps.itinerary.err = models.NewInternalError(models.CodeGenerationParseError, "itinerary response is not valid JSON")
	orchestrator := newTestOrchestrator(t, deps)

	response, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err != nil {
		t.Fatalf("parse errors must not fail the workflow: %v", err)
	}

	if !response.Diagnostic {
		t.Error("expected diagnostic response")
	}
	if deps.renderer.diagnosticCalls != 1 || deps.renderer.renderCalls != 0 {
		t.Errorf("expected diagnostic render only, got %d/%d", deps.renderer.renderCalls, deps.renderer.diagnosticCalls)
	}
	if _, ok := deps.store.documents[response.WorkflowID]; !ok {
		t.Error("diagnostic document not stored")
	}
}

func TestExecuteTripDegradesToDiagnosticOnMissingFields(t *testing.T) {
	deps := defaultDeps()
	deps.itinerary.err = &models.MissingFieldsError{Fields: []string{"start_date"}}
	orchestrator := newTestOrchestrator(t, deps)

	req := planRequest()
	req.Trip.FlightNeeded = false

	response, err := orchestrator.ExecuteTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("missing fields must not fail the workflow: %v", err)
	}

	if !response.Diagnostic {
		t.Error("expected diagnostic response")
	}
	if len(deps.renderer.lastDetails) != 1 || deps.renderer.lastDetails[0] != "start_date" {
		t.Errorf("missing fields not passed to diagnostic renderer: %v", deps.renderer.lastDetails)
	}
}

func TestExecuteTripHotelFailurePropagates(t *testing.T) {
	deps := defaultDeps()
	deps.hotels.err = models.NewExternalError(models.CodeServiceError, "hotel provider down")
	orchestrator := newTestOrchestrator(t, deps)

	_, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if !models.HasCode(err, models.CodeServiceError) {
		t.Errorf("expected %s, got %v", models.CodeServiceError, err)
	}
}

func TestExecuteTripNoHotelsAddsWarning(t *testing.T) {
	deps := defaultDeps()
	deps.hotels.options = nil
	orchestrator := newTestOrchestrator(t, deps)

	response, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err != nil {
		t.Fatalf("ExecuteTrip failed: %v", err)
	}

	wc := deps.store.states[response.WorkflowID]
	if wc.SelectedHotel != nil {
		t.Error("no hotel should be selected")
	}
	if len(wc.Warnings) == 0 {
		t.Error("expected a warning about missing hotels")
	}
}

func TestExecuteTripRejectsInvalidRequest(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	req := planRequest()
	req.Trip.EndDate = "2025-12-01"

	_, err := orchestrator.ExecuteTrip(context.Background(), req)
	if !models.HasCode(err, models.CodeInvalidTripRequest) {
		t.Errorf("expected %s, got %v", models.CodeInvalidTripRequest, err)
	}
}

func TestGetWorkflowStatusFallsBackToStore(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	response, err := orchestrator.ExecuteTrip(context.Background(), planRequest())
	if err != nil {
		t.Fatalf("ExecuteTrip failed: %v", err)
	}

	wc, err := orchestrator.GetWorkflowStatus(response.WorkflowID)
	if err != nil {
		t.Fatalf("GetWorkflowStatus failed: %v", err)
	}
	if wc.ID != response.WorkflowID {
		t.Errorf("unexpected workflow: %s", wc.ID)
	}

	if _, err := orchestrator.GetWorkflowStatus("missing"); !models.HasCode(err, models.CodeWorkflowNotFound) {
		t.Errorf("expected %s, got %v", models.CodeWorkflowNotFound, err)
	}
}

func TestGetWorkflowStatusDuringExecution(t *testing.T) {
	deps := defaultDeps()
	deps.hotels.delay = 50 * time.Millisecond
	orchestrator := newTestOrchestrator(t, deps)

	req := planRequest()
	req.WorkflowID = "wf-live"

	done := make(chan error, 1)
	go func() {
		_, err := orchestrator.ExecuteTrip(context.Background(), req)
		done <- err
	}()

	// Poll the live workflow while the executor is still writing it; every
	// returned context must be an independent snapshot that marshals cleanly.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("ExecuteTrip failed: %v", err)
			}
			return
		case <-deadline:
			t.Fatal("workflow did not finish")
		default:
		}

		wc, err := orchestrator.GetWorkflowStatus("wf-live")
		if err != nil {
			if models.HasCode(err, models.CodeWorkflowNotFound) {
				continue
			}
			t.Fatalf("GetWorkflowStatus failed: %v", err)
		}
		if _, err := json.Marshal(wc); err != nil {
			t.Fatalf("workflow snapshot not marshalable: %v", err)
		}
	}
}

func TestCancelWorkflowNotFound(t *testing.T) {
	deps := defaultDeps()
	orchestrator := newTestOrchestrator(t, deps)

	if err := orchestrator.CancelWorkflow("missing"); !models.HasCode(err, models.CodeWorkflowNotFound) {
		t.Errorf("expected %s, got %v", models.CodeWorkflowNotFound, err)
	}
}

func TestCalculateStageProgress(t *testing.T) {
	if got := calculateStageProgress(true, models.StageDocumentRender, models.StageStatusCompleted); got != 1.0 {
		t.Errorf("final flight stage completed = %v, want 1.0", got)
	}
	if got := calculateStageProgress(false, models.StageDocumentRender, models.StageStatusCompleted); got != 1.0 {
		t.Errorf("final ground stage completed = %v, want 1.0", got)
	}
	if got := calculateStageProgress(true, "unknown", models.StageStatusCompleted); got != 0.0 {
		t.Errorf("unknown stage = %v, want 0.0", got)
	}

	processing := calculateStageProgress(true, models.StageResolve, models.StageStatusProcessing)
	if processing <= 0 || processing >= calculateStageProgress(true, models.StageResolve, models.StageStatusCompleted) {
		t.Errorf("processing progress out of range: %v", processing)
	}
}
