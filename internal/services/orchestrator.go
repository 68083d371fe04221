package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// maxReturnProbes bounds how many outbound candidates are tried when
// pairing a return flight. Probing every candidate would multiply provider
// calls with no practical gain.
const maxReturnProbes = 3

// CityResolver maps city names to airport codes.
type CityResolver interface {
	Resolve(city string) (string, error)
}

// FlightSearcher runs the two-phase flight search: outbound candidates
// first, then return candidates keyed by the outbound departure token.
type FlightSearcher interface {
	SearchOutbound(ctx context.Context, query FlightQuery) ([]models.FlightOption, error)
	SearchReturn(ctx context.Context, query FlightQuery, departureToken string) ([]models.FlightOption, error)
}

type HotelSearcher interface {
	Search(ctx context.Context, query HotelQuery) ([]models.HotelOption, error)
}

type ItineraryGenerator interface {
	Generate(ctx context.Context, wc *models.TripWorkflowContext) (*models.ItineraryDocument, error)
}

type DocumentRenderer interface {
	Render(doc *models.ItineraryDocument, trip models.TripRequest, mode RenderMode) (*models.RenderedDocument, error)
	RenderDiagnostic(wc *models.TripWorkflowContext, reason string, details []string, mode RenderMode) (*models.RenderedDocument, error)
}

// WorkflowStore persists workflow state, stage progress and rendered
// documents.
type WorkflowStore interface {
	PublishStageUpdate(ctx context.Context, update *models.StageUpdate) error
	StoreWorkflowState(ctx context.Context, wc *models.TripWorkflowContext) error
	GetWorkflowState(ctx context.Context, workflowID string) (*models.TripWorkflowContext, error)
	StoreDocument(ctx context.Context, workflowID string, doc *models.RenderedDocument) error
	GetDocument(ctx context.Context, workflowID string) (*models.RenderedDocument, error)
}

type Orchestrator struct {
	resolver  CityResolver
	flights   FlightSearcher
	hotels    HotelSearcher
	itinerary ItineraryGenerator
	renderer  DocumentRenderer
	store     WorkflowStore

	config config.Config
	logger *logger.Logger

	activeWorkflows sync.Map // workflow_id -> *workflowHandle

	startTime time.Time
}

// workflowHandle guards the live workflow context. The executor goroutine
// mutates the context while status queries and cancellation may arrive on
// other goroutines, so every write goes through update and every reader
// outside the executor gets a snapshot, never the live struct.
type workflowHandle struct {
	mu sync.Mutex
	wc *models.TripWorkflowContext
}

func (h *workflowHandle) update(fn func(wc *models.TripWorkflowContext)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.wc)
}

func (h *workflowHandle) snapshot() *models.TripWorkflowContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wc.Clone()
}

type tripExecutor struct {
	orchestrator *Orchestrator
	workflowCtx  *models.TripWorkflowContext
	handle       *workflowHandle
	logger       *logger.Logger

	// Set when generation fails in a way that degrades to a diagnostic
	// document instead of failing the workflow.
	diagnosticReason  string
	diagnosticDetails []string
}

// mutate applies one write to the workflow context under the handle lock.
func (executor *tripExecutor) mutate(fn func(wc *models.TripWorkflowContext)) {
	executor.handle.update(fn)
}

var (
	flightTripStages = []string{
		models.StageResolve,
		models.StageOutboundSearch,
		models.StageReturnSearch,
		models.StageHotelSearch,
		models.StageItineraryGeneration,
		models.StageDocumentRender,
	}

	groundTripStages = []string{
		models.StageHotelSearch,
		models.StageItineraryGeneration,
		models.StageDocumentRender,
	}
)

func NewOrchestrator(
	resolver CityResolver,
	flights FlightSearcher,
	hotels HotelSearcher,
	itinerary ItineraryGenerator,
	renderer DocumentRenderer,
	store WorkflowStore,
	cfg config.Config,
	log *logger.Logger) *Orchestrator {

	orchestrator := &Orchestrator{
		resolver:  resolver,
		flights:   flights,
		hotels:    hotels,
		itinerary: itinerary,
		renderer:  renderer,
		store:     store,
		config:    cfg,
		logger:    log,
		startTime: time.Now(),
	}

	log.Info("Orchestrator initialized",
		"flight_stages", len(flightTripStages),
		"ground_stages", len(groundTripStages))

	return orchestrator
}

// ExecuteTrip runs the full planning workflow for one request. Requests
// without flights skip the resolve and flight search stages entirely.
// Generation failures that stem from the request itself (missing fields,
// unparseable responses) complete the workflow with a diagnostic document
// rather than failing it.
func (orchestrator *Orchestrator) ExecuteTrip(ctx context.Context, req *models.PlanTripRequest) (*models.TripWorkflowResponse, error) {
	startTime := time.Now()
	requestID := models.GenerateRequestID()

	if err := req.Trip.Validate(); err != nil {
		return nil, err
	}

	workflowCtx := models.NewTripWorkflowContext(req, requestID)
	workflowCtx.Status = models.WorkflowStatusRunning
	handle := &workflowHandle{wc: workflowCtx}

	orchestrator.logger.LogWorkflow(workflowCtx.ID, "workflow_started", 0, nil)

	orchestrator.activeWorkflows.Store(workflowCtx.ID, handle)
	defer orchestrator.activeWorkflows.Delete(workflowCtx.ID)

	if err := orchestrator.store.StoreWorkflowState(ctx, handle.snapshot()); err != nil {
		orchestrator.logger.WithError(err).Error("failed to store initial workflow state")
	}

	executor := &tripExecutor{
		orchestrator: orchestrator,
		workflowCtx:  workflowCtx,
		handle:       handle,
		logger:       orchestrator.logger,
	}

	err := executor.run(ctx)

	duration := time.Since(startTime)
	if err != nil {
		handle.update(func(wc *models.TripWorkflowContext) { wc.MarkFailed() })
		orchestrator.logger.LogWorkflow(workflowCtx.ID, "workflow_failed", duration, err)

		if storeErr := orchestrator.store.StoreWorkflowState(ctx, handle.snapshot()); storeErr != nil {
			orchestrator.logger.WithError(storeErr).Error("failed to store failed workflow state")
		}

		return models.NewTripWorkflowResponse(workflowCtx.ID, requestID, "failed", err.Error()), err
	}

	handle.update(func(wc *models.TripWorkflowContext) { wc.MarkCompleted() })
	orchestrator.logger.LogWorkflow(workflowCtx.ID, "workflow_completed", duration, nil)

	if err := orchestrator.store.StoreWorkflowState(ctx, handle.snapshot()); err != nil {
		orchestrator.logger.WithError(err).Error("failed to store final workflow state")
	}

	message := "Trip planned successfully"
	if workflowCtx.Diagnostic {
		message = "Trip planning finished with a diagnostic document"
	}

	response := models.NewTripWorkflowResponse(workflowCtx.ID, requestID, "completed", message)
	response.DocumentKey = workflowCtx.DocumentKey
	response.Diagnostic = workflowCtx.Diagnostic

	totalTimeMs := float64(duration.Milliseconds())
	response.TotalTimeMs = &totalTimeMs

	return response, nil
}

func (executor *tripExecutor) run(ctx context.Context) error {
	if executor.workflowCtx.Request.FlightNeeded {
		if err := executor.executeResolve(ctx); err != nil {
			return fmt.Errorf("city resolution failed: %w", err)
		}
		if err := executor.executeOutboundSearch(ctx); err != nil {
			return fmt.Errorf("outbound flight search failed: %w", err)
		}
		if err := executor.executeReturnSearch(ctx); err != nil {
			return fmt.Errorf("return flight search failed: %w", err)
		}
	} else {
		executor.skipFlightStages(ctx)
	}

	if err := executor.executeHotelSearch(ctx); err != nil {
		return fmt.Errorf("hotel search failed: %w", err)
	}

	if err := executor.executeItineraryGeneration(ctx); err != nil {
		if missing, ok := models.AsMissingFields(err); ok {
			executor.diagnosticReason = "The trip request is missing required fields, so no itinerary could be generated."
			executor.diagnosticDetails = missing.Fields
		} else if models.HasCode(err, models.CodeGenerationParseError) {
			executor.diagnosticReason = "The itinerary generator returned a response that could not be read."
			executor.diagnosticDetails = nil
		} else {
			return fmt.Errorf("itinerary generation failed: %w", err)
		}
		executor.mutate(func(wc *models.TripWorkflowContext) {
			wc.Diagnostic = true
			wc.AddWarning(executor.diagnosticReason)
		})
	}

	if err := executor.executeDocumentRender(ctx); err != nil {
		return fmt.Errorf("document rendering failed: %w", err)
	}

	return nil
}

func (executor *tripExecutor) executeResolve(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageResolve, models.StageStatusProcessing, "Resolving cities to airport codes", nil)

	departureCode, err := executor.orchestrator.resolver.Resolve(executor.workflowCtx.Request.DepartureCity)
	if err != nil {
		executor.failStage(ctx, models.StageResolve, startTime, err)
		return err
	}

	arrivalCode, err := executor.orchestrator.resolver.Resolve(executor.workflowCtx.Request.ArrivalCity)
	if err != nil {
		executor.failStage(ctx, models.StageResolve, startTime, err)
		return err
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.DepartureCode = departureCode
		wc.ArrivalCode = arrivalCode
	})

	executor.completeStage(ctx, models.StageResolve, startTime,
		fmt.Sprintf("Resolved %s -> %s", departureCode, arrivalCode),
		map[string]any{"departure_code": departureCode, "arrival_code": arrivalCode})

	return nil
}

func (executor *tripExecutor) executeOutboundSearch(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageOutboundSearch, models.StageStatusProcessing, "Searching outbound flights", nil)

	options, err := executor.orchestrator.flights.SearchOutbound(ctx, executor.flightQuery())
	if err != nil {
		executor.failStage(ctx, models.StageOutboundSearch, startTime, err)
		return err
	}

	if len(options) == 0 {
		emptyErr := models.NewExternalError(models.CodeEmptyResultSet, "no outbound flights found for the requested route and dates")
		executor.failStage(ctx, models.StageOutboundSearch, startTime, emptyErr)
		return emptyErr
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.OutboundFlights = options
		wc.ProcessingStats.APICallsCount++
	})

	executor.completeStage(ctx, models.StageOutboundSearch, startTime,
		fmt.Sprintf("Found %d outbound candidates", len(options)),
		map[string]any{"candidates": len(options)})

	return nil
}

// executeReturnSearch probes outbound candidates in order, asking the
// provider for return alternates via each candidate's departure token. The
// first candidate with a non-empty return set wins; if every probe comes
// back empty the route has no bookable round trip and the workflow fails
// with an empty-result error, not a service error.
func (executor *tripExecutor) executeReturnSearch(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageReturnSearch, models.StageStatusProcessing, "Searching return flights", nil)

	query := executor.flightQuery()
	probes := 0

	for i := range executor.workflowCtx.OutboundFlights {
		if probes >= maxReturnProbes {
			break
		}

		candidate := executor.workflowCtx.OutboundFlights[i]
		if candidate.DepartureToken == "" {
			continue
		}
		probes++

		returns, err := executor.orchestrator.flights.SearchReturn(ctx, query, candidate.DepartureToken)
		if err != nil {
			executor.failStage(ctx, models.StageReturnSearch, startTime, err)
			return err
		}

		if len(returns) == 0 {
			executor.logger.Debug("no return flights for outbound candidate",
				"workflow_id", executor.workflowCtx.ID,
				"flight_number", candidate.FlightNumber)
			continue
		}

		selected := candidate
		returnFlight := returns[0]
		executor.mutate(func(wc *models.TripWorkflowContext) {
			wc.SelectedFlight = &selected
			wc.ReturnFlight = &returnFlight
			wc.ProcessingStats.APICallsCount += probes
		})

		executor.completeStage(ctx, models.StageReturnSearch, startTime,
			fmt.Sprintf("Paired outbound %s with return %s", selected.FlightNumber, returnFlight.FlightNumber),
			map[string]any{"probes": probes, "return_candidates": len(returns)})

		return nil
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.ProcessingStats.APICallsCount += probes
	})

	emptyErr := models.NewExternalError(models.CodeEmptyResultSet, "no return flights found for any outbound candidate")
	executor.failStage(ctx, models.StageReturnSearch, startTime, emptyErr)
	return emptyErr
}

func (executor *tripExecutor) executeHotelSearch(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageHotelSearch, models.StageStatusProcessing, "Searching hotels", nil)

	options, err := executor.orchestrator.hotels.Search(ctx, HotelQuery{
		Location:     executor.workflowCtx.Request.ArrivalCity,
		CheckInDate:  executor.workflowCtx.Request.StartDate,
		CheckOutDate: executor.workflowCtx.Request.EndDate,
		Adults:       executor.workflowCtx.Request.Adults,
		Children:     executor.workflowCtx.Request.Children,
		MinStars:     executor.workflowCtx.Request.MinHotelClass,
	})
	if err != nil {
		executor.failStage(ctx, models.StageHotelSearch, startTime, err)
		return err
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.Hotels = options
		wc.ProcessingStats.APICallsCount++

		if len(options) == 0 {
			wc.AddWarning("no rated hotels found at the destination, itinerary will not include lodging")
		} else {
			selected := options[0]
			wc.SelectedHotel = &selected
		}
	})

	executor.completeStage(ctx, models.StageHotelSearch, startTime,
		fmt.Sprintf("Found %d hotel options", len(options)),
		map[string]any{"candidates": len(options)})

	return nil
}

func (executor *tripExecutor) executeItineraryGeneration(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageItineraryGeneration, models.StageStatusProcessing, "Generating itinerary", nil)

	doc, err := executor.orchestrator.itinerary.Generate(ctx, executor.workflowCtx)
	if err != nil {
		executor.failStage(ctx, models.StageItineraryGeneration, startTime, err)
		return err
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.Itinerary = doc
		wc.ProcessingStats.APICallsCount++
	})

	executor.completeStage(ctx, models.StageItineraryGeneration, startTime,
		fmt.Sprintf("Generated itinerary with %d entries", len(doc.Content)),
		map[string]any{"entries": len(doc.Content)})

	return nil
}

func (executor *tripExecutor) executeDocumentRender(ctx context.Context) error {
	startTime := time.Now()

	executor.publishStageUpdate(ctx, models.StageDocumentRender, models.StageStatusProcessing, "Rendering trip document", nil)

	var doc *models.RenderedDocument
	var err error

	if executor.workflowCtx.Diagnostic {
		doc, err = executor.orchestrator.renderer.RenderDiagnostic(executor.workflowCtx, executor.diagnosticReason, executor.diagnosticDetails, RenderModeInline)
	} else {
		doc, err = executor.orchestrator.renderer.Render(executor.workflowCtx.Itinerary, executor.workflowCtx.Request, RenderModeInline)
	}
	if err != nil {
		executor.failStage(ctx, models.StageDocumentRender, startTime, err)
		return err
	}

	if err := executor.orchestrator.store.StoreDocument(ctx, executor.workflowCtx.ID, doc); err != nil {
		executor.failStage(ctx, models.StageDocumentRender, startTime, err)
		return err
	}

	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.DocumentKey = wc.ID
	})

	executor.completeStage(ctx, models.StageDocumentRender, startTime,
		fmt.Sprintf("Rendered %d byte document", len(doc.Payload)),
		map[string]any{"bytes": len(doc.Payload), "diagnostic": executor.workflowCtx.Diagnostic})

	return nil
}

func (executor *tripExecutor) skipFlightStages(ctx context.Context) {
	for _, stage := range []string{models.StageResolve, models.StageOutboundSearch, models.StageReturnSearch} {
		executor.mutate(func(wc *models.TripWorkflowContext) {
			wc.UpdateStageStats(stage, models.StageStats{
				Name:      stage,
				Status:    string(models.StageStatusSkipped),
				StartTime: time.Now(),
				EndTime:   time.Now(),
			})
		})
		executor.publishStageUpdate(ctx, stage, models.StageStatusSkipped, "Flights not requested", nil)
	}
}

func (executor *tripExecutor) completeStage(ctx context.Context, stage string, startTime time.Time, message string, data map[string]any) {
	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.UpdateStageStats(stage, models.StageStats{
			Name:      stage,
			Duration:  time.Since(startTime),
			Status:    string(models.StageStatusCompleted),
			StartTime: startTime,
			EndTime:   time.Now(),
		})
	})

	executor.logger.LogStage(executor.workflowCtx.ID, stage, time.Since(startTime), data, nil)
	executor.publishStageUpdate(ctx, stage, models.StageStatusCompleted, message, data)
}

func (executor *tripExecutor) failStage(ctx context.Context, stage string, startTime time.Time, stageErr error) {
	executor.mutate(func(wc *models.TripWorkflowContext) {
		wc.UpdateStageStats(stage, models.StageStats{
			Name:      stage,
			Duration:  time.Since(startTime),
			Status:    string(models.StageStatusFailed),
			StartTime: startTime,
			EndTime:   time.Now(),
		})
	})

	executor.logger.LogStage(executor.workflowCtx.ID, stage, time.Since(startTime), nil, stageErr)

	update := &models.StageUpdate{
		WorkflowID: executor.workflowCtx.ID,
		RequestID:  executor.workflowCtx.RequestID,
		Stage:      stage,
		Status:     models.StageStatusFailed,
		Message:    "Stage failed",
		Progress:   calculateStageProgress(executor.workflowCtx.Request.FlightNeeded, stage, models.StageStatusFailed),
		Error:      stageErr.Error(),
		Timestamp:  time.Now(),
		Retryable:  true,
	}

	if err := executor.orchestrator.store.PublishStageUpdate(ctx, update); err != nil {
		executor.logger.WithError(err).Error("failed to publish stage failure update")
	}
}

func (executor *tripExecutor) publishStageUpdate(ctx context.Context, stage string, status models.StageStatus, message string, data map[string]any) {
	update := &models.StageUpdate{
		WorkflowID: executor.workflowCtx.ID,
		RequestID:  executor.workflowCtx.RequestID,
		Stage:      stage,
		Status:     status,
		Message:    message,
		Progress:   calculateStageProgress(executor.workflowCtx.Request.FlightNeeded, stage, status),
		Data:       data,
		Timestamp:  time.Now(),
	}

	if err := executor.orchestrator.store.PublishStageUpdate(ctx, update); err != nil {
		executor.logger.WithError(err).Error("failed to publish stage update", "stage", stage)
	}
}

func (executor *tripExecutor) flightQuery() FlightQuery {
	req := executor.workflowCtx.Request
	return FlightQuery{
		DepartureID:  executor.workflowCtx.DepartureCode,
		ArrivalID:    executor.workflowCtx.ArrivalCode,
		OutboundDate: req.StartDate,
		ReturnDate:   req.EndDate,
		Adults:       req.Adults,
		Children:     req.Children,
	}
}

func calculateStageProgress(flightNeeded bool, stage string, status models.StageStatus) float64 {
	stages := groundTripStages
	if flightNeeded {
		stages = flightTripStages
	}

	stageIndex := -1
	for i, name := range stages {
		if name == stage {
			stageIndex = i
			break
		}
	}

	if stageIndex == -1 {
		return 0.0
	}

	totalStages := float64(len(stages))
	baseProgress := float64(stageIndex) / totalStages

	switch status {
	case models.StageStatusProcessing:
		return baseProgress + (0.5 / totalStages)
	case models.StageStatusCompleted, models.StageStatusSkipped:
		return float64(stageIndex+1) / totalStages
	default:
		return baseProgress
	}
}

// GetWorkflowStatus returns a point-in-time copy of the workflow context.
// Live workflows answer with a snapshot; the executor keeps writing the
// original, so the caller can marshal the result freely.
func (orchestrator *Orchestrator) GetWorkflowStatus(workflowID string) (*models.TripWorkflowContext, error) {
	if workflow, exists := orchestrator.activeWorkflows.Load(workflowID); exists {
		return workflow.(*workflowHandle).snapshot(), nil
	}

	ctx := context.Background()
	return orchestrator.store.GetWorkflowState(ctx, workflowID)
}

func (orchestrator *Orchestrator) GetDocument(ctx context.Context, workflowID string) (*models.RenderedDocument, error) {
	return orchestrator.store.GetDocument(ctx, workflowID)
}

func (orchestrator *Orchestrator) GetActiveWorkflowsCount() int {
	count := 0
	orchestrator.activeWorkflows.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (orchestrator *Orchestrator) CancelWorkflow(workflowID string) error {
	if workflow, exists := orchestrator.activeWorkflows.Load(workflowID); exists {
		workflow.(*workflowHandle).update(func(wc *models.TripWorkflowContext) {
			wc.Status = models.WorkflowStatusCancelled
		})
		orchestrator.activeWorkflows.Delete(workflowID)

		orchestrator.logger.LogWorkflow(workflowID, "workflow_cancelled", 0, nil)
		return nil
	}

	return models.ErrWorkflowNotFound.WithMetadata("workflow_id", workflowID)
}

// HealthCheck pings every dependency that exposes a health probe.
func (orchestrator *Orchestrator) HealthCheck(ctx context.Context) error {
	dependencies := map[string]any{
		"store":     orchestrator.store,
		"resolver":  orchestrator.resolver,
		"flights":   orchestrator.flights,
		"hotels":    orchestrator.hotels,
		"itinerary": orchestrator.itinerary,
		"renderer":  orchestrator.renderer,
	}

	type healthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	for name, dependency := range dependencies {
		if checker, ok := dependency.(healthChecker); ok {
			if err := checker.HealthCheck(ctx); err != nil {
				return fmt.Errorf("dependency %s health check failed: %w", name, err)
			}
		}
	}

	return nil
}

func (orchestrator *Orchestrator) GetStats() map[string]interface{} {
	uptime := time.Since(orchestrator.startTime)

	return map[string]interface{}{
		"service":          "orchestrator",
		"uptime_seconds":   uptime.Seconds(),
		"active_workflows": orchestrator.GetActiveWorkflowsCount(),
		"flight_stages":    flightTripStages,
		"ground_stages":    groundTripStages,
	}
}

func (orchestrator *Orchestrator) Close() error {
	orchestrator.logger.Info("orchestrator shutting down")

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			activeCount := orchestrator.GetActiveWorkflowsCount()
			if activeCount > 0 {
				orchestrator.logger.Warn("timeout waiting for workflows to complete", "active_workflows", activeCount)
			}
			return nil
		case <-ticker.C:
			if orchestrator.GetActiveWorkflowsCount() == 0 {
				orchestrator.logger.Info("all workflows completed, orchestrator closed")
				return nil
			}
		}
	}
}
