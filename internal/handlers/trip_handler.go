package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// TripOrchestrator is the surface of the orchestrator the HTTP layer
// depends on.
type TripOrchestrator interface {
	ExecuteTrip(ctx context.Context, req *models.PlanTripRequest) (*models.TripWorkflowResponse, error)
	GetWorkflowStatus(workflowID string) (*models.TripWorkflowContext, error)
	GetDocument(ctx context.Context, workflowID string) (*models.RenderedDocument, error)
	CancelWorkflow(workflowID string) error
	GetActiveWorkflowsCount() int
	HealthCheck(ctx context.Context) error
	GetStats() map[string]interface{}
}

type TripHandler struct {
	orchestrator TripOrchestrator
	logger       *logger.Logger
}

func NewTripHandler(orchestrator TripOrchestrator, log *logger.Logger) *TripHandler {
	return &TripHandler{
		orchestrator: orchestrator,
		logger:       log,
	}
}

// RegisterRoutes wires every trip endpoint onto the router.
func (h *TripHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", h.PlanTrip)
			trips.GET("/:id/status", h.GetTripStatus)
			trips.GET("/:id/document", h.GetTripDocument)
			trips.DELETE("/:id", h.CancelTrip)
		}
	}

	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
}

// PlanTrip runs the planning workflow synchronously and returns the final
// workflow response, including the document key for the rendered PDF.
func (h *TripHandler) PlanTrip(c *gin.Context) {
	var req models.PlanTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return
	}

	startTime := time.Now()

	response, err := h.orchestrator.ExecuteTrip(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("trip planning failed",
			"departure_city", req.Trip.DepartureCity,
			"arrival_city", req.Trip.ArrivalCity)

		c.JSON(statusForError(err), models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	h.logger.Info("trip planned",
		"workflow_id", response.WorkflowID,
		"diagnostic", response.Diagnostic,
		"duration_ms", time.Since(startTime).Milliseconds())

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: response.Message,
		Data:    response,
	})
}

func (h *TripHandler) GetTripStatus(c *gin.Context) {
	workflowID := c.Param("id")

	workflowCtx, err := h.orchestrator.GetWorkflowStatus(workflowID)
	if err != nil {
		c.JSON(statusForError(err), models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    workflowCtx,
	})
}

// GetTripDocument streams the rendered PDF. The optional mode query
// parameter switches between inline viewing (default) and attachment
// download.
func (h *TripHandler) GetTripDocument(c *gin.Context) {
	workflowID := c.Param("id")

	doc, err := h.orchestrator.GetDocument(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(statusForError(err), models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	disposition := `inline; filename="itinerary.pdf"`
	if c.Query("mode") == "attachment" {
		disposition = `attachment; filename="itinerary.pdf"`
	}

	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, doc.ContentType, doc.Payload)
}

func (h *TripHandler) CancelTrip(c *gin.Context) {
	workflowID := c.Param("id")

	if err := h.orchestrator.CancelWorkflow(workflowID); err != nil {
		c.JSON(statusForError(err), models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "workflow cancelled",
	})
}

func (h *TripHandler) Health(c *gin.Context) {
	if err := h.orchestrator.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, models.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "healthy",
		Data: gin.H{
			"active_workflows": h.orchestrator.GetActiveWorkflowsCount(),
			"timestamp":        time.Now().Format(time.RFC3339),
		},
	})
}

func (h *TripHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    h.orchestrator.GetStats(),
	})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		if _, ok := models.AsMissingFields(err); ok {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}

	switch appErr.Type {
	case models.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case models.ErrorTypeNotFound:
		return http.StatusNotFound
	case models.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case models.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
