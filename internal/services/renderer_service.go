package services

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"tripcraft-pipeline/internal/models"
	"tripcraft-pipeline/internal/pkg/logger"
)

// RenderMode selects the Content-Disposition of the served document.
type RenderMode string

const (
	RenderModeInline     RenderMode = "inline"
	RenderModeAttachment RenderMode = "attachment"

	documentFilename = "itinerary.pdf"
	documentMIMEType = "application/pdf"
)

// RendererService turns an itinerary document into a PDF. It also renders
// diagnostic documents for workflows that could not produce a full
// itinerary, so every workflow ends with a downloadable artifact.
type RendererService struct {
	logger *logger.Logger
}

func NewRendererService(log *logger.Logger) *RendererService {
	return &RendererService{logger: log}
}

// Render produces the final trip PDF: a header block with cities, dates and
// traveler counts, the optional car rental section, the schedule grouped by
// calendar day, and a trip total.
func (s *RendererService) Render(doc *models.ItineraryDocument, trip models.TripRequest, mode RenderMode) (*models.RenderedDocument, error) {
	startTime := time.Now()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Trip Itinerary", false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(fmt.Sprintf("%s to %s", doc.Header.DepartureCity, doc.Header.ArrivalCity)), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("%s - %s", doc.Header.StartDate, doc.Header.EndDate)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, tr(travelerLine(trip.Adults, trip.Children, trip.BudgetTier)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if !doc.Header.CarRental.IsZero() {
		s.renderCarRental(pdf, tr, doc.Header.CarRental)
	}

	s.renderSchedule(pdf, tr, doc.Content)

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Estimated trip total: $%.2f", doc.TotalPrice())), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, models.NewInternalError(models.CodeServiceError, "failed to render itinerary document").WithCause(err)
	}

	s.logger.LogService("renderer", "render", time.Since(startTime), map[string]interface{}{
		"entries":    len(doc.Content),
		"bytes":      buf.Len(),
		"car_rental": !doc.Header.CarRental.IsZero(),
	}, nil)

	return &models.RenderedDocument{
		Payload:     buf.Bytes(),
		Filename:    documentFilename,
		ContentType: documentMIMEType,
		Disposition: dispositionFor(mode),
	}, nil
}

// RenderDiagnostic produces a short PDF explaining why the itinerary could
// not be generated. Used for missing-field and parse failures so the caller
// still receives a document.
func (s *RendererService) RenderDiagnostic(wc *models.TripWorkflowContext, reason string, details []string, mode RenderMode) (*models.RenderedDocument, error) {
	startTime := time.Now()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Trip Itinerary", false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Itinerary Unavailable", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(reason), "", "L", false)
	pdf.Ln(2)

	for _, detail := range details {
		pdf.CellFormat(0, 6, tr("- "+detail), "", 1, "L", false, 0, "")
	}

	if wc != nil {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 5, tr(fmt.Sprintf("Workflow %s", wc.ID)), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, models.NewInternalError(models.CodeServiceError, "failed to render diagnostic document").WithCause(err)
	}

	s.logger.LogService("renderer", "render_diagnostic", time.Since(startTime), map[string]interface{}{
		"reason": reason,
		"bytes":  buf.Len(),
	}, nil)

	return &models.RenderedDocument{
		Payload:     buf.Bytes(),
		Filename:    documentFilename,
		ContentType: documentMIMEType,
		Disposition: dispositionFor(mode),
	}, nil
}

func (s *RendererService) renderCarRental(pdf *fpdf.Fpdf, tr func(string) string, rental *models.CarRentalInfo) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Car Rental", "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	rows := [][2]string{
		{"Company", rental.Company},
		{"Car type", rental.CarType},
		{"Pick up", fmt.Sprintf("%s, %s", rental.PickUpLocation, rental.PickUpTime)},
		{"Return", fmt.Sprintf("%s, %s", rental.ReturnLocation, rental.ReturnTime)},
		{"Total price", rental.TotalPrice},
	}
	for _, row := range rows {
		pdf.CellFormat(35, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)
}

// groupEntriesByDay buckets entries by the date component of their
// timestamps. Day keys come back in chronological order; the order of
// entries inside each day is the generator's, untouched.
func groupEntriesByDay(entries []models.ItineraryEntry) ([]string, map[string][]models.ItineraryEntry) {
	byDay := make(map[string][]models.ItineraryEntry)
	var days []string

	for _, entry := range entries {
		day := entry.Day()
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], entry)
	}
	sort.Strings(days)

	return days, byDay
}

func (s *RendererService) renderSchedule(pdf *fpdf.Fpdf, tr func(string) string, entries []models.ItineraryEntry) {
	days, byDay := groupEntriesByDay(entries)

	for _, day := range days {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(day), "B", 1, "L", false, 0, "")
		pdf.Ln(1)

		for _, entry := range byDay[day] {
			pdf.SetFont("Helvetica", "B", 11)
			title := entry.Place
			if clock := entry.Clock(); clock != "" {
				title = fmt.Sprintf("%s - %s", clock, entry.Place)
			}
			pdf.CellFormat(0, 6, tr(title), "", 1, "L", false, 0, "")

			pdf.SetFont("Helvetica", "", 10)
			if entry.Location != "" {
				pdf.CellFormat(0, 5, tr(entry.Location), "", 1, "L", false, 0, "")
			}
			if strings.TrimSpace(entry.Description) != "" {
				pdf.MultiCell(0, 5, tr(entry.Description), "", "L", false)
			}
			if price := entry.PriceValue(); price > 0 {
				pdf.CellFormat(0, 5, fmt.Sprintf("$%.2f", price), "", 1, "L", false, 0, "")
			}
			pdf.Ln(2)
		}
	}
}

// travelerLine formats the header line for the traveling party, with the
// budget tier appended when one was given.
func travelerLine(adults, children int, budgetTier string) string {
	line := fmt.Sprintf("%d adults", adults)
	if adults == 1 {
		line = "1 adult"
	}

	if children == 1 {
		line += ", 1 child"
	} else if children > 1 {
		line += fmt.Sprintf(", %d children", children)
	}

	if budgetTier != "" {
		line += fmt.Sprintf(" - %s budget", budgetTier)
	}

	return line
}

func dispositionFor(mode RenderMode) string {
	if mode == RenderModeAttachment {
		return fmt.Sprintf("attachment; filename=%q", documentFilename)
	}
	return fmt.Sprintf("inline; filename=%q", documentFilename)
}
