package models

import (
	"strconv"
	"strings"
)

// ItineraryDocument is the structured payload returned by the
// text-generation service. The schema matches the generation prompt exactly;
// anything that fails to parse into it is a GENERATION_PARSE_ERROR.
type ItineraryDocument struct {
	Header  ItineraryHeader  `json:"header"`
	Content []ItineraryEntry `json:"content"`
}

type ItineraryHeader struct {
	DepartureCity string         `json:"departure_city"`
	ArrivalCity   string         `json:"arrival_city"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	CarRental     *CarRentalInfo `json:"car_rental_info,omitempty"`
}

type CarRentalInfo struct {
	Company        string `json:"company"`
	CarType        string `json:"car_type"`
	PickUpLocation string `json:"pick_up_location"`
	PickUpTime     string `json:"pick_up_time"`
	ReturnLocation string `json:"return_location"`
	ReturnTime     string `json:"return_time"`
	TotalPrice     string `json:"total_price"`
}

// IsZero reports whether the block is the empty object the generator emits
// when no car rental is required.
func (c *CarRentalInfo) IsZero() bool {
	return c == nil || *c == CarRentalInfo{}
}

type ItineraryEntry struct {
	Place       string `json:"place"`
	Location    string `json:"location"`
	TimeStamp   string `json:"time_stamp"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// Day returns the calendar-day component of the entry timestamp. Timestamps
// are ISO-8601 ("2024-12-14T09:00"); anything without a time part is treated
// as a bare date.
func (e ItineraryEntry) Day() string {
	if idx := strings.IndexByte(e.TimeStamp, 'T'); idx >= 0 {
		return e.TimeStamp[:idx]
	}
	if fields := strings.Fields(e.TimeStamp); len(fields) > 1 {
		return fields[0]
	}
	return e.TimeStamp
}

// Clock returns the time-of-day component of the entry timestamp, or ""
// when the timestamp carries no time part.
func (e ItineraryEntry) Clock() string {
	if idx := strings.IndexByte(e.TimeStamp, 'T'); idx >= 0 {
		return e.TimeStamp[idx+1:]
	}
	if fields := strings.Fields(e.TimeStamp); len(fields) > 1 {
		return fields[1]
	}
	return ""
}

// PriceValue parses the entry price as a non-negative amount. Malformed or
// empty prices default to zero so one bad entry never aborts rendering.
func (e ItineraryEntry) PriceValue() float64 {
	return ParsePrice(e.Price)
}

// ParsePrice reads a price string as emitted by the generation service.
// Currency symbols, thousands separators and surrounding text are tolerated;
// empty, malformed or negative values yield 0.
func ParsePrice(raw string) float64 {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return 0
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return 0
	}

	return value
}

// TotalPrice is the sum of every content entry price plus the car-rental
// total when a rental block is present.
func (d *ItineraryDocument) TotalPrice() float64 {
	var total float64
	for _, entry := range d.Content {
		total += entry.PriceValue()
	}

	if !d.Header.CarRental.IsZero() {
		total += ParsePrice(d.Header.CarRental.TotalPrice)
	}

	return total
}

// RenderedDocument is the final binary output of the document renderer.
type RenderedDocument struct {
	Payload     []byte `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Disposition string `json:"disposition"`
}
