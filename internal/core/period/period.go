// Package period models a monthly accounting period.
package period

import (
	"fmt"
	"time"
)

// Period is one calendar month of one year.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// New validates and builds a Period.
func New(year, month int) (Period, error) {
	p := Period{Month: month, Year: year}
	return p, p.Validate()
}

// Of returns the period containing t (UTC).
func Of(t time.Time) Period {
	t = t.UTC()
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate checks month and year ranges.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("period month must be 1..12, got %d", p.Month)
	}
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("period year out of range: %d", p.Year)
	}
	return nil
}

// Start is the first instant of the period (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the period (UTC).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

// Prev returns the preceding month.
func (p Period) Prev() Period {
	return Of(p.Start().AddDate(0, -1, 0))
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
