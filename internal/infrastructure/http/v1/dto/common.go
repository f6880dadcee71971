// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"bytes"
	"fmt"
	"time"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/period"
	"shopfiscal/internal/core/types"
)

// --- Dates ---

const dateLayout = "2006-01-02"

// Date accepts "2006-01-02" or RFC 3339 and always yields UTC.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t.UTC()
	return nil
}

// ParseDate parses a query parameter the way Date does.
func ParseDate(s string) (time.Time, error) {
	var d Date
	if err := d.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return time.Time{}, err
	}
	return d.Time, nil
}

// DatePtr returns nil for a nil date.
func DatePtr(d *Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// DatePatch converts a date patch into a time patch.
func DatePatch(p types.Patch[Date]) types.Patch[time.Time] {
	if !p.Present {
		return types.Patch[time.Time]{}
	}
	if d, ok := p.Value.Get(); ok && !d.IsZero() {
		return types.Set(d.Time)
	}
	return types.Clear[time.Time]()
}

// --- Period ---

// PeriodRequest names a month of a year.
type PeriodRequest struct {
	Month int `json:"month" binding:"required"`
	Year  int `json:"year" binding:"required"`
}

// ToPeriod validates the period.
func (r PeriodRequest) ToPeriod() (period.Period, error) {
	p, err := period.New(r.Year, r.Month)
	if err != nil {
		return p, apperror.NewValidation(err.Error()).WithDetail("field", "period")
	}
	return p, nil
}

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the JSON shape of an AppError.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// FromError renders err as an ErrorBody. Non-application errors become INTERNAL_ERROR.
func FromError(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	if appErr, ok := apperror.AsAppError(err); ok {
		return &ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}
	return &ErrorBody{Code: apperror.CodeInternal, Message: "Internal server error"}
}
