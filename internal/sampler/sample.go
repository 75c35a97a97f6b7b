package sampler

import (
	"strconv"
	"strings"
	"time"
)

// Sample is the outcome of one poll cycle. Error cycles carry zero
// measurements and an ERROR_<KIND> status code.
type Sample struct {
	Timestamp        time.Time `json:"ts"`
	Date             string    `json:"date"`
	ElapsedSeconds   int64     `json:"elapsed_s"`
	ChangeInLengthMM float64   `json:"change_in_length_mm"`
	StrainPercent    float64   `json:"strain_pct"`
	Running          bool      `json:"running"`
	TemperatureC     float64   `json:"temperature_c"`
	StatusCode       string    `json:"status_code"`
	// RemoteElapsed is the platform's own elapsed counter. Informational
	// only; it is never journaled.
	RemoteElapsed *float64 `json:"remote_elapsed,omitempty"`
}

// OK reports whether the sample came from a successful fetch.
func (s Sample) OK() bool {
	return s.StatusCode != "" && !isErrorStatus(s.StatusCode)
}

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindRequest   ErrorKind = "REQUEST_ERROR"
	KindJSON      ErrorKind = "JSON_ERROR"
	KindAPIFormat ErrorKind = "API_FORMAT_ERROR"
	KindFetch     ErrorKind = "FETCH_ERROR"
)

// Kinds lists every error kind in a stable order.
var Kinds = []ErrorKind{KindRequest, KindJSON, KindAPIFormat, KindFetch}

const errorStatusPrefix = "ERROR_"

// StatusCode returns the journal status tag for the kind.
func (k ErrorKind) StatusCode() string {
	return errorStatusPrefix + string(k)
}

func isErrorStatus(code string) bool {
	return strings.HasPrefix(code, errorStatusPrefix)
}

// FetchError is returned by a failed fetch. Kind decides the status tag
// of the substituted sample.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// roundTo rounds to the given number of decimals the same way a decimal
// printer does: half-even on the exact binary value.
func roundTo(value float64, decimals int) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(value, 'f', decimals, 64), 64)
	if err != nil {
		return value
	}
	return rounded
}
