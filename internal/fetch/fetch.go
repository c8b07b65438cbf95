// Package fetch defines the boundary to upstream model data. The
// scheduler and accumulation engine see a small interface plus a typed
// result, so "not there yet" and "actually broken" are branches on a
// tag rather than string inspection of errors.
package fetch

import (
	"context"
	"time"

	"github.com/stratuscast/gridgen/internal/grid"
)

// Status classifies the outcome of a raw-fields fetch.
type Status int

const (
	// StatusReady means the dataset was retrieved in full.
	StatusReady Status = iota
	// StatusNotReady means upstream has not published this forecast hour
	// yet; the caller should poll again rather than count a failure.
	StatusNotReady
	// StatusFailed means the fetch ran and broke; it counts against the
	// retry budget.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusNotReady:
		return "not_ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the typed outcome of one FetchRawFields call. Dataset is
// set only for StatusReady; Reason explains NotReady; Err explains
// Failed.
type Result struct {
	Status  Status
	Dataset *grid.Dataset
	Reason  string
	Err     error
}

// Ready wraps a dataset in a successful result.
func Ready(ds *grid.Dataset) Result {
	return Result{Status: StatusReady, Dataset: ds}
}

// NotReady reports that upstream data is not yet published.
func NotReady(reason string) Result {
	return Result{Status: StatusNotReady, Reason: reason}
}

// Failed reports a hard fetch failure.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Fetcher retrieves raw gridded fields for one forecast hour. HourAvailable
// is a cheap existence probe used by the polling loop; it must never
// perform the full fetch.
type Fetcher interface {
	FetchRawFields(ctx context.Context, model string, runTime time.Time, forecastHour int, fields []string) Result
	HourAvailable(ctx context.Context, model string, runTime time.Time, forecastHour int) (bool, error)
}
