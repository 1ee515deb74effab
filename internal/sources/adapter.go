// Package sources defines the per-source adapter contract and the shared
// HTTP plumbing used by every concrete metrics source.
//
// Each external metrics provider (CrossRef, Europe PMC, PMC usage stats,
// GitHub, Scopus) implements the Adapter interface. Dispatch from a source
// name to its adapter goes through the Registry: a closed, extensible set of
// variants, so the job executor stays source-agnostic.
package sources

import (
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Spec declares a source's scheduling and configuration surface.
type Spec struct {
	// JobInterval is the minimum spacing between successive API calls.
	JobInterval time.Duration

	// Timeout bounds one fetch against the source.
	Timeout time.Duration

	// MaxFailedQueries is the failure budget before the source is disabled.
	MaxFailedQueries int

	// ConfigFields names the per-source configuration keys.
	ConfigFields []string
}

// Adapter is the capability every concrete source implements: build a query
// request from a work's identifiers, and parse a raw response into a
// normalized fetch result.
type Adapter interface {
	// Name returns the unique source name used for dispatch and doc keys.
	Name() string

	// Spec returns the source's declared limits and config field names.
	Spec() Spec

	// BuildQuery returns the request URL for the work, or "" when this
	// source cannot address the work at all (treated as skipped upstream).
	BuildQuery(w *domain.Work) string

	// ParseResponse converts a raw response body and status into a
	// normalized result. Implementations must tolerate empty or non-JSON
	// bodies and must map a 404 onto their documented semantics rather
	// than failing.
	ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error)
}

// DefaultSpec is the baseline most sources start from.
var DefaultSpec = Spec{
	JobInterval:      time.Second,
	Timeout:          30 * time.Second,
	MaxFailedQueries: 200,
}
