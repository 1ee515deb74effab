// Package domain defines the core types for the metrics harvesting service:
// works, sources, per-pair retrieval state and the operator alert model.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// IDType identifies a persistent identifier scheme.
type IDType string

// Recognized identifier schemes.
const (
	IDTypeDOI   IDType = "doi"
	IDTypePMID  IDType = "pmid"
	IDTypePMCID IDType = "pmcid"
	IDTypeArXiv IDType = "arxiv"
	IDTypeARK   IDType = "ark"
	IDTypeWOS   IDType = "wos"
	IDTypeSCP   IDType = "scp"
	IDTypeURL   IDType = "url"
)

// SourceState is the lifecycle state of a metrics source.
type SourceState string

// Source states. The executor moves a source between waiting and working;
// disabled is set administratively and inactive means not yet installed.
const (
	SourceInactive SourceState = "inactive"
	SourceDisabled SourceState = "disabled"
	SourceWaiting  SourceState = "waiting"
	SourceWorking  SourceState = "working"
)

// Work is a tracked scholarly item. Each identifier column is optional but
// globally unique when present. PID and PIDType are derived once at creation
// (doi > pmid > pmcid > canonical_url) and never change afterwards.
type Work struct {
	ID           uuid.UUID
	DOI          *string
	PMID         *string
	PMCID        *string
	CanonicalURL *string
	PID          string
	PIDType      IDType
	Title        string
	PublishedOn  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SetPID derives the persistent identifier from the highest-priority
// identifier present. Returns false when no identifier is set.
func (w *Work) SetPID() bool {
	switch {
	case strPresent(w.DOI):
		w.PID, w.PIDType = *w.DOI, IDTypeDOI
	case strPresent(w.PMID):
		w.PID, w.PIDType = *w.PMID, IDTypePMID
	case strPresent(w.PMCID):
		w.PID, w.PIDType = *w.PMCID, IDTypePMCID
	case strPresent(w.CanonicalURL):
		w.PID, w.PIDType = *w.CanonicalURL, IDTypeURL
	default:
		return false
	}
	return true
}

// Ids returns the work's identifiers keyed by scheme, omitting absent ones.
func (w *Work) Ids() map[IDType]string {
	ids := make(map[IDType]string, 4)
	if strPresent(w.DOI) {
		ids[IDTypeDOI] = *w.DOI
	}
	if strPresent(w.PMID) {
		ids[IDTypePMID] = *w.PMID
	}
	if strPresent(w.PMCID) {
		ids[IDTypePMCID] = *w.PMCID
	}
	if strPresent(w.CanonicalURL) {
		ids[IDTypeURL] = *w.CanonicalURL
	}
	return ids
}

func strPresent(s *string) bool {
	return s != nil && *s != ""
}

// Source is one external metrics provider.
type Source struct {
	ID               uuid.UUID
	Name             string
	DisplayName      string
	State            SourceState
	Workers          int
	JobInterval      time.Duration
	Timeout          time.Duration
	StaleAge         time.Duration
	MaxFailedQueries int
	Queue            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Working reports whether the source may be fetched from right now.
func (s *Source) Working() bool {
	return s.State == SourceWorking
}

// EpochSentinel marks a RetrievalStatus that has never been retrieved.
var EpochSentinel = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// RetrievalStatus is the current harvesting state for one (work, source) pair.
// EventCount == nil means the source has never returned a confident count.
type RetrievalStatus struct {
	ID           uuid.UUID
	WorkID       uuid.UUID
	SourceID     uuid.UUID
	EventCount   *int64
	QueuedAt     *time.Time
	RetrievedAt  time.Time
	ScheduledAt  time.Time
	StaleAt      time.Time
	EventsURL    string
	EventMetrics map[string]int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RetrievalState is the derived (not stored) state of a RetrievalStatus.
type RetrievalState string

const (
	// RetrievalPending means the pair has never produced a confident count.
	RetrievalPending RetrievalState = "pending"
	// RetrievalKnownZero means the last confident count was zero (or the
	// source skipped the work).
	RetrievalKnownZero RetrievalState = "known-zero"
	// RetrievalKnownPositive means the last confident count was positive.
	RetrievalKnownPositive RetrievalState = "known-positive"
)

// State derives the retrieval state from the stored count.
func (rs *RetrievalStatus) State() RetrievalState {
	switch {
	case rs.EventCount == nil:
		return RetrievalPending
	case *rs.EventCount > 0:
		return RetrievalKnownPositive
	default:
		return RetrievalKnownZero
	}
}

// RetrievalHistory is one immutable ledger entry, created only for confident
// outcomes (success or success-with-no-data), never for skipped or error ones.
type RetrievalHistory struct {
	ID                uuid.UUID
	RetrievalStatusID uuid.UUID
	WorkID            uuid.UUID
	SourceID          uuid.UUID
	EventCount        int64
	RetrievedAt       time.Time
	CreatedAt         time.Time
}

// Alert is a deduplicated operator-visible failure record. Open alerts are
// unique per message; repeated identical failures are absorbed.
type Alert struct {
	ID         uuid.UUID
	ClassName  string
	Message    string
	Exception  string
	Status     int
	SourceID   *uuid.UUID
	WorkID     *uuid.UUID
	Unresolved bool
	CreatedAt  time.Time
}

// Batch is one unit of queue work: an ordered list of retrieval-status ids,
// all belonging to one source.
type Batch struct {
	ID                 uuid.UUID
	SourceID           uuid.UUID
	RetrievalStatusIDs []uuid.UUID
	Queue              string
	Attempts           int
	ScheduledAt        time.Time
	LockedBy           string
	LockExpiresAt      *time.Time
	CreatedAt          time.Time
}
