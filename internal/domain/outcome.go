package domain

// OutcomeKind classifies one fetch attempt against a source.
type OutcomeKind int

// The four possible outcomes of a fetch. The distinction between Skipped and
// OutcomeError is deliberate and asymmetric: a skipped item stamps the
// retrieval status as retrieved (the source simply cannot address the work),
// while an errored item mutates nothing so the attempt can be retried safely.
const (
	// OutcomeError means the adapter call failed; state must stay untouched.
	OutcomeError OutcomeKind = iota
	// OutcomeSkipped means the source cannot address the work or returned a
	// result with no confident count.
	OutcomeSkipped
	// OutcomeSuccessNoData means the source knows the work and reports zero
	// events.
	OutcomeSuccessNoData
	// OutcomeSuccess means the source reports a positive event count.
	OutcomeSuccess
)

// String implements fmt.Stringer for metrics labels and logging.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeError:
		return "error"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuccessNoData:
		return "success_no_data"
	case OutcomeSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Attachment is an optional binary payload returned by an adapter, persisted
// with the current document only.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FetchResult is the normalized result of one source fetch. EventCount nil
// encodes "the source has no confident count for this work".
type FetchResult struct {
	EventCount   *int64
	Events       interface{}
	EventsURL    string
	EventMetrics map[string]int64
	Attachment   *Attachment
}

// Classify maps an adapter result and error onto the outcome sum.
func Classify(res *FetchResult, err error) OutcomeKind {
	switch {
	case err != nil || res == nil:
		return OutcomeError
	case res.EventCount == nil:
		return OutcomeSkipped
	case *res.EventCount > 0:
		return OutcomeSuccess
	default:
		return OutcomeSuccessNoData
	}
}

// Count is a convenience for building FetchResult counts.
func Count(n int64) *int64 {
	return &n
}
