package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Fetch runs one adapter fetch for a work: build the query, call the source
// with the adapter's timeout, and hand the response to the adapter.
//
// An empty query means the source cannot address the work; the empty result
// (no event count) classifies as skipped upstream. Transport failures and
// non-2xx statuses other than 404 return an error so the executor leaves all
// state untouched. A 404 is passed through to the adapter, which owns its
// not-found semantics.
func Fetch(ctx context.Context, client *HTTPClient, a Adapter, w *domain.Work) (*domain.FetchResult, error) {
	query := a.BuildQuery(w)
	if query == "" {
		return &domain.FetchResult{}, nil
	}

	fetchCtx := ctx
	if timeout := a.Spec().Timeout; timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, body, err := client.Get(fetchCtx, query)
	switch domain.ClassifyTransport(status, err) {
	case domain.KindOK, domain.KindNotFound:
		return a.ParseResponse(body, status, w)
	default:
		if err == nil {
			err = fmt.Errorf("unexpected status %d", status)
		}
		return nil, fmt.Errorf("fetch %s for work %s: %w", a.Name(), w.PID, err)
	}
}

// DecodeJSON unmarshals a response body, mapping empty or non-JSON bodies to
// a not-found error so every adapter shares one tolerance rule.
func DecodeJSON(body []byte, v interface{}) error {
	if len(body) == 0 {
		return fmt.Errorf("resource not found (status %d): %w", http.StatusNotFound, domain.ErrNotFound)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("resource not found (status %d): %w", http.StatusNotFound, domain.ErrNotFound)
	}
	return nil
}
