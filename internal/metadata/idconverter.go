package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

// PersistentIdentifiers queries the PMC identifier converter for the other
// persistent identifiers of a work known by one of them. The converter
// requires a tool name and contact email with every request; the returned
// PMCID has its "PMC" prefix stripped to match how identifiers are stored.
func (s *Service) PersistentIdentifiers(ctx context.Context, id string, idType domain.IDType) (map[domain.IDType]string, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "identifier is required")
	}
	switch idType {
	case domain.IDTypeDOI, domain.IDTypePMID, domain.IDTypePMCID:
	default:
		return nil, domain.NewValidationError("idtype", fmt.Sprintf("unsupported identifier type %q", idType))
	}
	if idType == domain.IDTypePMCID {
		id = "PMC" + id
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("idtype", string(idType))
	params.Set("format", "json")
	params.Set("tool", "ScholarMetrics - "+s.config.ServerName)
	params.Set("email", s.config.AdminEmail)
	reqURL := s.config.IDConverterURL + "?" + params.Encode()

	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("id converter lookup %s: %w", id, err)
	}

	var resp idConverterResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" || len(resp.Records) == 0 {
		return nil, domain.NewNotFoundError("persistent identifiers", id)
	}
	rec := resp.Records[0]
	if rec.Status == "error" {
		return nil, domain.NewNotFoundError("persistent identifiers", id)
	}

	ids := make(map[domain.IDType]string, 3)
	if rec.DOI != "" {
		ids[domain.IDTypeDOI] = strings.ToUpper(rec.DOI)
	}
	if rec.PMID != "" {
		ids[domain.IDTypePMID] = rec.PMID
	}
	if rec.PMCID != "" {
		ids[domain.IDTypePMCID] = strings.TrimPrefix(rec.PMCID, "PMC")
	}
	return ids, nil
}
