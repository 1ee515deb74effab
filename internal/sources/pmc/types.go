package pmc

import (
	"encoding/json"
	"strconv"
)

// flexInt tolerates numbers encoded as strings, which the upstream feed does
// for month and year fields.
type flexInt string

// UnmarshalJSON accepts both string and number encodings.
func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexInt(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n.String())
	return nil
}

// Int64 parses the value, returning 0 for anything unparseable.
func (f flexInt) Int64() int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// statsDocument is the per-DOI usage statistics document.
type statsDocument struct {
	Views []monthView `json:"views"`
}

// monthView is one month of usage for a work.
type monthView struct {
	Month    flexInt `json:"month"`
	Year     flexInt `json:"year"`
	FullText flexInt `json:"full-text"`
	PDF      flexInt `json:"pdf"`
}

// monthCount is the normalized per-month breakdown stored with the events.
type monthCount struct {
	Month int64 `json:"month"`
	Year  int64 `json:"year"`
	HTML  int64 `json:"html"`
	PDF   int64 `json:"pdf"`
	Total int64 `json:"total"`
}
