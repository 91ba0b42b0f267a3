// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"time"
)

// nullable maps the empty string to a JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON renders absent optional fields as null instead of "".
func (r ReferenceDraft) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Title   string  `json:"title"`
		Authors *string `json:"authors"`
		Year    *int    `json:"year"`
		Source  *string `json:"source"`
		DOI     *string `json:"doi"`
		URL     *string `json:"url"`
	}{r.Title, nullable(r.Authors), r.Year, nullable(r.Source), nullable(r.DOI), nullable(r.URL)})
}

// MarshalJSON renders absent optional fields as null instead of "".
func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        int64     `json:"id"`
		Title     string    `json:"title"`
		Authors   *string   `json:"authors"`
		Year      *int      `json:"year"`
		Source    *string   `json:"source"`
		DOI       *string   `json:"doi"`
		URL       *string   `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	}{r.ID, r.Title, nullable(r.Authors), r.Year, nullable(r.Source), nullable(r.DOI), nullable(r.URL), r.CreatedAt})
}
