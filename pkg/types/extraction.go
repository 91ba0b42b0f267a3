// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ClaimDraft is a validated claim as returned by the model, before it is
// persisted.
type ClaimDraft struct {
	Text           string    `json:"text" yaml:"text"`
	ClaimType      ClaimType `json:"claim_type" yaml:"claim_type"`
	PageNumber     *int      `json:"page_number" yaml:"page_number"`
	ParagraphIndex *int      `json:"paragraph_index" yaml:"paragraph_index"`

	// ReferenceIndices are zero-based positions in the same response's
	// reference list. The validator guarantees every entry is in range.
	ReferenceIndices []int `json:"reference_indices" yaml:"reference_indices"`
}

// ReferenceDraft is a validated reference as returned by the model. Empty
// strings stand for absent values.
type ReferenceDraft struct {
	Title   string `json:"title" yaml:"title"`
	Authors string `json:"authors" yaml:"authors,omitempty"`
	Year    *int   `json:"year" yaml:"year"`
	Source  string `json:"source" yaml:"source,omitempty"`
	DOI     string `json:"doi" yaml:"doi,omitempty"`
	URL     string `json:"url" yaml:"url,omitempty"`
}

// ExtractionResult is the strict shape every model response is coerced into.
type ExtractionResult struct {
	Claims     []ClaimDraft     `json:"claims" yaml:"claims"`
	References []ReferenceDraft `json:"references" yaml:"references"`
}

// Anomalies counts soft problems the validator repaired instead of failing.
type Anomalies struct {
	UnknownClaimTypes       int `json:"unknown_claim_types" yaml:"unknown_claim_types"`
	DroppedReferenceIndices int `json:"dropped_reference_indices" yaml:"dropped_reference_indices"`
	InvalidDOIs             int `json:"invalid_dois" yaml:"invalid_dois"`
	DiscardedFields         int `json:"discarded_fields" yaml:"discarded_fields"`
}

// Total returns the number of anomalies of every kind.
func (a Anomalies) Total() int {
	return a.UnknownClaimTypes + a.DroppedReferenceIndices + a.InvalidDOIs + a.DiscardedFields
}
