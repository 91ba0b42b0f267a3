// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strings"
	"time"
)

// ClaimType categorizes a claim extracted from a document.
type ClaimType string

const (
	ClaimFactual        ClaimType = "factual"
	ClaimStatistical    ClaimType = "statistical"
	ClaimMethodological ClaimType = "methodological"
	ClaimOpinion        ClaimType = "opinion"
	ClaimConclusion     ClaimType = "conclusion"
)

// DefaultClaimType is assigned when the model omits or garbles claim_type.
const DefaultClaimType = ClaimFactual

// ClaimTypes lists the accepted claim types in prompt order.
var ClaimTypes = []ClaimType{
	ClaimFactual,
	ClaimStatistical,
	ClaimMethodological,
	ClaimOpinion,
	ClaimConclusion,
}

// ParseClaimType matches s case-insensitively against the known claim types.
func ParseClaimType(s string) (ClaimType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ct := range ClaimTypes {
		if string(ct) == s {
			return ct, true
		}
	}
	return "", false
}

// VerificationStatus tracks manual review of a claim.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusVerified   VerificationStatus = "verified"
	StatusDisputed   VerificationStatus = "disputed"
)

// Project owns claims. Documents and the UI hang off projects too, but
// those live outside this repository.
type Project struct {
	ID          int64     `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Status      string    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Claim is a persisted statement belonging to exactly one project.
type Claim struct {
	ID                 int64              `json:"id" yaml:"id"`
	ProjectID          int64              `json:"project_id" yaml:"project_id"`
	Text               string             `json:"text" yaml:"text"`
	ClaimType          ClaimType          `json:"claim_type" yaml:"claim_type"`
	PageNumber         *int               `json:"page_number" yaml:"page_number"`
	ParagraphIndex     *int               `json:"paragraph_index" yaml:"paragraph_index"`
	VerificationStatus VerificationStatus `json:"verification_status" yaml:"verification_status"`

	// BatchID names the extraction batch that created the claim. Empty for
	// claims created by hand.
	BatchID string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`

	// ReferenceIDs lists the linked references in link creation order.
	ReferenceIDs []int64 `json:"reference_ids" yaml:"reference_ids"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Reference is a bibliographic entity shared by every project.
type Reference struct {
	ID        int64     `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Authors   string    `json:"authors" yaml:"authors,omitempty"`
	Year      *int      `json:"year" yaml:"year"`
	Source    string    `json:"source" yaml:"source,omitempty"`
	DOI       string    `json:"doi" yaml:"doi,omitempty"`
	URL       string    `json:"url" yaml:"url,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ClaimReference links a claim to a reference. At most one row exists per
// (ClaimID, ReferenceID) pair.
type ClaimReference struct {
	ClaimID        int64    `json:"claim_id" yaml:"claim_id"`
	ReferenceID    int64    `json:"reference_id" yaml:"reference_id"`
	RelevanceScore *float64 `json:"relevance_score,omitempty" yaml:"relevance_score,omitempty"`
	Context        *string  `json:"context,omitempty" yaml:"context,omitempty"`
}

// ExtractionBatch records a committed extraction run so that retries
// carrying the same idempotency key replay instead of re-creating claims.
type ExtractionBatch struct {
	ID                     string `json:"id" yaml:"id"`
	ProjectID              int64  `json:"project_id" yaml:"project_id"`
	IdempotencyKey         string `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
	ClaimsCreated          int    `json:"claims_created" yaml:"claims_created"`
	ReferencesCreated      int    `json:"references_created" yaml:"references_created"`
	ReferencesDeduplicated int    `json:"references_deduplicated" yaml:"references_deduplicated"`

	// ReferenceIDs holds the resolved reference of each draft, by draft
	// position. An ID repeats when drafts resolved to the same reference.
	ReferenceIDs []int64 `json:"reference_ids" yaml:"reference_ids"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
