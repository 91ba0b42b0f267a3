// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package identity decides whether an extracted reference is one the store
// already holds. A usable DOI is authoritative; without one, a hash of the
// normalized title and first author stands in for "same work".
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/pdiddy/claim-engine/internal/schema"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// NormalizeText lower-cases s, removes every rune that is not a letter,
// digit, underscore, or whitespace, and collapses whitespace runs to a
// single space. Diacritics are kept as-is.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FirstAuthor returns the normalized leading token of the first author in a
// free-text author list such as "Smith, J., Doe, A.", "Smith et al." or
// "Jane Smith and John Doe".
func FirstAuthor(authors string) string {
	first := authors
	if i := strings.IndexAny(first, ",;"); i >= 0 {
		first = first[:i]
	}
	lower := strings.ToLower(first)
	for _, sep := range []string{" et al", " and ", " & "} {
		if i := strings.Index(lower, sep); i >= 0 {
			first, lower = first[:i], lower[:i]
		}
	}
	fields := strings.Fields(NormalizeText(first))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// TitleKey hashes the normalized title and first author. It returns "" when
// the title normalizes to nothing, so sparse references never share a key.
func TitleKey(title, authors string) string {
	t := NormalizeText(title)
	if t == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(t + "\x1f" + FirstAuthor(authors)))
	return hex.EncodeToString(sum[:])
}

// Key is the pair of identity signals computed for one reference.
type Key struct {
	// DOI is the normalized DOI, empty when none is usable.
	DOI string

	// Title is the title+first-author hash, empty for blank titles.
	Title string
}

// KeyOf computes the identity signals of a reference draft.
func KeyOf(ref types.ReferenceDraft) Key {
	var k Key
	if doi, ok := schema.NormalizeDOI(ref.DOI); ok {
		k.DOI = doi
	}
	k.Title = TitleKey(ref.Title, ref.Authors)
	return k
}

// Identity returns the single string stored under the unique identity
// column: the DOI when usable, otherwise the title key. An empty result
// means the reference has no identity and must always be created.
func (k Key) Identity() string {
	switch {
	case k.DOI != "":
		return "doi:" + k.DOI
	case k.Title != "":
		return "ta:" + k.Title
	default:
		return ""
	}
}
