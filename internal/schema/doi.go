// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"regexp"
	"strings"
)

// doiPattern is deliberately loose: any "10.<digits>/<non-space>" string.
// Registrant codes shorter than four digits show up in model output and
// are accepted.
var doiPattern = regexp.MustCompile(`^10\.\d+(?:\.\d+)*/\S+$`)

// doiPrefixes are stripped, in order, before matching.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeDOI trims and lower-cases raw, strips resolver URL and "doi:"
// prefixes, and reports whether the result looks like a DOI. Only a
// normalized DOI with ok == true may be used for identity matching.
func NormalizeDOI(raw string) (string, bool) {
	doi := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range doiPrefixes {
		if strings.HasPrefix(doi, p) {
			doi = strings.TrimSpace(strings.TrimPrefix(doi, p))
		}
	}
	if !doiPattern.MatchString(doi) {
		return "", false
	}
	return doi, true
}
