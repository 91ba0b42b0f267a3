// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema coerces a language model's raw extraction output into the
// strict claims/references shape. The model is treated as an untrusted
// producer: field presence and types are checked one by one, soft problems
// are repaired and counted, and hard problems fail the whole response.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// MalformedError reports the first field whose shape made the response
// unusable. It never carries the raw model text.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", types.ErrMalformedExtraction, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", types.ErrMalformedExtraction, e.Path, e.Reason)
}

// Is makes errors.Is(err, types.ErrMalformedExtraction) hold.
func (e *MalformedError) Is(target error) bool {
	return target == types.ErrMalformedExtraction
}

func malformed(path, reason string) error {
	return &MalformedError{Path: path, Reason: reason}
}

// Validate parses raw and returns the validated extraction with counts of
// the repairs it made. Identical input always yields identical output.
func Validate(raw string) (types.ExtractionResult, types.Anomalies, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		return types.ExtractionResult{}, types.Anomalies{}, err
	}

	var v validator
	refs, err := v.references(doc["references"])
	if err != nil {
		return types.ExtractionResult{}, types.Anomalies{}, err
	}
	claims, err := v.claims(doc["claims"], len(refs))
	if err != nil {
		return types.ExtractionResult{}, types.Anomalies{}, err
	}

	return types.ExtractionResult{Claims: claims, References: refs}, v.anomalies, nil
}

// decodeObject finds a JSON object in raw. Models often wrap the object in
// a Markdown code fence or surround it with prose, so fenced blocks and the
// outermost brace span are tried after the text itself.
func decodeObject(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, malformed("", "empty response")
	}

	sawNonObject := false
	for i, candidate := range jsonCandidates(raw) {
		val, err := decodeStrict(candidate)
		if err != nil {
			continue
		}
		if obj, ok := val.(map[string]any); ok {
			return obj, nil
		}
		sawNonObject = true
		if i == 0 {
			// The whole response is valid JSON of the wrong shape; do not
			// go digging for an object nested inside it.
			break
		}
	}

	if sawNonObject {
		return nil, malformed("", "top-level value must be a JSON object")
	}
	return nil, malformed("", "response is not valid JSON")
}

func jsonCandidates(raw string) []string {
	candidates := []string{raw}
	if body, ok := fenced(raw, "```json"); ok {
		candidates = append(candidates, body)
	}
	if body, ok := fenced(raw, "```"); ok {
		candidates = append(candidates, body)
	}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		candidates = append(candidates, raw[i:j+1])
	}
	return candidates
}

// fenced returns the body of the first code block opened by marker. A
// language tag left on the opening line is dropped.
func fenced(raw, marker string) (string, bool) {
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	body := raw[start+len(marker):]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	body = body[:end]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body), true
}

func decodeStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var val any
	if err := dec.Decode(&val); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return val, nil
}

type validator struct {
	anomalies types.Anomalies
}

func (v *validator) claims(val any, refCount int) ([]types.ClaimDraft, error) {
	items, err := asArray(val, "claims")
	if err != nil {
		return nil, err
	}

	claims := make([]types.ClaimDraft, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("claims[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(path, "must be an object")
		}

		text, err := requiredString(obj, "text", path)
		if err != nil {
			return nil, err
		}
		indices, err := v.referenceIndices(obj["reference_indices"], path+".reference_indices", refCount)
		if err != nil {
			return nil, err
		}

		claims = append(claims, types.ClaimDraft{
			Text:             text,
			ClaimType:        v.claimType(obj["claim_type"]),
			PageNumber:       v.optionalInt(obj["page_number"], 1),
			ParagraphIndex:   v.optionalInt(obj["paragraph_index"], 0),
			ReferenceIndices: indices,
		})
	}
	return claims, nil
}

func (v *validator) references(val any) ([]types.ReferenceDraft, error) {
	items, err := asArray(val, "references")
	if err != nil {
		return nil, err
	}

	refs := make([]types.ReferenceDraft, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("references[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(path, "must be an object")
		}

		title, err := requiredString(obj, "title", path)
		if err != nil {
			return nil, err
		}

		refs = append(refs, types.ReferenceDraft{
			Title:   title,
			Authors: v.authors(obj["authors"]),
			Year:    v.year(obj["year"]),
			Source:  v.optionalString(obj["source"]),
			DOI:     v.doi(obj["doi"]),
			URL:     v.optionalString(obj["url"]),
		})
	}
	return refs, nil
}

// claimType defaults absent or unknown values to factual. Only a value the
// model actually supplied counts as an anomaly.
func (v *validator) claimType(val any) types.ClaimType {
	switch t := val.(type) {
	case nil:
		return types.DefaultClaimType
	case string:
		if strings.TrimSpace(t) == "" {
			return types.DefaultClaimType
		}
		if ct, ok := types.ParseClaimType(t); ok {
			return ct
		}
	}
	v.anomalies.UnknownClaimTypes++
	return types.DefaultClaimType
}

// referenceIndices keeps in-range indices in first-seen order.
func (v *validator) referenceIndices(val any, path string, refCount int) ([]int, error) {
	if val == nil {
		return []int{}, nil
	}
	items, ok := val.([]any)
	if !ok {
		return nil, malformed(path, "must be an array of integers")
	}

	seen := make(map[int]bool, len(items))
	indices := make([]int, 0, len(items))
	for j, item := range items {
		idx, ok := coerceInt(item)
		if !ok {
			return nil, malformed(fmt.Sprintf("%s[%d]", path, j), "must be an integer")
		}
		if idx < 0 || idx >= refCount {
			v.anomalies.DroppedReferenceIndices++
			continue
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices, nil
}

func (v *validator) optionalInt(val any, min int) *int {
	if val == nil {
		return nil
	}
	if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	n, ok := coerceInt(val)
	if !ok || n < min {
		v.anomalies.DiscardedFields++
		return nil
	}
	return &n
}

// yearRe matches a 4-digit year (19xx or 20xx) inside free text such as
// "(2023)" or "2021a".
var yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})`)

func (v *validator) year(val any) *int {
	if s, ok := val.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if _, ok := coerceInt(s); !ok {
			if m := yearRe.FindStringSubmatch(s); m != nil {
				y, _ := strconv.Atoi(m[1])
				return &y
			}
		}
	}
	return v.optionalInt(val, 1)
}

// authors accepts a string or a list of names.
func (v *validator) authors(val any) string {
	switch a := val.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(a)
	case []any:
		names := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				v.anomalies.DiscardedFields++
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
		}
		return strings.Join(names, ", ")
	default:
		v.anomalies.DiscardedFields++
		return ""
	}
}

func (v *validator) optionalString(val any) string {
	switch s := val.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		v.anomalies.DiscardedFields++
		return ""
	}
}

// doi normalizes DOI-like values and keeps anything else verbatim (trimmed)
// so that it is stored but never used for identity matching.
func (v *validator) doi(val any) string {
	raw := v.optionalString(val)
	if raw == "" {
		return ""
	}
	if doi, ok := NormalizeDOI(raw); ok {
		return doi
	}
	v.anomalies.InvalidDOIs++
	return raw
}

func asArray(val any, path string) ([]any, error) {
	if val == nil {
		return nil, nil
	}
	items, ok := val.([]any)
	if !ok {
		return nil, malformed(path, "must be an array")
	}
	return items, nil
}

func requiredString(obj map[string]any, key, path string) (string, error) {
	s, ok := obj[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", malformed(path+"."+key, "must be a non-empty string")
	}
	return strings.TrimSpace(s), nil
}

// coerceInt accepts integral JSON numbers and numeric strings.
func coerceInt(val any) (int, bool) {
	var f float64
	switch n := val.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
