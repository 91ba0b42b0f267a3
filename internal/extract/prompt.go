// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"text/template"

	"github.com/pdiddy/claim-engine/internal/llm"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// systemPromptTmpl describes the output contract. The claim types are
// rendered from types.ClaimTypes so the prompt and validator never drift.
var systemPromptTmpl = template.Must(template.New("system").Parse(`You are an expert at analyzing scientific and academic text to extract claims and the references that support them.

Your task is to:
1. Identify factual claims, statements, or assertions made in the text.
2. Extract every bibliographic reference mentioned in the text.
3. Link each claim to the references that support it.

For each claim, set claim_type to one of:
{{- range .ClaimTypes}}
- {{.}}
{{- end}}

For each reference, give as much as is available: title, authors (one string, comma separated), year, source (journal, conference, book), doi, url.

reference_indices are zero-based positions in the "references" array of your own answer.
page_number (1-based) and paragraph_index (0-based) are optional.

Return ONLY one JSON object with this exact structure and no text before or after it:
{
  "claims": [
    {"text": "claim text", "claim_type": "factual", "page_number": 1, "paragraph_index": 0, "reference_indices": [0]}
  ],
  "references": [
    {"title": "Reference title", "authors": "Author1, Author2", "year": 2023, "source": "Journal Name", "doi": "10.1234/example", "url": "https://example.com"}
  ]
}

Be thorough but precise. Only extract clear claims and well-defined references.`))

var userPromptTmpl = template.Must(template.New("user").Parse(`Extract claims and references from the following text:

{{.Text}}`))

// renderPrompt executes both templates for text. Output depends only on
// text.
func renderPrompt(text string) (llm.Prompt, error) {
	var sys, usr bytes.Buffer
	if err := systemPromptTmpl.Execute(&sys, struct{ ClaimTypes []types.ClaimType }{types.ClaimTypes}); err != nil {
		return llm.Prompt{}, err
	}
	if err := userPromptTmpl.Execute(&usr, struct{ Text string }{text}); err != nil {
		return llm.Prompt{}, err
	}
	return llm.Prompt{System: sys.String(), User: usr.String()}, nil
}
