package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/claim-engine/internal/llm"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// --- mock client ---

type mockClient struct {
	response string
	err      error
	calls    int
	prompts  []llm.Prompt
}

func (m *mockClient) Complete(_ context.Context, p llm.Prompt) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, p)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockClient) Ping(context.Context) error { return m.err }

// --- renderPrompt ---

func TestRenderPrompt(t *testing.T) {
	p, err := renderPrompt("Machine learning improves accuracy.")
	if err != nil {
		t.Fatalf("renderPrompt: %v", err)
	}
	if !strings.HasSuffix(p.User, "Machine learning improves accuracy.") {
		t.Errorf("user prompt does not end with the text: %q", p.User)
	}
	for _, ct := range types.ClaimTypes {
		if !strings.Contains(p.System, "- "+string(ct)) {
			t.Errorf("system prompt missing claim type %q", ct)
		}
	}
	for _, want := range []string{"reference_indices", "zero-based", "ONLY one JSON object"} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	again, _ := renderPrompt("Machine learning improves accuracy.")
	if again != p {
		t.Error("prompt rendering is not deterministic")
	}
}

// --- Extract ---

func TestExtractSuccess(t *testing.T) {
	client := &mockClient{response: `{
		"claims": [{"text": "Machine learning improves accuracy.", "reference_indices": [0]}],
		"references": [{"title": "Accuracy", "authors": "Smith, J.", "year": 2023, "doi": "10.1/x"}]
	}`}

	out, err := New(client, nil).Extract(context.Background(), "Machine learning improves accuracy (Smith et al., 2023).")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
	if len(out.Result.Claims) != 1 || len(out.Result.References) != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
	if out.Result.Claims[0].ClaimType != types.ClaimFactual {
		t.Errorf("claim_type = %q, want factual", out.Result.Claims[0].ClaimType)
	}
	if out.Raw != client.response {
		t.Error("raw output not returned")
	}
}

func TestExtractEmptyTextSkipsModel(t *testing.T) {
	client := &mockClient{response: "{}"}
	for _, text := range []string{"", "  \n\t "} {
		_, err := New(client, nil).Extract(context.Background(), text)
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Extract(%q) error = %v, want ErrInvalidInput", text, err)
		}
	}
	if client.calls != 0 {
		t.Errorf("model called %d times for empty text", client.calls)
	}
}

func TestExtractPropagatesClientErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unavailable", fmt.Errorf("%w: connection refused", types.ErrModelUnavailable)},
		{"malformed", fmt.Errorf("%w: no choices", types.ErrMalformedExtraction)},
		{"canceled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{err: tt.err}
			_, err := New(client, nil).Extract(context.Background(), "some text")
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want wrapping %v", err, tt.err)
			}
			if client.calls != 1 {
				t.Errorf("calls = %d, want exactly 1", client.calls)
			}
		})
	}
}

func TestExtractMalformedLogsTruncatedRaw(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	raw := "I could not find any claims. " + strings.Repeat("x", 5000)
	client := &mockClient{response: raw}

	out, err := New(client, zap.New(core)).Extract(context.Background(), "text")
	if !errors.Is(err, types.ErrMalformedExtraction) {
		t.Fatalf("error = %v, want ErrMalformedExtraction", err)
	}
	if strings.Contains(err.Error(), "I could not find") {
		t.Error("error message contains raw model output")
	}
	if out.Raw != raw {
		t.Error("raw output should be returned alongside the error")
	}

	entries := logs.FilterMessage("model output rejected").All()
	if len(entries) != 1 {
		t.Fatalf("got %d rejection log entries, want 1", len(entries))
	}
	logged, _ := entries[0].ContextMap()["raw"].(string)
	if len(logged) > maxLoggedRaw+len("…") {
		t.Errorf("logged raw length = %d, want <= %d", len(logged), maxLoggedRaw)
	}
	if !strings.HasPrefix(logged, "I could not find") {
		t.Errorf("logged raw = %q", logged[:40])
	}
}

func TestExtractLogsAnomalies(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := &mockClient{response: `{"claims": [{"text": "a", "claim_type": "rumor", "reference_indices": [3]}]}`}

	out, err := New(client, zap.New(core)).Extract(context.Background(), "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.Anomalies.UnknownClaimTypes != 1 || out.Anomalies.DroppedReferenceIndices != 1 {
		t.Errorf("anomalies = %+v", out.Anomalies)
	}
	if logs.FilterMessage("model output repaired").Len() != 1 {
		t.Error("expected one anomaly warning")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	// "é" is two bytes; cutting inside it must back off to the rune start.
	if got := truncate("aé", 2); got != "a…" {
		t.Errorf("truncate multibyte = %q", got)
	}
	if got := truncate("a€b", 3); got != "a…" {
		t.Errorf("truncate three-byte rune = %q", got)
	}
	if got := truncate("€€", 3); got != "€…" {
		t.Errorf("truncate on rune boundary = %q", got)
	}
}
