// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/claim-engine/internal/extract"
	"github.com/pdiddy/claim-engine/internal/identity"
	"github.com/pdiddy/claim-engine/internal/pipeline"
	"github.com/pdiddy/claim-engine/pkg/types"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract claims and references from text into a project",
	Long: `Extract sends the text of file (or stdin when file is omitted or "-")
to the model, validates the result, and stores the claims and references
in the project given by --project. The batch is all or nothing.

With --idempotency-key, repeating the command after a successful run
prints the stored result instead of creating claims again.

With --dry-run nothing is written: the extraction is printed together with
the reference each draft would reuse or create.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	projectID, _ := cmd.Flags().GetInt64("project")
	key, _ := cmd.Flags().GetString("idempotency-key")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := newModelClient(nil)
	if err != nil {
		return err
	}

	if dryRun {
		return previewExtract(ctx, extract.New(client, logger), s, text, jsonOutput)
	}

	res, err := newPipeline(client, s, nil).Run(ctx, pipeline.Request{
		ProjectID:      projectID,
		Text:           text,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(os.Stdout, res)
	}
	printResult(res)
	return nil
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func printResult(res pipeline.Result) {
	if res.Replayed {
		fmt.Printf("Batch %s already stored; showing the stored result.\n", res.BatchID)
	} else {
		fmt.Printf("Batch %s stored in project %d.\n", res.BatchID, res.ProjectID)
	}
	fmt.Printf("Claims created:          %d\n", res.ClaimsCreated)
	fmt.Printf("References created:      %d\n", res.ReferencesCreated)
	fmt.Printf("References deduplicated: %d\n", res.ReferencesDeduplicated)
	if n := res.Anomalies.Total(); n > 0 {
		fmt.Printf("Repaired anomalies:      %d (unknown types %d, dropped indices %d, invalid DOIs %d, discarded fields %d)\n",
			n, res.Anomalies.UnknownClaimTypes, res.Anomalies.DroppedReferenceIndices,
			res.Anomalies.InvalidDOIs, res.Anomalies.DiscardedFields)
	}
	for _, c := range res.Claims {
		fmt.Printf("  [%d] %-14s %s\n", c.ID, c.ClaimType, oneLine(c.Text, 80))
	}
}

// --- dry run ---

type previewReference struct {
	Draft       types.ReferenceDraft `json:"draft"`
	Action      string               `json:"action"`
	ReferenceID int64                `json:"reference_id,omitempty"`
	Identity    string               `json:"identity,omitempty"`
}

type preview struct {
	Extraction types.ExtractionResult `json:"extraction_result"`
	Anomalies  types.Anomalies        `json:"anomalies"`
	References []previewReference     `json:"references"`
}

func previewExtract(ctx context.Context, o *extract.Orchestrator, lookup identity.Lookup, text string, jsonOutput bool) error {
	out, err := o.Extract(ctx, text)
	if err != nil {
		return err
	}
	plan, err := identity.NewResolver(logger).Preview(ctx, out.Result.References, lookup)
	if err != nil {
		return err
	}

	p := preview{Extraction: out.Result, Anomalies: out.Anomalies}
	for i, r := range plan {
		pr := previewReference{Draft: out.Result.References[i], Action: r.Action.String(), Identity: r.Key.Identity()}
		if r.Action == identity.ActionReuse && r.ReferenceID > 0 {
			pr.ReferenceID = r.ReferenceID
		}
		p.References = append(p.References, pr)
	}

	if jsonOutput {
		return writeJSON(os.Stdout, p)
	}
	fmt.Printf("Dry run: %d claims, %d references (nothing stored)\n",
		len(out.Result.Claims), len(out.Result.References))
	for i, r := range p.References {
		target := "new"
		if r.ReferenceID > 0 {
			target = fmt.Sprintf("#%d", r.ReferenceID)
		} else if r.Action == identity.ActionReuse.String() {
			target = "earlier draft"
		}
		fmt.Printf("  ref %d  %-6s %-14s %s\n", i, r.Action, target, oneLine(r.Draft.Title, 60))
	}
	return nil
}

// --- shared helpers ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func init() {
	extractCmd.Flags().Int64("project", 0, "project ID that receives the claims (required)")
	extractCmd.Flags().String("idempotency-key", "", "replay the stored result when this key already committed")
	extractCmd.Flags().Bool("dry-run", false, "extract and resolve references without storing anything")
	extractCmd.Flags().Bool("json", false, "print the result as JSON")
	_ = extractCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(extractCmd)
}
