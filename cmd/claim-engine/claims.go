// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/claim-engine/internal/store"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// --- claims ---

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "List stored claims with their references",
	Long: `Claims queries stored claims by project, claim type, verification
status, or extraction batch. Each claim is shown with the references it
is linked to.`,
	RunE: runClaims,
}

func runClaims(cmd *cobra.Command, args []string) error {
	opts, err := queryOptsFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Retrieve(cmd.Context(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeJSON(os.Stdout, records)
	}
	return formatClaims(records)
}

func formatClaims(records []store.ClaimRecord) error {
	if len(records) == 0 {
		fmt.Println("No claims found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-6s  %-7s  %-14s  %-11s  %s\n", "ID", "Project", "Type", "Status", "Claim")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for _, r := range records {
		fmt.Fprintf(os.Stdout, "%-6d  %-7d  %-14s  %-11s  %s\n",
			r.ID, r.ProjectID, r.ClaimType, r.VerificationStatus, oneLine(r.Text, 60))
		for _, ref := range r.References {
			label := ref.Title
			if ref.DOI != "" {
				label += " (doi:" + ref.DOI + ")"
			}
			fmt.Fprintf(os.Stdout, "%-6s  -> [%d] %s\n", "", ref.ID, oneLine(label, 90))
		}
	}
	fmt.Fprintf(os.Stdout, "\n%d claims\n", len(records))
	return nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the claim graph to YAML or JSON",
	Long: `Export writes claims, their references, and the links between them to
stdout or --output. Supports the same filter flags as claims.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	opts, err := queryOptsFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	w := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "yaml", "":
		err = s.ExportYAML(cmd.Context(), w, opts)
	case "json":
		err = s.ExportJSON(cmd.Context(), w, opts)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "Exported to %s\n", output)
	}
	return nil
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts for the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(st)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Config prints the merged configuration as YAML with the API key masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := cfg
		if shown.Model.APIKey != "" {
			shown.Model.APIKey = "********"
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(shown)
	},
}

// --- shared helpers ---

func queryOptsFromFlags(cmd *cobra.Command) (store.QueryOptions, error) {
	projectID, _ := cmd.Flags().GetInt64("project")
	claimType, _ := cmd.Flags().GetString("type")
	status, _ := cmd.Flags().GetString("status")
	batchID, _ := cmd.Flags().GetString("batch")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := store.QueryOptions{
		ProjectID:  projectID,
		BatchID:    batchID,
		Status:     types.VerificationStatus(status),
		MaxResults: limit,
	}
	if claimType != "" {
		ct, ok := types.ParseClaimType(claimType)
		if !ok {
			return store.QueryOptions{}, fmt.Errorf("unknown claim type %q", claimType)
		}
		opts.ClaimType = ct
	}
	return opts, nil
}

func addQueryFlags(cmd *cobra.Command, limitHelp string) {
	cmd.Flags().Int64("project", 0, "filter by project ID")
	cmd.Flags().String("type", "", "filter by claim type: factual, statistical, methodological, opinion, conclusion")
	cmd.Flags().String("status", "", "filter by verification status")
	cmd.Flags().String("batch", "", "filter by extraction batch ID")
	cmd.Flags().Int("limit", 0, limitHelp)
}

func init() {
	addQueryFlags(claimsCmd, "maximum results (0 = use default)")
	claimsCmd.Flags().Bool("json", false, "output results as JSON")

	addQueryFlags(exportCmd, "maximum claims to export (0 = all)")
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	exportCmd.Flags().String("output", "", "write to this file instead of stdout")

	rootCmd.AddCommand(claimsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
}
