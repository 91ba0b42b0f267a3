// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects (create, list)",
	Long: `Every extracted claim belongs to a project. References are shared
across projects.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.CreateProject(cmd.Context(), strings.Join(args, " "), description)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %d (%s)\n", p.ID, p.Name)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		projects, err := s.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(os.Stdout, projects)
		}
		if len(projects) == 0 {
			fmt.Println("No projects. Create one with: claim-engine project create <name>")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%-6s  %-30s  %-8s  %s\n", "ID", "Name", "Status", "Created")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
		for _, p := range projects {
			fmt.Fprintf(os.Stdout, "%-6d  %-30s  %-8s  %s\n",
				p.ID, oneLine(p.Name, 30), p.Status, p.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().String("description", "", "project description")
	projectListCmd.Flags().Bool("json", false, "output as JSON")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)

	rootCmd.AddCommand(projectCmd)
}
