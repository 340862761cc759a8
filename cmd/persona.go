package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyper-light/recall/core/domain"
)

var (
	personaDescription string
	personaFocus       []string
	personaProjects    []string
	personaStyle       string
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage personas",
	Long: `Personas scope interaction history and personalization. Each search
runs under one persona; its memory graph never influences another's
results.`,
}

var personaCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		err = rt.personas.Create(cmd.Context(), domain.Persona{
			Name:           args[0],
			Description:    personaDescription,
			FocusAreas:     personaFocus,
			ActiveProjects: personaProjects,
			ResponseStyle:  personaStyle,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created persona %q\n", args[0])
		return nil
	},
}

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		personas, err := rt.personas.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range personas {
			fmt.Printf("%-20s uses=%-5d last=%s\n", p.Name, p.UsageCount, p.LastUsed.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var personaShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		p, err := rt.personas.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("name:        %s\n", p.Name)
		if p.Description != "" {
			fmt.Printf("description: %s\n", p.Description)
		}
		if len(p.FocusAreas) > 0 {
			fmt.Printf("focus:       %s\n", strings.Join(p.FocusAreas, ", "))
		}
		if len(p.ActiveProjects) > 0 {
			fmt.Printf("projects:    %s\n", strings.Join(p.ActiveProjects, ", "))
		}
		fmt.Printf("created:     %s\n", p.CreatedAt.Format("2006-01-02"))
		fmt.Printf("usage:       %d\n", p.UsageCount)
		return nil
	},
}

var personaUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Mark a persona as the session's active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.personas.Touch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("switched to persona %q\n", args[0])
		return nil
	},
}

func init() {
	personaCreateCmd.Flags().StringVar(&personaDescription, "description", "", "persona description")
	personaCreateCmd.Flags().StringSliceVar(&personaFocus, "focus", nil, "focus areas")
	personaCreateCmd.Flags().StringSliceVar(&personaProjects, "projects", nil, "active projects")
	personaCreateCmd.Flags().StringVar(&personaStyle, "style", "", "response style hint")

	personaCmd.AddCommand(personaCreateCmd)
	personaCmd.AddCommand(personaListCmd)
	personaCmd.AddCommand(personaShowCmd)
	personaCmd.AddCommand(personaUseCmd)
	rootCmd.AddCommand(personaCmd)
}
