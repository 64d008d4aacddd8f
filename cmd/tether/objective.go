package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/roadmap"
	"github.com/tetherhq/tether/internal/ui"
)

var (
	evidencePlan     int
	evidencePR       int
	evidenceOverride string
	evidenceNotes    string
)

var objectiveCmd = &cobra.Command{
	Use:   "objective",
	Short: "Manage objective roadmaps",
}

var objectiveNextCmd = &cobra.Command{
	Use:   "next <objective>",
	Short: "Show the next actionable roadmap step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		step, ok, err := engine.NextStep(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"objective": id, "next": step, "found": ok})
			return nil
		}
		if !ok {
			fmt.Printf("%s no pending steps on objective #%d\n", ui.MutedStyle.Render(ui.IconSkipped), id)
			return nil
		}
		fmt.Printf("%s next step on objective #%d: %s\n", ui.ActiveStyle.Render(ui.IconActive), id, ui.AccentStyle.Render(step))
		return nil
	},
}

var objectiveEvidenceCmd = &cobra.Command{
	Use:   "evidence <objective> <step>",
	Short: "Record evidence on a roadmap step",
	Long: `Evidence updates only the fields whose flags are given. Recording a PR
requires the --plan flag as well (pass --plan 0 to clear the plan slot):
a done step with no visible plan provenance is almost always a mistake.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		var ev roadmap.Evidence
		if cmd.Flags().Changed("plan") {
			ev.Plan = roadmap.Ref(evidencePlan)
		}
		if cmd.Flags().Changed("pr") {
			ev.PR = roadmap.Ref(evidencePR)
		}
		if cmd.Flags().Changed("override") {
			ev.Override = roadmap.Set(roadmap.Override(evidenceOverride))
		}
		if cmd.Flags().Changed("notes") {
			ev.Notes = &evidenceNotes
		}
		if err := engine.SetStepEvidence(cmd.Context(), id, args[1], ev); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"objective": id, "step": args[1]})
			return nil
		}
		fmt.Printf("%s recorded evidence on %s (objective #%d)\n", ui.DoneStyle.Render(ui.IconDone), args[1], id)
		return nil
	},
}

var objectiveShowCmd = &cobra.Command{
	Use:   "show <objective>",
	Short: "Show the roadmap with computed statuses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		r, schema, err := engine.Load(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"objective": id, "schema": schema, "roadmap": r})
			return nil
		}
		for _, phase := range r.Phases {
			title := fmt.Sprintf("Phase %d", phase.Number)
			if phase.Title != "" {
				title += ": " + phase.Title
			}
			fmt.Printf("%s\n", ui.HeaderStyle.Render(title))
			for i := range phase.Steps {
				s := &phase.Steps[i]
				status := s.Status()
				line := fmt.Sprintf("  %s %s  %s", ui.StatusIcon(string(status)), s.ID, s.Description)
				if s.Plan != 0 {
					line += ui.MutedStyle.Render(fmt.Sprintf("  plan #%d", s.Plan))
				}
				if s.PR != 0 {
					line += ui.MutedStyle.Render(fmt.Sprintf("  PR #%d", s.PR))
				}
				fmt.Println(line)
			}
		}
		if schema == roadmap.SchemaLegacy {
			fmt.Printf("\n%s\n", ui.MutedStyle.Render("legacy roadmap table; run `tether objective migrate` to upgrade"))
		}
		return nil
	},
}

var objectiveMigrateCmd = &cobra.Command{
	Use:   "migrate <objective>",
	Short: "Upgrade a legacy roadmap table to the current format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		changed, err := engine.Migrate(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"objective": id, "migrated": changed})
			return nil
		}
		if changed {
			fmt.Printf("%s migrated objective #%d\n", ui.DoneStyle.Render(ui.IconDone), id)
		} else {
			fmt.Printf("%s objective #%d already current\n", ui.MutedStyle.Render(ui.IconSkipped), id)
		}
		return nil
	},
}

var objectiveCloseCmd = &cobra.Command{
	Use:   "close <objective>",
	Short: "Close the objective if every step is done or skipped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		closed, err := engine.CloseIfComplete(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"objective": id, "closed": closed})
			return nil
		}
		if closed {
			fmt.Printf("%s closed objective #%d\n", ui.DoneStyle.Render(ui.IconDone), id)
		} else {
			fmt.Printf("%s objective #%d still has open steps\n", ui.ActiveStyle.Render(ui.IconActive), id)
		}
		return nil
	},
}

func init() {
	objectiveEvidenceCmd.Flags().IntVar(&evidencePlan, "plan", 0, "Plan issue providing the evidence (0 clears)")
	objectiveEvidenceCmd.Flags().IntVar(&evidencePR, "pr", 0, "Pull request providing the evidence (0 clears)")
	objectiveEvidenceCmd.Flags().StringVar(&evidenceOverride, "override", "", "Status override: blocked, skipped, or \"\" to clear")
	objectiveEvidenceCmd.Flags().StringVar(&evidenceNotes, "notes", "", "Free-form note on the step")

	objectiveCmd.AddCommand(objectiveNextCmd)
	objectiveCmd.AddCommand(objectiveEvidenceCmd)
	objectiveCmd.AddCommand(objectiveShowCmd)
	objectiveCmd.AddCommand(objectiveMigrateCmd)
	objectiveCmd.AddCommand(objectiveCloseCmd)
}
