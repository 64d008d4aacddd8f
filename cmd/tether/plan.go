package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/dispatch"
	"github.com/tetherhq/tether/internal/plan"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/ui"
)

var (
	planTitle     string
	planBodyFile  string
	planSteps     int
	planObjective int
	planActor     string
	planAwait     bool
	planCloseNote string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plan lifecycles",
}

var planNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a plan issue with a lifecycle header",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readBodyInput(planBodyFile)
		if err != nil {
			return err
		}
		iss, err := machine.Create(cmd.Context(), planTitle, body, resolveActor(), planSteps, planObjective)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": iss.Number, "phase": plan.PhaseCreated})
			return nil
		}
		fmt.Printf("%s created plan #%d (%d steps)\n", ui.DoneStyle.Render(ui.IconDone), iss.Number, planSteps)
		return nil
	},
}

var planSubmitCmd = &cobra.Command{
	Use:   "submit <plan>",
	Short: "Submit a plan for execution",
	Long: `Submit validates the plan, pins its body digest, and records a fresh
dispatch with a new correlation token. Submitting an already-dispatched
plan re-dispatches it in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		res, err := machine.Submit(cmd.Context(), id, resolveActor())
		if err != nil {
			return err
		}

		if _, err := coord.Start(cmd.Context(), id, res.Token); err != nil {
			return err
		}

		var run *dispatch.Run
		if planAwait {
			run, err = coord.AwaitRun(cmd.Context(), res.Token)
			if errors.Is(err, dispatch.ErrRunNotFound) {
				// Failed to observe, not failed to execute: report and move on.
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			} else if err != nil {
				return err
			}
		}

		if jsonOutput {
			out := map[string]interface{}{"plan": res.PlanID, "phase": res.Phase, "token": res.Token}
			if run != nil {
				out["run"] = run
			}
			outputJSON(out)
			return nil
		}
		fmt.Printf("%s submitted plan #%d (token %s)\n", ui.DoneStyle.Render(ui.IconDone), res.PlanID, ui.AccentStyle.Render(res.Token))
		if run != nil {
			fmt.Printf("  run %s: %s\n", run.ID, run.Status)
		}
		return nil
	},
}

var planAdvanceCmd = &cobra.Command{
	Use:   "advance <plan> <phase>",
	Short: "Advance a plan to the next lifecycle phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		if err := machine.Advance(cmd.Context(), id, plan.Phase(args[1])); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": id, "phase": args[1]})
			return nil
		}
		fmt.Printf("%s plan #%d is now %s\n", ui.StatusIcon(args[1]), id, args[1])
		return nil
	},
}

var planProgressCmd = &cobra.Command{
	Use:   "progress <plan> <completed>",
	Short: "Record completed steps on a plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		completed, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		if err := machine.RecordProgress(cmd.Context(), id, completed); err != nil {
			return err
		}
		h, err := machine.Header(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": id, "steps_done": h.StepsDone, "steps_total": h.StepsTotal, "phase": h.Phase})
			return nil
		}
		fmt.Printf("%s plan #%d: %d/%d steps (%s)\n", ui.StatusIcon(string(h.Phase)), id, h.StepsDone, h.StepsTotal, h.Phase)
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan>",
	Short: "Show a plan's lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		h, err := machine.Header(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(h)
			return nil
		}
		fmt.Printf("%s\n", ui.HeaderStyle.Render(fmt.Sprintf("Plan #%d", id)))
		fmt.Printf("  %s %s\n", ui.StatusIcon(string(h.Phase)), h.Phase)
		fmt.Printf("  steps: %d/%d\n", h.StepsDone, h.StepsTotal)
		if h.Objective != 0 {
			fmt.Printf("  objective: #%d\n", h.Objective)
		}
		if h.Dispatch != nil {
			fmt.Printf("  dispatched: %s by %s (token %s)\n",
				h.Dispatch.At.Format("2006-01-02 15:04"), h.Dispatch.By, ui.AccentStyle.Render(h.Dispatch.RunToken))
		}
		if h.ReviewPR != 0 {
			fmt.Printf("  review PR: #%d\n", h.ReviewPR)
		}
		if h.ClosedNote != "" {
			fmt.Printf("  closed: %s\n", ui.MutedStyle.Render(h.ClosedNote))
		}
		return nil
	},
}

var planCloseCmd = &cobra.Command{
	Use:   "close <plan>",
	Short: "Close a plan without merging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		if err := machine.Close(cmd.Context(), id, planCloseNote); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": id, "phase": plan.PhaseClosed})
			return nil
		}
		fmt.Printf("%s closed plan #%d\n", ui.MutedStyle.Render(ui.IconSkipped), id)
		return nil
	},
}

var planBranchCmd = &cobra.Command{
	Use:   "branch <plan>",
	Short: "Ensure the plan's linked work branch exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		name, created, err := machine.EnsureBranch(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": id, "branch": name, "created": created})
			return nil
		}
		verb := "found"
		if created {
			verb = "created"
		}
		fmt.Printf("%s %s branch %s\n", ui.DoneStyle.Render(ui.IconDone), verb, ui.AccentStyle.Render(name))
		return nil
	},
}

var planReviewCmd = &cobra.Command{
	Use:   "review <plan>",
	Short: "Record the review PR for a plan's branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePlanID(args[0])
		if err != nil {
			return err
		}
		pr, err := machine.EnsureReviewPR(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no pull request found for plan #%d's branch yet", id)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": id, "review_pr": pr})
			return nil
		}
		fmt.Printf("%s plan #%d review PR is #%d\n", ui.DoneStyle.Render(ui.IconDone), id, pr)
		return nil
	},
}

func parsePlanID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid plan number %q", arg)
	}
	return id, nil
}

// readBodyInput reads the plan body from a file, or stdin when path is "-".
func readBodyInput(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--body-file is required")
	}
	if path == "-" {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read body file: %w", err)
	}
	return string(data), nil
}

// resolveActor picks the audit identity: --actor, then $TETHER_ACTOR, then $USER.
func resolveActor() string {
	if planActor != "" {
		return planActor
	}
	if a := os.Getenv("TETHER_ACTOR"); a != "" {
		return a
	}
	return os.Getenv("USER")
}

func init() {
	planNewCmd.Flags().StringVar(&planTitle, "title", "", "Plan title")
	planNewCmd.Flags().StringVar(&planBodyFile, "body-file", "", "Path to the plan body (\"-\" for stdin)")
	planNewCmd.Flags().IntVar(&planSteps, "steps", 1, "Total number of steps in the plan")
	planNewCmd.Flags().IntVar(&planObjective, "objective", 0, "Objective issue this plan serves")
	_ = planNewCmd.MarkFlagRequired("title")

	planSubmitCmd.Flags().BoolVar(&planAwait, "await", false, "Poll until the dispatched run is observed")
	planCloseCmd.Flags().StringVar(&planCloseNote, "note", "", "Reason the plan is being closed")

	planCmd.PersistentFlags().StringVar(&planActor, "actor", "", "Actor name for the audit trail (default: $TETHER_ACTOR, $USER)")

	planCmd.AddCommand(planNewCmd)
	planCmd.AddCommand(planSubmitCmd)
	planCmd.AddCommand(planAdvanceCmd)
	planCmd.AddCommand(planProgressCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planCloseCmd)
	planCmd.AddCommand(planBranchCmd)
	planCmd.AddCommand(planReviewCmd)
}
