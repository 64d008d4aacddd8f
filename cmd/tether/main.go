package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/debug"
	"github.com/tetherhq/tether/internal/dispatch"
	"github.com/tetherhq/tether/internal/plan"
	"github.com/tetherhq/tether/internal/roadmap"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/telemetry"
)

var (
	jsonOutput  bool
	verboseFlag bool

	cfg     *config.Config
	gh      *store.GitHub
	machine *plan.Machine
	engine  *roadmap.Engine
	coord   *dispatch.Coordinator
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "tether - plan and objective state in your issue tracker",
	Long: `Tether keeps plan lifecycles and objective roadmaps as durable state
inside GitHub issues. Machine state travels in fenced metadata blocks;
humans read the same issues untouched.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := telemetry.Init(cmd.Context(), "tether", Version); err != nil {
			return err
		}

		if isNoStoreCommand(cmd) {
			return nil
		}
		if cfg.StoreOwner == "" || cfg.StoreRepo == "" {
			return fmt.Errorf("store_owner and store_repo must be configured (tether.yaml or TETHER_STORE_OWNER/TETHER_STORE_REPO)")
		}
		if cfg.StoreToken == "" {
			return fmt.Errorf("store_token must be configured (tether.yaml or TETHER_STORE_TOKEN)")
		}

		gh = store.NewGitHub(cfg.StoreToken, cfg.StoreOwner, cfg.StoreRepo)
		gh.RetryMaxElapsed = cfg.RetryMaxElapsed
		machine = plan.NewMachine(gh, cfg)
		engine = roadmap.NewEngine(gh, cfg.ChunkMargin)
		coord = dispatch.NewCoordinator(&dispatch.WorkflowRunner{
			API:      gh,
			Workflow: cfg.WorkflowFile,
			Ref:      cfg.BaseBranch,
		}, cfg.PollTimeout, cfg.PollInitialDelay)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(cmd.Context())
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// isNoStoreCommand reports whether a command runs without store credentials.
func isNoStoreCommand(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion":
		return true
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(objectiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
