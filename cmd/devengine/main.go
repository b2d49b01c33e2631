// Command devengine runs the orchestration engine from the shell:
// devengine <goal> [repoPath] [flags].
//
// The cobra root-command wiring (SetVersionTemplate, an explicit exit
// code set in main instead of relying on cobra's default exit path)
// follows giantswarm-muster/cmd/root.go; the .env-then-required-
// env-var boundary follows haricheung-agentic-shell/cmd/agsh/main.go.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"devengine/internal/adapters/llmclient"
	"devengine/internal/adapters/osfs"
	"devengine/internal/adapters/shellrunner"
	"devengine/internal/adapters/zaplog"
	"devengine/internal/orchestrator"
	"devengine/internal/ports"
	"devengine/internal/verify"

	"devengine"
)

const version = "0.1.0"

// Exit codes, per the external-interface contract: 0 on success, 1 on
// missing goal or unhandled error.
const (
	exitSuccess = 0
	exitError   = 1
)

var (
	flagVerbose     bool
	flagResume      bool
	flagConcurrency int
	flagModel       string
	flagPlanFile    string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "devengine <goal> [repoPath]",
		Short:         "Plan, generate, verify, and document a software change from a goal",
		Version:       version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runEngine,
	}
	cmd.SetVersionTemplate("devengine version {{.Version}}\n")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "V", false, "verbose event logging")
	cmd.Flags().BoolVarP(&flagResume, "resume", "r", false, "resume the latest matching checkpoint")
	cmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 3, "max concurrent tasks")
	cmd.Flags().StringVarP(&flagModel, "model", "m", "", "model identifier (provider default if empty)")
	cmd.Flags().StringVar(&flagPlanFile, "plan-file", "", "YAML file with a hand-authored plan, skipping the Architect model call")
	return cmd
}

func runEngine(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENCLAW_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY or OPENCLAW_KEY must be set")
	}

	goal := args[0]
	repoPath := ""
	if len(args) > 1 {
		repoPath = args[1]
	}

	logger, err := zaplog.New(flagVerbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	model := llmclient.New().WithModel(flagModel)

	workDir := repoPath
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	fs := osfs.New(workDir)
	shell := shellrunner.New(workDir)

	stateDir := os.Getenv("DEVENGINE_STATE_DIR")

	opts := orchestrator.DefaultOptions()
	opts.MaxConcurrency = flagConcurrency

	entry, err := devengine.New(goal, repoPath, flagResume, devengine.Config{
		Model:      model,
		FS:         fs,
		Shell:      shell,
		Logger:     logger,
		StateDir:   stateDir,
		PlanFile:   flagPlanFile,
		Options:    opts,
		VerifyOpts: verify.DefaultOptions(),
	})
	if err != nil {
		return err
	}

	unsubscribe := entry.Bus().OnAny(func(eventType string, data map[string]any) {
		if flagVerbose {
			logger.Info(eventType, fieldsFromData(data)...)
		}
	})
	defer unsubscribe()

	result, err := entry.Execute(cmd.Context())
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run failed: %s", result.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Output)
	return nil
}

func fieldsFromData(data map[string]any) []ports.Field {
	fields := make([]ports.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, ports.F(k, v))
	}
	return fields
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
