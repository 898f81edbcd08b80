// Package main provides the deepresearch CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinex/deepresearch/cli"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider    string
	mode        string
	dbPath      string
	mcpConfig   string
	metricsFile string
	verbose     bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "deepresearch",
		Short: "Step-by-step deep research runs with cited reports",
		Long: `A CLI for driving a deep-research run one step at a time.

A planner (a person, a script or another model) decides which tool to call
next; deepresearch executes the step, caches and condenses what it returned,
and finally writes a cited report from the collected evidence.

Runs are persisted in SQLite, so each command can be a separate process:

  deepresearch start "EV adoption in Europe"
  deepresearch step crawl4ai --params '{"url": "https://example.org/ev"}'
  deepresearch report --plan plan.json --out report.md`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini); default LLM_PROVIDER")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "Research mode (standard, academic, business, ...)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path; default RESEARCH_DB_PATH or .deepresearch/research.db")
	rootCmd.PersistentFlags().StringVar(&mcpConfig, "mcp-config", "", "Path to MCP servers config (JSON)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(modesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.Provider = provider
	opts.DBPath = dbPath
	opts.MCPConfig = mcpConfig
	opts.MetricsFile = metricsFile
	opts.Verbose = verbose
	if mode != "" {
		opts.Mode = mode
	}
	return opts
}

func startCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "start [topic]",
		Short: "Start a new research run and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.StartRun(cmd.Context(), args[0], runID, options())
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: generated)")

	return cmd
}

func stepCmd() *cobra.Command {
	var (
		runID   string
		params  string
		thought string
	)

	cmd := &cobra.Command{
		Use:   "step [tool]",
		Short: "Execute one tool call in a run",
		Long: `Execute one tool call and print the step response as JSON.

Fetches of an already visited resource are rejected after the revisit
ceiling; failed calls may be repaired with the model before they are
recorded. A failed step still exits 0: check "type" in the output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Step(cmd.Context(), runID, args[0], params, thought, options())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id (default: newest run)")
	cmd.Flags().StringVar(&params, "params", "{}", "Tool parameters as a JSON object")
	cmd.Flags().StringVar(&thought, "thought", "", "Planner reasoning for this step")

	return cmd
}

func reportCmd() *cobra.Command {
	var (
		runID       string
		planPath    string
		instruction string
		outPath     string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the final cited report for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Report(cmd.Context(), runID, planPath, instruction, outPath, options())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id (default: newest run)")
	cmd.Flags().StringVar(&planPath, "plan", "", "Plan file (JSON array of steps)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Original user instruction")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the report to a file")

	return cmd
}

func contextCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the cached artifacts of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Context(cmd.Context(), runID, options())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id (default: newest run)")

	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListRuns(cmd.Context(), options())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a run and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.DeleteRun(cmd.Context(), args[0], options())
		},
	})

	return cmd
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), verboseTools, options())
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}

func modesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List research modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListModes(options())
		},
	}
}
