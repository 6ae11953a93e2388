// Command absint runs the abstract interpreter over scenario files.
//
// `run` analyzes a single scenario and prints its bugs, `batch` analyzes
// every scenario in a directory concurrently, and `dump` persists a
// scenario's converged per-node state for offline debugging.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oisee/absint/pkg/batch"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/engine"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/report"
	"github.com/oisee/absint/pkg/scenario"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "absint",
		Short: "Whole-program abstract interpreter over JSON scenario files",
	}

	rootCmd.AddCommand(runCmd(), batchCmd(), dumpCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadScenario(path string) (*scenario.Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scenario.Load(f)
}

func runCmd() *cobra.Command {
	var maxFieldLimit uint32
	var widenDelay uint32

	cmd := &cobra.Command{
		Use: "run [scenario.json]",
		Short: "Analyze a single scenario and print its bugs",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadScenario(args[0])
			if err != nil {
				return fmt.Errorf("load scenario: %w", err)
			}
			prog, err := scenario.Build(spec)
			if err != nil {
				return fmt.Errorf("build scenario: %w", err)
			}

			cfg := config.Default()
			if maxFieldLimit > 0 {
				cfg.MaxFieldLimit = maxFieldLimit
			}
			if widenDelay > 0 {
				cfg.WidenDelay = widenDelay
			}

			res, err := engine.Run(prog, prog, nil, nil, cfg, extapi.NewRegistry(), engine.DefaultDetectors(nil))
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if res.Aborted != nil {
				fmt.Fprintf(os.Stderr, "analysis aborted: %v\n", res.Aborted)
			}
			for _, ce := range res.ContractViolations {
				fmt.Fprintf(os.Stderr, "contract violation: %v\n", ce)
			}

			if len(res.Bugs) == 0 {
				fmt.Println("no bugs found")
			}
			for _, b := range res.Bugs {
				fmt.Printf("[%s/%s] node=%d pointer=%d: %s\n", b.Kind, b.Severity, b.Node, b.Pointer, b.Message)
			}
			if res.Aborted != nil || len(res.ContractViolations) > 0 {
				return fmt.Errorf("analysis aborted or hit %d contract violation(s)", len(res.ContractViolations))
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&maxFieldLimit, "max-field-limit", 0, "Override config.Default's MaxFieldLimit (0 = default)")
	cmd.Flags().Uint32Var(&widenDelay, "widen-delay", 0, "Override config.Default's WidenDelay (0 = default)")
	return cmd
}

func batchCmd() *cobra.Command {
	var numWorkers int
	var progress time.Duration
	var output string

	cmd := &cobra.Command{
		Use: "batch [dir]",
		Short: "Analyze every *.json scenario in a directory concurrently",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := filepath.Glob(filepath.Join(args[0], "*.json"))
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no *.json scenarios found under %s", args[0])
			}

			jobs := make([]batch.Job, 0, len(paths))
			for _, p := range paths {
				spec, err := loadScenario(p)
				if err != nil {
					return fmt.Errorf("load %s: %w", p, err)
				}
				jobs = append(jobs, batch.Job{Name: filepath.Base(p), Spec: spec})
			}

			summary := batch.Run(context.Background(), jobs, batch.Options{
				NumWorkers: numWorkers,
				Cfg: config.Default(),
				Progress: progress,
			})

			var failed int
			for _, r := range summary.Results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", r.Name, r.Err)
					continue
				}
				fmt.Printf("%s: %d bugs\n", r.Name, len(r.Bugs))
			}
			fmt.Printf("\n%d scenarios, %d bugs total, %d failed to analyze\n",
				len(summary.Results), summary.Report.Len(), failed)

			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := report.WriteJSON(f, summary.Report.Bugs()); err != nil {
					return err
				}
				fmt.Printf("Written to %s\n", output)
			}
			if failed > 0 {
				return fmt.Errorf("%d scenarios failed to analyze", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&numWorkers, "workers", 0, "Number of concurrent analyses (0 = NumCPU)")
	cmd.Flags().DurationVar(&progress, "progress", 10*time.Second, "Progress line interval (0 disables)")
	cmd.Flags().StringVar(&output, "output", "", "Aggregated bug list JSON output path")
	return cmd
}

func dumpCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use: "dump [scenario.json]",
		Short: "Analyze a scenario and persist its per-node state as a gob dump",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadScenario(args[0])
			if err != nil {
				return fmt.Errorf("load scenario: %w", err)
			}
			prog, err := scenario.Build(spec)
			if err != nil {
				return fmt.Errorf("build scenario: %w", err)
			}

			res, err := engine.Run(prog, prog, nil, nil, config.Default(), extapi.NewRegistry(), engine.DefaultDetectors(nil))
			if err != nil {
				return err
			}
			dump := report.NewDump(res.Bugs, res.StateAt)

			if output == "" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", " ")
				return enc.Encode(map[string]any{"bugs": len(dump.Bugs), "nodes": len(dump.StateAt)})
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := report.WriteDump(f, dump); err != nil {
				return err
			}
			fmt.Printf("Written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Gob dump output path (summary printed to stdout when empty)")
	return cmd
}
