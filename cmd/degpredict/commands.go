package main

import (
	"fmt"
	"sort"
	"strings"

	"degpredict/domain/core"
	"degpredict/domain/stage"
	"degpredict/internal/container"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [stage...]",
		Short: "Run the whole pipeline or the named stages",
		Long: `Run stages 1-5 in order, or only the given stages (by number or name).

Examples:
  degpredict run
  degpredict run 2 3
  degpredict run predict report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers, err := parseStages(args)
			if err != nil {
				return err
			}
			return withContainer(cmd.Context(), opts, func(c *container.Container) error {
				result, runErr := c.Pipeline.Run(cmd.Context(), numbers...)
				if result != nil {
					printPipelineResult(result)
				}
				return runErr
			})
		},
	}
}

// parseStages accepts stage numbers or names and returns them in pipeline order
func parseStages(args []string) ([]stage.Number, error) {
	seen := make(map[stage.Number]bool)
	var out []stage.Number
	for _, a := range args {
		n, err := stage.Parse(a)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func printPipelineResult(r *stage.PipelineResult) {
	fmt.Printf("\n📊 RUN %s\n", r.RunID)
	for _, res := range r.Results {
		mark := "✅"
		if !res.Success {
			mark = "❌"
		}
		fmt.Printf("%s %d %-13s %6dms  %d artifacts", mark, int(res.Stage), res.Name, res.Duration, len(res.Artifacts))
		if len(res.Warnings) > 0 {
			fmt.Printf(", %d warnings", len(res.Warnings))
		}
		fmt.Println()
		if len(res.Counts) > 0 {
			fmt.Printf("     %s\n", formatCounts(res.Counts))
		}
		for _, w := range res.Warnings {
			fmt.Printf("     ⚠️  %s\n", w)
		}
	}
	fmt.Printf("\n%d/%d stages succeeded in %dms\n", r.Overall.Successful, r.Overall.TotalStages, r.Overall.TotalDuration)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func newGroupsCmd(opts *options) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Suggest control/treated assignments for review",
		Long: `Write processed/sample_groups.csv from explicit assignments, an existing
reviewed file and the keyword rules. Edit the file, then run stage 2.
Samples the rules cannot place are left blank.

Rows whose evidence starts with "rule:" are suggestions. Stage 2 ignores
them until the evidence is changed (for example to "reviewed"), unless
groups.confirm_inferred is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), opts, func(c *container.Container) error {
				samples, evidence, err := c.Groups.Suggest(cmd.Context(), reset)
				if err != nil {
					return err
				}
				unplaced := 0
				for _, s := range samples {
					group := string(s.Group)
					if group == "" {
						group = "?"
						unplaced++
					}
					fmt.Printf("%-12s %-8s %s\n", s.ID, group, evidence[s.ID])
				}
				if unplaced > 0 {
					fmt.Printf("\n⚠️  %d samples need a group before stage 2 can run\n", unplaced)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Ignore the existing reviewed file")
	return cmd
}

func newRulesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List pathway/regulation/expression combinations no rule covers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(opts)
			if err != nil {
				return err
			}
			gaps := cfg.Rules.Coverage()
			if len(gaps) == 0 {
				fmt.Println("✅ every combination is covered")
				return nil
			}
			fmt.Printf("%d combinations fall through to the default (unknown, very_low):\n", len(gaps))
			for _, g := range gaps {
				fmt.Printf("  %s\n", g)
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the stages of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), opts, func(c *container.Container) error {
				if c.Ledger == nil {
					return fmt.Errorf("run ledger is disabled (ledger.enabled)")
				}
				ctx := cmd.Context()
				if len(args) == 1 {
					id, err := core.ParseRunID(args[0])
					if err != nil {
						return err
					}
					stages, err := c.Ledger.StagesForRun(ctx, id)
					if err != nil {
						return err
					}
					for _, s := range stages {
						fmt.Printf("%d %-13s success=%t %dms warnings=%d %s\n",
							int(s.Stage), s.Name, s.Success, s.DurationMS, s.Warnings, s.Error)
						for _, a := range s.Artifacts {
							fmt.Printf("    %s %s (%d bytes)\n", a.Digest.Short(), a.Key, a.Bytes)
						}
					}
					return nil
				}

				runs, err := c.Ledger.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Printf("%s  %s  %-9s stages=%v fingerprint=%s\n",
						r.StartedAt, r.RunID, r.Status, r.Stages, r.Fingerprint.Value.Short())
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
