package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tooey/internal/beliefs"
)

func newSummarizeCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Write the daily event summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			path, err := svc.Maintenance.WriteDailySummary(date)
			if err != nil {
				return err
			}
			fmt.Println("Summary written to", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to summarize (YYYY-MM-DD, default today)")
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Commit and tag the current agent home state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			result := svc.Maintenance.CreateSnapshot(reason)
			if !result.Success {
				return fmt.Errorf("snapshot failed: %s", result.Error)
			}
			if result.Commit != "" {
				fmt.Printf("Snapshot %s (%s)\n", result.Commit, result.Tag)
			} else {
				fmt.Println(result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the snapshot")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <ref>",
		Short: "Restore the agent home from a snapshot commit or tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			if err := svc.Maintenance.RestoreSnapshot(args[0]); err != nil {
				return err
			}
			fmt.Println("Restored to", args[0])
			return nil
		},
	}
}

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run the full daily maintenance pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			result := svc.Maintenance.RunDaily()
			fmt.Printf("Summary: %s\n", result.SummaryPath)
			fmt.Printf("Promoted: %d items\n", len(result.Promotion.Promoted))
			if result.Snapshot.Commit != "" {
				fmt.Printf("Snapshot: %s\n", result.Snapshot.Commit)
			}
			if !result.Success {
				return fmt.Errorf("maintenance finished with errors")
			}
			return nil
		},
	}
}

func newRecallCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search recent event logs by keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			hits := svc.Maintenance.Recall(strings.Join(args, " "), days)
			if len(hits) == 0 {
				fmt.Println("No matching events.")
				return nil
			}
			for _, hit := range hits {
				task := ""
				if hit.TaskID != "" {
					task = " [" + hit.TaskID + "]"
				}
				fmt.Printf("%s %s%s: %s\n", hit.Timestamp, hit.EventType, task, hit.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "how many days back to search")
	return cmd
}

func newSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage skills",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all skills by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			all := svc.Skills.LoadAll()
			if len(all) == 0 {
				fmt.Println("No skills found.")
				return nil
			}
			for key, skill := range all {
				fmt.Printf("%-40s v%-8s %s\n", key, skill.Version, firstLine(skill.Purpose))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats <name>",
		Short: "Show usage statistics for a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			stats := svc.Skills.GetStats(args[0])
			if stats == nil {
				return fmt.Errorf("unknown skill: %s", args[0])
			}
			fmt.Printf("%s v%s (%s)\n", stats.Name, stats.Version, stats.Status)
			fmt.Printf("  uses: %d, successes: %d, failures: %d\n", stats.UseCount, stats.SuccessCount, stats.FailureCount)
			if stats.LastUsed != "" {
				fmt.Printf("  last used: %s\n", stats.LastUsed)
			}
			if stats.ReadyForPromotion {
				fmt.Println(color.GreenString("  ready for promotion"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "promote <name>",
		Short: "Promote a proven candidate skill to learned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			if err := svc.Skills.Promote(args[0]); err != nil {
				return err
			}
			fmt.Println("Promoted", args[0])
			return nil
		},
	})

	var purpose, procedure, triggers string
	draft := &cobra.Command{
		Use:   "draft <name>",
		Short: "Draft a new candidate skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			path, err := svc.Skills.Draft(args[0], purpose, procedure, triggers)
			if err != nil {
				return err
			}
			fmt.Println("Drafted", path)
			return nil
		},
	}
	draft.Flags().StringVar(&purpose, "purpose", "", "what the skill accomplishes")
	draft.Flags().StringVar(&procedure, "procedure", "", "the steps to follow")
	draft.Flags().StringVar(&triggers, "triggers", "", "when to use the skill")
	draft.MarkFlagRequired("purpose")
	draft.MarkFlagRequired("procedure")
	cmd.AddCommand(draft)

	return cmd
}

func newBeliefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "belief",
		Short: "Manage beliefs",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List beliefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			all := svc.Beliefs.All(status)
			if len(all) == 0 {
				fmt.Println("No beliefs recorded.")
				return nil
			}
			for _, b := range all {
				fmt.Printf("%s [%s] (%.2f) %s\n", b.ID, b.Status, b.Confidence, b.Claim)
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (active, contested, deprecated)")
	cmd.AddCommand(list)

	var confidence float64
	var beliefType, source string
	add := &cobra.Command{
		Use:   "add <claim>",
		Short: "Record a new belief",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			belief, err := svc.Beliefs.Add(strings.Join(args, " "), beliefs.AddOptions{
				Confidence: confidence,
				Type:       beliefType,
				Source:     source,
			})
			if err != nil {
				return err
			}
			fmt.Println("Added", belief.ID)
			return nil
		},
	}
	add.Flags().Float64Var(&confidence, "confidence", 0.7, "initial confidence")
	add.Flags().StringVar(&beliefType, "type", "external", "belief type")
	add.Flags().StringVar(&source, "source", "cli", "provenance source")
	cmd.AddCommand(add)

	var reason string
	contest := &cobra.Command{
		Use:   "contest <id>",
		Short: "Mark a belief as contested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			if _, err := svc.Beliefs.Contest(args[0], reason, ""); err != nil {
				return err
			}
			fmt.Println("Contested", args[0])
			return nil
		},
	}
	contest.Flags().StringVar(&reason, "reason", "", "why the belief is contested")
	contest.MarkFlagRequired("reason")
	cmd.AddCommand(contest)

	var dryRun bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Archive and remove deprecated beliefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			purged, err := svc.Beliefs.Purge(dryRun)
			if err != nil {
				return err
			}
			if len(purged) == 0 {
				fmt.Println("Nothing to purge.")
				return nil
			}
			verb := "Purged"
			if dryRun {
				verb = "Would purge"
			}
			fmt.Printf("%s %d beliefs:\n", verb, len(purged))
			for _, b := range purged {
				fmt.Printf("  %s %s\n", b.ID, b.Claim)
			}
			return nil
		},
	}
	purge.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without removing them")
	cmd.AddCommand(purge)

	cmd.AddCommand(&cobra.Command{
		Use:   "coherence-check",
		Short: "Scan the belief base for contradictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := buildAgent()
			if err != nil {
				return err
			}
			report, err := svc.Beliefs.RunCoherenceCheck(cmd.Context(), svc.LLM)
			if err != nil {
				return err
			}
			fmt.Printf("Beliefs: %d total, %d active, %d contested\n", report.TotalBeliefs, report.Active, report.Contested)
			fmt.Printf("Low confidence: %d, potential contradictions: %d\n", len(report.LowConfidence), len(report.Contradictions))
			fmt.Println("Report:", report.ReportPath)
			return nil
		},
	})

	return cmd
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
