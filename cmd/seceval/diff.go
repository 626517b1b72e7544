package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hakim/seceval/internal/diff"
	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff [scan-id] [previous-scan-id]",
	Short: "Compare two scans and report what changed",
	Long: `Compare a scan against an earlier scan of the same project.

Findings are matched by rule, file and snippet, so a finding that only moved
lines is reported as persistent. Severity changes on persistent findings are
listed separately.

With no arguments the most recent scan is compared with the previous scan of
the same project. With one argument that scan is compared with its previous
scan. Scan IDs may be abbreviated to any unique prefix.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		output, _ := cmd.Flags().GetString("output")

		// Step 2: Open engine
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Step 3: Resolve current scan
		records := a.History.List()
		if len(records) == 0 {
			return fmt.Errorf("no scans recorded. Run 'seceval scan <path>' first")
		}
		current := records[0]
		if len(args) > 0 {
			current, err = resolveRecord(a.History, args[0])
			if err != nil {
				return err
			}
		}
		fmt.Printf("[*] Current scan:  %s (%s)\n", current.ID, current.ProjectName)

		// Step 4: Resolve previous scan
		var previous *models.HistoryRecord
		if len(args) > 1 {
			rec, err := resolveRecord(a.History, args[1])
			if err != nil {
				return err
			}
			previous = &rec
		} else {
			previous = previousRecord(records, current)
		}
		if previous == nil {
			fmt.Printf("[!] No previous scan found for comparison\n")
			return nil
		}
		fmt.Printf("[*] Previous scan: %s (%s)\n", previous.ID, previous.ProjectName)

		// Step 5: Load both results
		currentRes, err := a.History.LoadResult(current.ID)
		if err != nil {
			return fmt.Errorf("loading current result: %w", err)
		}
		previousRes, err := a.History.LoadResult(previous.ID)
		if err != nil {
			return fmt.Errorf("loading previous result: %w", err)
		}

		// Step 6: Compute diff
		result := diff.ComputeDiff(currentRes, previousRes)

		// Step 7: Optionally save diff result as JSON
		if output != "" {
			rawData, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling diff result: %w", err)
			}
			if err := os.WriteFile(output, rawData, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Printf("[+] Diff JSON written to %s\n", output)
		}

		// Step 8: Print summary
		printDiff(result)
		return nil
	},
}

func init() {
	diffCmd.Flags().StringP("output", "o", "", "Write the diff as JSON to this file")
	rootCmd.AddCommand(diffCmd)
}

// previousRecord returns the newest record of the same project started before
// current. records must be newest first.
func previousRecord(records []models.HistoryRecord, current models.HistoryRecord) *models.HistoryRecord {
	for i := range records {
		rec := records[i]
		if rec.ID == current.ID || rec.ProjectPath != current.ProjectPath {
			continue
		}
		if rec.StartedAt.Before(current.StartedAt) {
			return &rec
		}
	}
	return nil
}

func printDiff(dr *diff.DiffResult) {
	fmt.Println()
	fmt.Printf("Findings: %d -> %d   Files: %d -> %d\n",
		dr.PreviousFindingCount, dr.CurrentFindingCount, dr.PreviousFileCount, dr.CurrentFileCount)

	if !dr.HasChanges() {
		fmt.Println("[+] No changes since the previous scan")
		return
	}

	printFindingGroup("New", "+", dr.NewFindings)
	printFindingGroup("Resolved", "-", dr.ResolvedFindings)

	if len(dr.SeverityChanges) > 0 {
		fmt.Printf("\nSeverity changes (%d)\n", len(dr.SeverityChanges))
		fmt.Println(separator)
		for _, c := range dr.SeverityChanges {
			fmt.Printf("  ~ %-8s %s:%d  %s -> %s\n",
				c.Finding.RuleID, c.Finding.FilePath, c.Finding.StartLine, c.Previous, c.Finding.Severity)
		}
	}

	fmt.Printf("\nPersistent: %d\n", len(dr.PersistentFindings))
	for _, sev := range models.AllSeverities() {
		if d := dr.SeverityDelta[sev]; d != 0 {
			fmt.Printf("    %-10s %+d\n", sev, d)
		}
	}
}

func printFindingGroup(title, mark string, findings []models.Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Printf("\n%s findings (%d)\n", title, len(findings))
	fmt.Println(separator)
	for _, f := range findings {
		fmt.Printf("  %s %-10s %-8s %s:%d\n", mark, f.Severity, f.RuleID, f.FilePath, f.StartLine)
	}
}
