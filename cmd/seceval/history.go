package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hakim/seceval/internal/history"
	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show scan history",
	Long: `Display a formatted table of past scans.

Scans are listed newest-first. Each row shows the scan ID (truncated), project,
start time, completion status and finding count.

Use --limit to cap the number of rows shown (default: 10) and --project to
show only scans of one project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		limit, _ := cmd.Flags().GetInt("limit")
		project, _ := cmd.Flags().GetString("project")

		// Step 2: Open engine
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Step 3: List records (newest first)
		var records []models.HistoryRecord
		for _, rec := range a.History.List() {
			if project != "" && rec.ProjectName != project && rec.ProjectPath != project {
				continue
			}
			records = append(records, rec)
		}

		if len(records) == 0 {
			fmt.Println("No scan history found")
			return nil
		}

		// Step 4: Apply limit
		total := len(records)
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}

		// Step 5: Print formatted table
		fmt.Printf("\nScan History\n")
		fmt.Println(separator)
		fmt.Printf("  %-3s  %-12s  %-18s  %-16s  %-10s  %s\n", "#", "Scan ID", "Project", "Started", "Status", "Findings")
		fmt.Println(separator)

		for i, rec := range records {
			fmt.Printf("  %-3d  %-12s  %-18s  %-16s  %-10s  %s\n",
				i+1,
				shortID(rec.ID),
				truncate(rec.ProjectName, 18),
				humanize.Time(rec.StartedAt),
				rec.Status,
				formatSeverityStats(rec.FindingCount, rec.SeverityStats))
		}

		fmt.Println(separator)
		fmt.Printf("Total: %d scan(s)\n\n", total)

		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show the stored result of a scan",
	Long: `Print the record and findings of a past scan. The scan ID may be
abbreviated to any unique prefix. Use --json to dump the full result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := resolveRecord(a.History, args[0])
		if err != nil {
			return err
		}
		res, err := a.History.LoadResult(rec.ID)
		if err != nil {
			return fmt.Errorf("loading result for %s: %w", rec.ID, err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Printf("Scan:     %s\n", rec.ID)
		fmt.Printf("Project:  %s (%s)\n", rec.ProjectName, rec.ProjectPath)
		fmt.Printf("Kind:     %s\n", rec.Kind)
		fmt.Printf("Started:  %s (%s)\n", rec.StartedAt.Format(time.RFC3339), humanize.Time(rec.StartedAt))
		fmt.Printf("Duration: %s\n", rec.Duration.Round(time.Millisecond))
		fmt.Printf("Result:   %s\n", rec.ResultPath)
		printScanSummary(res)
		return nil
	},
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <scan-id>...",
	Short: "Delete scans from history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, arg := range args {
			rec, err := resolveRecord(a.History, arg)
			if err != nil {
				return err
			}
			if err := a.History.Remove(rec.ID); err != nil {
				return err
			}
			fmt.Printf("[+] Removed %s\n", rec.ID)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "Maximum number of scans to display")
	historyCmd.Flags().String("project", "", "Only show scans of this project name or path")
	historyShowCmd.Flags().Bool("json", false, "Print the full result as JSON")
	historyCmd.AddCommand(historyShowCmd, historyRmCmd)
	rootCmd.AddCommand(historyCmd)
}

// resolveRecord finds a record by full id or unique id prefix.
func resolveRecord(l *history.Ledger, id string) (models.HistoryRecord, error) {
	id = strings.TrimSuffix(id, "...")
	if rec, err := l.Get(id); err == nil {
		return rec, nil
	}
	var matches []models.HistoryRecord
	for _, rec := range l.List() {
		if strings.HasPrefix(rec.ID, id) {
			matches = append(matches, rec)
		}
	}
	switch len(matches) {
	case 0:
		return models.HistoryRecord{}, fmt.Errorf("scan %q: %w", id, models.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return models.HistoryRecord{}, fmt.Errorf("scan id %q is ambiguous (%d matches)", id, len(matches))
	}
}

// formatSeverityStats renders "12 (2C 3H 7M)" style counts. Zero buckets are
// omitted.
func formatSeverityStats(total int, stats map[models.Severity]int) string {
	var parts []string
	for _, sev := range models.AllSeverities() {
		if n := stats[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, strings.ToUpper(string(sev[:1]))))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d", total)
	}
	return fmt.Sprintf("%d (%s)", total, strings.Join(parts, " "))
}
