package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hakim/seceval/internal/app"
	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/pipeline"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a source tree for insecure code patterns",
	Long: `Scan every supported source file under a directory (or a single file)
against the enabled rules and record the result in scan history.

Scan kinds:
  quick   three directory levels, critical and high rules only (default)
  full    every enabled rule over the whole tree
  custom  depth, severity and rules exactly as given by flags

Results are saved to:
  {results_dir}/{project}_{timestamp}/result.json

Press Ctrl+C to cancel a running scan; partial work is discarded.

Examples:
  seceval scan ./src
  seceval scan ./src --kind full
  seceval scan ./src --kind custom --rules SEC001,SEC003 --min-severity medium
  seceval scan ./src --ruleset owasp-top-10 --exclude vendor,third_party`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read all flags ──────────────────────────────────────────────────
		kind, _ := cmd.Flags().GetString("kind")
		include, _ := cmd.Flags().GetString("include")
		exclude, _ := cmd.Flags().GetString("exclude")
		includeTests, _ := cmd.Flags().GetBool("include-tests")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		ruleIDs, _ := cmd.Flags().GetString("rules")
		ruleSet, _ := cmd.Flags().GetString("ruleset")
		minSeverity, _ := cmd.Flags().GetString("min-severity")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		webhookURL, _ := cmd.Flags().GetString("notify-webhook")

		// ── 2. Open engine ─────────────────────────────────────────────────────
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// ── 3. Build scan config (flags override settings) ────────────────────
		scanCfg := a.ScanDefaults(args[0])
		if kind != "" {
			scanCfg.Kind = models.ScanKind(kind)
		}
		preset, err := pipeline.GetPreset(scanCfg.Kind)
		if err != nil {
			return err
		}
		fmt.Printf("[*] Scan kind: %s (%s)\n", preset.Kind, preset.Description)

		if include != "" {
			scanCfg.Include = splitCSV(include)
		}
		if exclude != "" {
			scanCfg.Exclude = append(scanCfg.Exclude, splitCSV(exclude)...)
		}
		if cmd.Flags().Changed("include-tests") {
			scanCfg.IncludeTestFiles = includeTests
		}
		if cmd.Flags().Changed("max-depth") {
			scanCfg.MaxDepth = maxDepth
		}
		if ruleIDs != "" {
			scanCfg.RuleIDs = splitCSV(ruleIDs)
		}
		if ruleSet != "" {
			ids, err := ruleSetIDs(a.Rules, ruleSet)
			if err != nil {
				return err
			}
			scanCfg.RuleIDs = append(scanCfg.RuleIDs, ids...)
			fmt.Printf("[*] Using rule set %s (%d rules)\n", ruleSet, len(ids))
		}
		if minSeverity != "" {
			scanCfg.MinSeverity = models.Severity(minSeverity)
		}
		if timeout > 0 {
			scanCfg.Timeout = timeout
		}
		scanCfg.Concurrency = concurrency

		return executeScan(a, scanCfg, webhookURL)
	},
}

func init() {
	scanCmd.Flags().String("kind", "", "scan kind: quick, full or custom (default from settings)")
	scanCmd.Flags().String("include", "", "comma-separated glob patterns; only matching files are scanned")
	scanCmd.Flags().String("exclude", "", "comma-separated glob patterns added to the default excludes")
	scanCmd.Flags().Bool("include-tests", false, "also scan test files")
	scanCmd.Flags().Int("max-depth", 0, "maximum directory depth (0 = unlimited)")
	scanCmd.Flags().String("rules", "", "comma-separated rule IDs to run")
	scanCmd.Flags().String("ruleset", "", "run only the rules of this rule set")
	scanCmd.Flags().String("min-severity", "", "lowest severity to report: critical, high, medium, low, info")
	scanCmd.Flags().Duration("timeout", 0, "scan timeout (default from settings)")
	scanCmd.Flags().Int("concurrency", 0, "rules matched in parallel per file (0 = number of CPUs)")
	scanCmd.Flags().String("notify-webhook", "", "POST a completion summary to this URL")
	rootCmd.AddCommand(scanCmd)
}

type ruleSetSource interface {
	RuleSetRules(id string) ([]models.Rule, error)
}

// ruleSetIDs resolves a rule set to its surviving rule ids. An empty set is
// an error: no ids would mean every enabled rule.
func ruleSetIDs(src ruleSetSource, name string) ([]string, error) {
	setRules, err := src.RuleSetRules(name)
	if err != nil {
		return nil, fmt.Errorf("rule set %q: %w", name, err)
	}
	if len(setRules) == 0 {
		return nil, fmt.Errorf("rule set %q has no rules", name)
	}
	ids := make([]string, 0, len(setRules))
	for _, r := range setRules {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// executeScan runs scanCfg to completion, printing progress, and cancels it
// on Ctrl+C. webhookURL, when set and no webhook is configured, receives a
// one-off completion notification.
func executeScan(a *app.App, scanCfg models.ScanConfig, webhookURL string) error {
	// ── 1. Run with Ctrl+C cancellation ───────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("[*] Scanning %s\n", scanCfg.TargetPath)
	lastPercent := -1
	res, err := a.Engine.RunScan(ctx, scanCfg, func(s models.ScanSession) {
		p := s.Progress
		if p.Percent == lastPercent {
			return
		}
		lastPercent = p.Percent
		eta := "unknown"
		if p.HasEstimate {
			eta = p.EstimatedRemaining.Round(time.Second).String()
		}
		fmt.Printf("[*] %d/%d files (%d%%) eta %s\n", p.ProcessedFiles, p.TotalFiles, p.Percent, eta)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("[!] Scan cancelled")
		}
		return err
	}

	// ── 2. Webhook notification (non-fatal) ───────────────────────────────
	if webhookURL != "" && a.Config.Notify.WebhookURL == "" {
		notifyCfg := pipeline.NotifyConfig{WebhookURL: webhookURL}
		if err := notifyCfg.SendCompletion(res); err != nil {
			fmt.Printf("[!] Warning: webhook notification failed: %v\n", err)
		} else {
			fmt.Printf("[+] Completion notification sent to %s\n", webhookURL)
		}
	}

	printScanSummary(res)
	return nil
}

func printScanSummary(res *models.ScanResult) {
	st := res.Statistics
	fmt.Println()
	fmt.Printf("[+] Scan %s completed in %s\n", res.ScanID, res.Duration.Round(time.Millisecond))
	fmt.Printf("    Files: %d scanned, %d skipped, %d discovered\n", st.ScannedFiles, st.SkippedFiles, st.TotalFiles)
	fmt.Printf("    Findings: %d\n", st.FindingCount)
	fmt.Printf("    Heap in use: %s\n", humanize.Bytes(res.Resources.HeapAllocBytes))
	if len(res.Errors) > 0 {
		fmt.Printf("[!] %d files could not be read (first: %s)\n", len(res.Errors), res.Errors[0])
	}
	if len(res.Warnings) > 0 {
		fmt.Printf("[!] %d warnings (first: %s)\n", len(res.Warnings), res.Warnings[0])
	}
	if st.FindingCount == 0 {
		return
	}

	fmt.Println()
	fmt.Printf("%-10s  %-8s  %-30s  %s\n", "SEVERITY", "RULE", "LOCATION", "NAME")
	fmt.Println(separator)
	for _, f := range res.Findings {
		loc := fmt.Sprintf("%s:%d", f.FilePath, f.StartLine)
		fmt.Printf("%-10s  %-8s  %-30s  %s\n", f.Severity, f.RuleID, truncate(loc, 30), f.RuleName)
	}
	fmt.Println()
	for _, sev := range models.AllSeverities() {
		if n := st.BySeverity[sev]; n > 0 {
			fmt.Printf("    %-10s %d\n", sev, n)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
