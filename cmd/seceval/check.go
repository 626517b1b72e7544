package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/hakim/seceval/internal/discovery"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration, database and rule catalogue",
	Long: `Verify that seceval is ready to scan: the configuration is valid, the
database opens, the results directory is writable, and enabled rules cover
each supported language.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		failures := 0

		// Create table writer
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Check\tStatus\tDetail")
		fmt.Fprintln(w, "-----\t------\t------")

		report := func(name string, err error, detail string) {
			status := "[+]"
			if err != nil {
				status = "[-]"
				detail = err.Error()
				failures++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, status, detail)
		}

		report("config", cfg.Validate(), fmt.Sprintf("timeout %s, %d concurrent scans", cfg.Timeout(), cfg.Engine.MaxConcurrentScans))

		a, err := openApp()
		report("database", err, cfg.DBPath)
		if err != nil {
			w.Flush()
			return fmt.Errorf("%d check(s) failed", failures)
		}
		defer a.Close()

		report("results dir", checkWritable(cfg.ResultsDir), cfg.ResultsDir)

		st := a.Rules.Statistics()
		report("rules", nil, fmt.Sprintf("%d enabled of %d", st.Enabled, st.Total))

		for _, lang := range discovery.Languages() {
			n := len(a.Rules.ActiveRules(lang, nil))
			detail := fmt.Sprintf("%d rules", n)
			if n == 0 {
				detail = "no enabled rules, files are scanned but never match"
			}
			report("  "+lang, nil, detail)
		}

		webhook := "(none)"
		if cfg.Notify.WebhookURL != "" {
			webhook = cfg.Notify.WebhookURL
		}
		report("webhook", nil, webhook)

		w.Flush()

		// Print summary
		fmt.Println()
		if failures > 0 {
			return fmt.Errorf("%d check(s) failed", failures)
		}
		fmt.Println("Summary: all checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkWritable creates dir if needed and verifies a file can be written in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".seceval-check")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
