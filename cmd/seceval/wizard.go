package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/pipeline"
	"github.com/spf13/cobra"
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive wizard to configure and launch a scan",
	Long: `Walk through scan configuration one question at a time.

The wizard asks for a target path, scan kind, severity, timeout, and optional
webhook URL.  It then prints a summary and asks for confirmation before
launching the scan with the same logic as 'seceval scan'.`,
	RunE: runWizard,
}

func init() {
	rootCmd.AddCommand(wizardCmd)
}

// runWizard is the cobra RunE handler for the wizard command.
func runWizard(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("[*] seceval Interactive Wizard")
	fmt.Println("[*] Press Enter to accept the default shown in brackets.")
	fmt.Println()

	// ── 1. Target path ────────────────────────────────────────────────────────
	var target string
	for {
		target = wizardPrompt(reader, "[?] Path to scan [.]: ", ".")
		if _, err := os.Stat(target); err == nil {
			break
		}
		fmt.Printf("[!] %s does not exist. Please enter a file or directory.\n", target)
	}
	scanCfg := a.ScanDefaults(target)

	// ── 2. Scan kind ──────────────────────────────────────────────────────────
	fmt.Println()
	fmt.Println("    Scan kinds:")
	kinds := []models.ScanKind{models.ScanQuick, models.ScanFull, models.ScanCustom}
	presets := pipeline.BuiltinPresets()
	defaultChoice := "1"
	for i, k := range kinds {
		fmt.Printf("      [%d] %-7s %s\n", i+1, k, presets[k].Description)
		if k == scanCfg.Kind {
			defaultChoice = fmt.Sprint(i + 1)
		}
	}

	kindChoice := wizardPrompt(reader, fmt.Sprintf("[?] Choose scan kind [%s]: ", defaultChoice), defaultChoice)
	switch kindChoice {
	case "1", "2", "3":
		scanCfg.Kind = kinds[kindChoice[0]-'1']
	default:
		// If they typed the kind name directly, accept it.
		if _, err := pipeline.GetPreset(models.ScanKind(kindChoice)); err == nil {
			scanCfg.Kind = models.ScanKind(kindChoice)
		} else {
			fmt.Printf("[!] Unknown choice %q. Using %s\n", kindChoice, scanCfg.Kind)
		}
	}

	// ── 3. Severity and depth (custom scans only) ─────────────────────────────
	if scanCfg.Kind == models.ScanCustom {
		fmt.Println()
		fmt.Println("    Severity options: critical, high, medium, low, info")
		sev := wizardPrompt(reader, "[?] Lowest severity to report [info]: ", "info")
		scanCfg.MinSeverity = models.Severity(strings.ToLower(sev))
		if !scanCfg.MinSeverity.Valid() {
			fmt.Printf("[!] Unknown severity %q. Reporting everything\n", sev)
			scanCfg.MinSeverity = ""
		}

		depthInput := wizardPrompt(reader, fmt.Sprintf("[?] Maximum directory depth, 0 for unlimited [%d]: ", scanCfg.MaxDepth), "")
		if depthInput != "" {
			var depth int
			if _, err := fmt.Sscan(depthInput, &depth); err != nil || depth < 0 {
				fmt.Printf("[!] Could not parse %q as a depth. Keeping %d\n", depthInput, scanCfg.MaxDepth)
			} else {
				scanCfg.MaxDepth = depth
			}
		}
	}

	// ── 4. Timeout ────────────────────────────────────────────────────────────
	fmt.Println()
	defaultTimeout := scanCfg.Timeout.String()
	timeoutInput := wizardPrompt(reader, fmt.Sprintf("[?] Timeout (Go duration, e.g. 5m, 30m, 1h) [%s]: ", defaultTimeout), defaultTimeout)
	if timeout, err := time.ParseDuration(timeoutInput); err != nil || timeout <= 0 {
		fmt.Printf("[!] Could not parse %q as a duration. Using %s\n", timeoutInput, defaultTimeout)
	} else {
		scanCfg.Timeout = timeout
	}

	// ── 5. Webhook URL ────────────────────────────────────────────────────────
	fmt.Println()
	webhookURL := wizardPrompt(reader, "[?] Webhook URL (optional, press Enter to skip): ", "")

	// ── Summary + confirmation ─────────────────────────────────────────────────
	fmt.Println()
	fmt.Println("[*] Ready to scan:")
	fmt.Printf("    Target:   %s\n", scanCfg.TargetPath)
	fmt.Printf("    Kind:     %s\n", scanCfg.Kind)
	if scanCfg.MinSeverity != "" {
		fmt.Printf("    Severity: %s and above\n", scanCfg.MinSeverity)
	}
	fmt.Printf("    Timeout:  %s\n", scanCfg.Timeout)
	if webhookURL != "" {
		fmt.Printf("    Webhook:  %s\n", webhookURL)
	} else {
		fmt.Println("    Webhook:  (none)")
	}
	fmt.Println()

	confirm := wizardPrompt(reader, "Start scan? [Y/n]: ", "y")
	if strings.EqualFold(confirm, "n") {
		fmt.Println("Cancelled.")
		return nil
	}

	return executeScan(a, scanCfg, webhookURL)
}

// wizardPrompt prints a prompt, reads a line, trims whitespace, and returns
// the default value if the user pressed Enter without typing anything.
func wizardPrompt(reader *bufio.Reader, prompt, defaultVal string) string {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		// On EOF or read error, fall back to the default.
		return defaultVal
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}
