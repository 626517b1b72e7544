package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/rules"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List, edit, import and export detection rules",
	Long: `Manage the rule catalogue.

The catalogue starts with the built-in rules. Custom rules can be added from a
YAML file or imported in bulk from a bundle exported by another installation.
Built-in rules can be disabled or edited but not deleted; 'rules reset'
restores the shipped catalogue.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		severity, _ := cmd.Flags().GetString("severity")
		category, _ := cmd.Flags().GetString("category")
		language, _ := cmd.Flags().GetString("language")
		tag, _ := cmd.Flags().GetString("tag")
		origin, _ := cmd.Flags().GetString("origin")
		enabledOnly, _ := cmd.Flags().GetBool("enabled")
		disabledOnly, _ := cmd.Flags().GetBool("disabled")

		// Step 2: Open engine
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Step 3: Build criteria
		c := rules.Criteria{
			Categories: splitCSV(category),
			Languages:  splitCSV(language),
			Tags:       splitCSV(tag),
			Origin:     models.RuleOrigin(origin),
		}
		for _, s := range splitCSV(severity) {
			c.Severities = append(c.Severities, models.Severity(s))
		}
		switch {
		case enabledOnly:
			c.Enabled = boolPtr(true)
		case disabledOnly:
			c.Enabled = boolPtr(false)
		}

		printRuleTable(a.Rules.Search(c))
		return nil
	},
}

var rulesSearchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search rule names, descriptions and tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		printRuleTable(a.Rules.Search(rules.Criteria{Keyword: args[0]}))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <rule-id>",
	Short: "Show a rule as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Rules.GetRule(args[0])
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding rule: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>...",
	Short: "Enable rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(args, true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>...",
	Short: "Disable rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(args, false)
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <rule.yaml>",
	Short: "Add a custom rule from a YAML file",
	Long: `Add a custom rule defined in a YAML file, for example:

  id: CUSTOM-001
  name: Debug mode enabled
  description: Debug mode leaks stack traces to clients
  severity: low
  category: configuration
  languages: [python]
  pattern:
    kind: regex
    expression: 'DEBUG\s*=\s*True'
  tags: [django]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		rule := models.Rule{Enabled: true}
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := a.Rules.AddRule(rule)
		if err != nil {
			return err
		}
		fmt.Printf("[+] Added rule %s (%s)\n", added.ID, added.Name)
		return nil
	},
}

var rulesRmCmd = &cobra.Command{
	Use:   "rm <rule-id>...",
	Short: "Delete custom rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.Rules.DeleteRule(id); err != nil {
				return err
			}
			fmt.Printf("[+] Deleted rule %s\n", id)
		}
		return nil
	},
}

var rulesExportCmd = &cobra.Command{
	Use:   "export [rule-id...]",
	Short: "Export rules as a YAML bundle",
	Long: `Export rules (all rules when no IDs are given) as a YAML bundle that
'rules import' accepts. Use --sets to include rule sets and categories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		includeSets, _ := cmd.Flags().GetBool("sets")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		bundle := a.Rules.ExportRules(args, includeSets)
		data, err := yaml.Marshal(bundle)
		if err != nil {
			return fmt.Errorf("encoding bundle: %w", err)
		}
		if output == "" {
			fmt.Print(string(data))
			return nil
		}
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Printf("[+] Exported %d rules to %s\n", len(bundle.Rules), output)
		return nil
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <bundle.yaml>",
	Short: "Import rules from a YAML or JSON bundle",
	Long: `Import rules, rule sets and categories from a bundle. Existing IDs are
skipped unless --overwrite is given. Invalid records are reported and skipped;
the rest of the bundle is still imported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Rules.ImportBundle(data, overwrite)
		if err != nil {
			return err
		}
		fmt.Printf("[+] Imported %d, skipped %d\n", report.Imported, report.Skipped)
		for _, e := range report.Errors {
			fmt.Printf("[!] %s\n", e)
		}
		return nil
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the rule catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Rules.Statistics()
		fmt.Printf("Rules: %d (%d enabled, %d disabled)\n", st.Total, st.Enabled, st.Disabled)
		fmt.Printf("       %d built-in, %d custom\n", st.Builtin, st.Custom)

		fmt.Println("\nBy severity")
		for _, sev := range models.AllSeverities() {
			fmt.Printf("    %-12s %d\n", sev, st.BySeverity[sev])
		}
		printCounts("By category", st.ByCategory)
		printCounts("By language", st.ByLanguage)
		return nil
	},
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard custom rules and restore the built-in catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("reset deletes every custom rule and rule set; re-run with --yes to confirm")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.Rules.Reset()
		fmt.Printf("[+] Restored %d built-in rules\n", len(a.Rules.ListRules()))
		return nil
	},
}

var rulesCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List rule categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, c := range a.Rules.ListCategories() {
			fmt.Printf("  %-22s %s\n", c.ID, c.Description)
		}
		return nil
	},
}

func init() {
	rulesListCmd.Flags().String("severity", "", "comma-separated severities")
	rulesListCmd.Flags().String("category", "", "comma-separated categories")
	rulesListCmd.Flags().String("language", "", "comma-separated languages")
	rulesListCmd.Flags().String("tag", "", "comma-separated tags")
	rulesListCmd.Flags().String("origin", "", "builtin or custom")
	rulesListCmd.Flags().Bool("enabled", false, "only enabled rules")
	rulesListCmd.Flags().Bool("disabled", false, "only disabled rules")

	rulesExportCmd.Flags().StringP("output", "o", "", "write the bundle to this file instead of stdout")
	rulesExportCmd.Flags().Bool("sets", false, "include rule sets and categories")
	rulesImportCmd.Flags().Bool("overwrite", false, "replace rules whose IDs already exist")
	rulesResetCmd.Flags().Bool("yes", false, "confirm the reset")

	rulesCmd.AddCommand(
		rulesListCmd,
		rulesSearchCmd,
		rulesShowCmd,
		rulesEnableCmd,
		rulesDisableCmd,
		rulesAddCmd,
		rulesRmCmd,
		rulesExportCmd,
		rulesImportCmd,
		rulesStatsCmd,
		rulesResetCmd,
		rulesCategoriesCmd,
	)
	rootCmd.AddCommand(rulesCmd)
}

func toggleRules(ids []string, enabled bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	for _, id := range ids {
		if _, err := a.Rules.Toggle(id, enabled); err != nil {
			return err
		}
		fmt.Printf("[+] %s %s\n", state, id)
	}
	return nil
}

func printRuleTable(list []models.Rule) {
	if len(list) == 0 {
		fmt.Println("No rules found")
		return
	}
	fmt.Println(separator)
	fmt.Printf("  %-12s  %-9s  %-20s  %-3s  %s\n", "ID", "Severity", "Category", "On", "Name")
	fmt.Println(separator)
	for _, r := range list {
		on := "no"
		if r.Enabled {
			on = "yes"
		}
		fmt.Printf("  %-12s  %-9s  %-20s  %-3s  %s\n", r.ID, r.Severity, truncate(r.Category, 20), on, r.Name)
	}
	fmt.Println(separator)
	fmt.Printf("Total: %d rule(s)\n", len(list))
}

func printCounts(title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("\n%s\n", title)
	for _, k := range keys {
		fmt.Printf("    %-12s %d\n", k, counts[k])
	}
}

func boolPtr(b bool) *bool { return &b }
