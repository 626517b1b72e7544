package main

import (
	"fmt"

	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/rules"
	"github.com/spf13/cobra"
)

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "Manage rule sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sets := a.Rules.ListRuleSets()
		if len(sets) == 0 {
			fmt.Println("No rule sets defined")
			return nil
		}
		fmt.Println(separator)
		fmt.Printf("  %-20s  %-5s  %-3s  %s\n", "ID", "Rules", "On", "Name")
		fmt.Println(separator)
		for _, rs := range sets {
			on := "no"
			if rs.Enabled {
				on = "yes"
			}
			fmt.Printf("  %-20s  %-5d  %-3s  %s\n", rs.ID, len(rs.RuleIDs), on, rs.Name)
		}
		fmt.Println(separator)
		return nil
	},
}

var setsShowCmd = &cobra.Command{
	Use:   "show <set-id>",
	Short: "List the rules of a rule set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.Rules.GetRuleSet(args[0])
		if err != nil {
			return err
		}
		members, err := a.Rules.RuleSetRules(rs.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", rs.ID, rs.Name)
		if rs.Description != "" {
			fmt.Printf("  %s\n", rs.Description)
		}
		printRuleTable(members)
		return nil
	},
}

var setsCreateCmd = &cobra.Command{
	Use:   "create <set-id>",
	Short: "Create a rule set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		ruleIDs, _ := cmd.Flags().GetString("rules")
		tags, _ := cmd.Flags().GetString("tags")
		if name == "" {
			name = args[0]
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.Rules.AddRuleSet(models.RuleSet{
			ID:          args[0],
			Name:        name,
			Description: description,
			RuleIDs:     splitCSV(ruleIDs),
			Tags:        splitCSV(tags),
			Enabled:     true,
		})
		if err != nil {
			return err
		}
		fmt.Printf("[+] Created rule set %s with %d rules\n", rs.ID, len(rs.RuleIDs))
		return nil
	},
}

var setsUpdateCmd = &cobra.Command{
	Use:   "update <set-id>",
	Short: "Change the name, description or members of a rule set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch rules.RuleSetPatch
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			patch.Name = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("rules") {
			v, _ := cmd.Flags().GetString("rules")
			patch.RuleIDs = splitCSV(v)
		}
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			patch.Enabled = &v
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.Rules.UpdateRuleSet(args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("[+] Updated rule set %s (%d rules)\n", rs.ID, len(rs.RuleIDs))
		return nil
	},
}

var setsRmCmd = &cobra.Command{
	Use:   "rm <set-id>",
	Short: "Delete a rule set; its rules are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Rules.DeleteRuleSet(args[0]); err != nil {
			return err
		}
		fmt.Printf("[+] Deleted rule set %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{setsCreateCmd, setsUpdateCmd} {
		c.Flags().String("name", "", "display name")
		c.Flags().String("description", "", "description")
		c.Flags().String("rules", "", "comma-separated rule IDs")
	}
	setsCreateCmd.Flags().String("tags", "", "comma-separated tags")
	setsUpdateCmd.Flags().Bool("enabled", true, "enable or disable the set")

	setsCmd.AddCommand(setsShowCmd, setsCreateCmd, setsUpdateCmd, setsRmCmd)
	rulesCmd.AddCommand(setsCmd)
}
