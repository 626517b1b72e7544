package main

import (
	"fmt"
	"runtime"

	"github.com/hakim/seceval/internal/rules"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("seceval %s\n", version)
		fmt.Printf("  rule catalogue: %s (%d built-in rules)\n", rules.CatalogueVersion, len(rules.BuiltinRules()))
		fmt.Printf("  go:             %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
