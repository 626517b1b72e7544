package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and clean up stored data",
}

var storageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database, history and cache usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Store.Stats()
		if err != nil {
			return fmt.Errorf("reading database stats: %w", err)
		}
		fmt.Printf("Database: %s (%s)\n", st.Path, humanize.Bytes(uint64(st.SizeBytes)))
		buckets := make([]string, 0, len(st.Records))
		for b := range st.Records {
			buckets = append(buckets, b)
		}
		sort.Strings(buckets)
		for _, b := range buckets {
			fmt.Printf("    %-12s %s\n", b, humanize.Comma(int64(st.Records[b])))
		}

		fmt.Printf("\nHistory:  %d of %d scans kept, %d day retention\n",
			a.History.Len(), a.Config.History.MaxRecords, a.Config.Cache.RetentionDays)
		fmt.Printf("Results:  %s\n", a.Config.ResultsDir)

		cs := a.Cache.Stats()
		fmt.Printf("\nCache:    %d items, %s of %s (hit rate %.0f%%)\n",
			cs.Items, humanize.Bytes(uint64(cs.SizeBytes)), humanize.Bytes(uint64(cs.MaxBytes)), cs.HitRate*100)
		return nil
	},
}

var storageSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired cache entries and scans past the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		before := a.History.Len()
		a.Janitor.RunOnce()
		fmt.Printf("[+] Sweep complete: %d scan(s) purged\n", before-a.History.Len())
		return nil
	},
}

func init() {
	storageCmd.AddCommand(storageStatsCmd, storageSweepCmd)
	rootCmd.AddCommand(storageCmd)
}
