package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hakim/seceval/internal/cache"
	"github.com/hakim/seceval/internal/config"
	"github.com/hakim/seceval/internal/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve [path...]",
	Short: "Run the engine in the foreground with scheduled housekeeping",
	Long: `Keep the engine running: housekeeping (cache sweep and history retention)
runs on the configured cron schedule, and every engine event is logged.

When paths are given together with --schedule they are scanned on that cron
schedule, e.g. --schedule "@every 6h" or --schedule "0 3 * * *".

When --config names a file, edits to it are picked up without a restart.
Stop with Ctrl+C; running scans are cancelled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read flags ──────────────────────────────────────────────────────
		schedule, _ := cmd.Flags().GetString("schedule")
		if len(args) > 0 && schedule == "" {
			return fmt.Errorf("--schedule is required when paths are given")
		}

		// ── 2. Open engine ─────────────────────────────────────────────────────
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.Log.Named("serve")

		// ── 3. Log every event ────────────────────────────────────────────────
		stopObserve := a.Bus.Observe(func(ev events.Event) {
			if ev.Type == events.ScanProgress {
				return
			}
			fields := []zap.Field{zap.String("event", string(ev.Type))}
			if ev.SessionID != "" {
				fields = append(fields, zap.String("scan_id", ev.SessionID))
			}
			if ev.RuleID != "" {
				fields = append(fields, zap.String("rule_id", ev.RuleID))
			}
			if ev.Message != "" {
				fields = append(fields, zap.String("message", ev.Message))
			}
			if ev.Result != nil {
				fields = append(fields, zap.Int("findings", len(ev.Result.Findings)))
			}
			log.Info("event", fields...)
		})
		defer stopObserve()

		// ── 4. Hot-reload config ──────────────────────────────────────────────
		if cfgFile != "" {
			err := config.Watch(cfgFile, log, func(c *config.Config) {
				a.Apply(c)
				log.Info("config reloaded", zap.Int("max_concurrent_scans", a.Engine.MaxConcurrentScans()))
			})
			if err != nil {
				return err
			}
		}

		// ── 5. Scheduled scans ────────────────────────────────────────────────
		if len(args) > 0 {
			tasks := make([]cache.Task, 0, len(args))
			for _, target := range args {
				tasks = append(tasks, cache.Task{
					Name: "scan " + target,
					Run: func() error {
						id, err := a.Engine.StartScan(a.ScanDefaults(target))
						if err != nil {
							return err
						}
						log.Info("scheduled scan started", zap.String("target", target), zap.String("scan_id", id))
						return nil
					},
				})
			}
			scheduler, err := cache.NewJanitor(schedule, log.Named("scheduler"), tasks...)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
			fmt.Printf("[*] Scanning %d path(s) on schedule %q\n", len(args), schedule)
		}

		// ── 6. Run until interrupted ──────────────────────────────────────────
		a.Start()
		fmt.Println("[*] seceval running. Press Ctrl+C to stop.")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Printf("[*] Shutting down, cancelling %d running scan(s)\n", len(a.Engine.ListActiveSessions()))
		return nil
	},
}

func init() {
	serveCmd.Flags().String("schedule", "", "cron schedule for scanning the given paths")
	rootCmd.AddCommand(serveCmd)
}
