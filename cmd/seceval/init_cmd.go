package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hakim/seceval/internal/config"
	"github.com/hakim/seceval/internal/storage"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize seceval with default configuration",
	Long: `Creates a default configuration file (seceval.yaml), the results directory,
and the database that stores rules, history and settings.

This is typically the first command you run when setting up seceval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(initDir, "seceval.yaml")

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("config file already exists at %s. Use --force to overwrite", configPath)
		}

		// Create default config
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("Created %s with default configuration\n", configPath)

		// Load the config we just created to get paths
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Create results directory
		if err := os.MkdirAll(cfg.ResultsDir, 0755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
		fmt.Printf("Created results directory: %s\n", cfg.ResultsDir)

		// Initialize database
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		fmt.Printf("Initialized database: %s\n", cfg.DBPath)

		// Print success message
		fmt.Println()
		fmt.Println("seceval initialized successfully!")
		fmt.Println("Run 'seceval scan <path>' to scan a project.")

		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "output directory")
	rootCmd.AddCommand(initCmd)
}
