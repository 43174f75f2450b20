package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const versionTimeFormat = "20060102150405"

func main() {
	_ = godotenv.Load()

	var dir string
	rootCmd := &cobra.Command{Use: "migrate", Short: "postgres schema migrations for the order store"}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "internal/postgres/migrations", "migration directory")
	rootCmd.AddCommand(
		createCommand(&dir),
		runCommand(&dir, "up", true),
		runCommand(&dir, "down", false),
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func createCommand(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "create empty up/down scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := time.Now().UTC().Format(versionTimeFormat)
			for _, kind := range []string{"up", "down"} {
				path := filepath.Join(*dir, fmt.Sprintf("%s_%s.%s.sql", version, args[0], kind))
				if err := os.WriteFile(path, nil, 0o644); err != nil {
					return err
				}
				cmd.Println("created", path)
			}
			return nil
		},
	}
}

func runCommand(dir *string, use string, up bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "migrate all the way " + use,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			changed, err := postgres.Migrate(*dir, cfg.PostgresDSN, up)
			if err != nil {
				return err
			}
			if !changed {
				cmd.Println("no change in migration")
				return nil
			}
			cmd.Println("migrated", use)
			return nil
		},
	}
}
