package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "seqctl",
	Short: "Inspect and evaluate WhatsApp CRM message sequences",
	Long:  "seqctl runs the sequence engine against the configured database\nwithout sending anything, for debugging contacts and sequences.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB loads configuration from the environment and connects to the
// database it names.
func openDB() (*config.Config, *gorm.DB, logrus.FieldLogger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, log, nil
}
