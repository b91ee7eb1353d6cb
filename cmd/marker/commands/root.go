package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/dyluth/marker/internal/config"
	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath   string
	redisURLFlag string
	cohortFlag   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marker",
	Short: "Marker - cohort homework submission and review",
	Long: `Marker coordinates homework submission and review for a cohort.

Participants submit work and reviewers record verdicts through a chat
front-end; this CLI manages the roster and periods, inspects the ledger,
exports the gradebook and speaks the chat protocol from a terminal.

Connection settings come from marker.yml (--config), overridden by
REDIS_URL and MARKER_COHORT, overridden by --redis-url and --cohort.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to marker.yml")
	rootCmd.PersistentFlags().StringVar(&redisURLFlag, "redis-url", "", "Redis URL (overrides config and REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&cohortFlag, "cohort", "", "Cohort name (overrides config and MARKER_COHORT)")
}

// loadConfig reads the config file if present. Without one, the cohort must
// come from the environment or --cohort.
func loadConfig() (*config.MarkerConfig, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.MarkerConfig{Version: "1.0"}
		cfg.ApplyEnv()
		err = nil
	}
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or point --config at another file", configPath)},
		)
	}

	if redisURLFlag != "" {
		cfg.RedisURL = redisURLFlag
	}
	if cohortFlag != "" {
		cfg.Cohort = cohortFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Create %s, or pass --cohort and --redis-url", configPath)},
		)
	}
	return cfg, nil
}

// connect loads the configuration and opens the cohort's ledger.
func connect(ctx context.Context) (*config.MarkerConfig, *ledger.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	client, err := cfg.OpenLedger(ctx)
	if err != nil {
		return nil, nil, printer.ErrorWithContext(
			"Redis connection failed",
			err.Error(),
			map[string]string{"Redis": cfg.RedisURL, "Cohort": cfg.Cohort},
			[]string{"Check that Redis is running and --redis-url is correct"},
		)
	}
	return cfg, client, nil
}
