package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/mselser95/predict-session/internal/app"
	"github.com/mselser95/predict-session/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the session operator",
	Long: `Starts the session operator, which will:
1. Restore every open session from storage
2. Connect the counter-signature relay (SIGNING_MODE=relay) or load local keys
3. Serve the market API, /metrics, /health and /ready on HTTP_PORT

Settings come from the environment; a .env file in the working directory
is loaded first when present.`,
	RunE: runOperator,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("env-file", ".env", "Environment file to load before reading config")
}

func runOperator(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := godotenv.Load(envFile); err != nil {
		fmt.Printf("Warning: %s not loaded: %v\n", envFile, err)
	}

	// Load config
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create logger
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
