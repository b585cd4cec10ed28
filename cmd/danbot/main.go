package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ldinca/danbot/common/environment"
	"github.com/ldinca/danbot/internal/danbot/app"
	"github.com/ldinca/danbot/internal/danbot/llm"
	"github.com/ldinca/danbot/internal/danbot/matrix"
	"github.com/ldinca/danbot/internal/danbot/observability"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bot, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize danbot: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running danbot: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration from environment variables.
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}
	apiKey, err := environment.RequiredString("OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	rooms := environment.StringSliceOr("MATRIX_ROOMS", nil)
	if len(rooms) == 0 {
		return nil, fmt.Errorf("required environment variable %q is not set", "MATRIX_ROOMS")
	}

	return &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./danbot.db"),
		PersonaPath:  environment.StringOr("PERSONA_PATH", ""),
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
			Rooms:       rooms,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: environment.StringOr("OPENAI_BASE_URL", ""),
			Timeout: environment.DurationOr("OPENAI_TIMEOUT", 0),
		},
	}, nil
}
