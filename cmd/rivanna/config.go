package main

import (
	"fmt"

	"github.com/bdobrica/rivanna/common/environment"
	"github.com/bdobrica/rivanna/internal/rivanna/app"
	"github.com/bdobrica/rivanna/internal/rivanna/matrix"
	"github.com/bdobrica/rivanna/internal/rivanna/memory"
)

// loadConfig loads configuration from environment variables
func loadConfig() (*app.Config, error) {
	def := app.DefaultConfig()

	config := &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", def.DatabasePath),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       environment.StringSliceOr("MATRIX_ROOMS", nil),
			AutoJoin:    environment.BoolOr("MATRIX_AUTO_JOIN", true),
		},
		PersonaFile: environment.StringOr("RIVANNA_PERSONA_FILE", ""),
		OpenAI: app.OpenAIConfig{
			APIKey:           environment.StringOr("OPENAI_API_KEY", ""),
			BaseURL:          environment.StringOr("OPENAI_BASE_URL", ""),
			Model:            environment.StringOr("RIVANNA_MODEL", def.OpenAI.Model),
			SpeculativeModel: environment.StringOr("RIVANNA_SPECULATIVE_MODEL", def.OpenAI.SpeculativeModel),
			EmbeddingModel:   environment.StringOr("RIVANNA_EMBEDDING_MODEL", memory.DefaultEmbeddingModel),
			Temperature:      environment.FloatOr("RIVANNA_TEMPERATURE", def.OpenAI.Temperature),
		},
		Memory: app.MemoryConfig{
			Backend: environment.StringOr("RIVANNA_MEMORY_BACKEND", def.Memory.Backend),
			Redis: memory.RedisConfig{
				Addr:     environment.StringOr("REDIS_ADDR", "localhost:6379"),
				Password: environment.StringOr("REDIS_PASSWORD", ""),
			},
			EmbedCacheDir: environment.StringOr("RIVANNA_EMBED_CACHE_DIR", ""),
		},
		Debounce:         environment.DurationOr("RIVANNA_DEBOUNCE", def.Debounce),
		SessionTimeout:   environment.DurationOr("RIVANNA_SESSION_TIMEOUT", def.SessionTimeout),
		HistoryCapacity:  environment.IntOr("RIVANNA_HISTORY_CAPACITY", def.HistoryCapacity),
		ContextMax:       environment.IntOr("RIVANNA_CONTEXT_MAX", def.ContextMax),
		DailyTokenBudget: environment.IntOr("RIVANNA_DAILY_TOKEN_BUDGET", def.DailyTokenBudget),
		RateLimit:        environment.IntOr("RIVANNA_RATE_LIMIT", def.RateLimit),
		HTTPAddr:         environment.StringOr("HTTP_ADDR", ""),
	}

	switch config.Memory.Backend {
	case app.BackendRedis, app.BackendSQLite, app.BackendMemory:
	default:
		return nil, fmt.Errorf("RIVANNA_MEMORY_BACKEND must be %s, %s or %s, got %q",
			app.BackendRedis, app.BackendSQLite, app.BackendMemory, config.Memory.Backend)
	}
	return config, nil
}

// requireMatrix checks the variables serve cannot run without.
func requireMatrix(config *app.Config) error {
	for _, v := range []struct{ name, value string }{
		{"MATRIX_HOMESERVER", config.Matrix.Homeserver},
		{"MATRIX_USER_ID", config.Matrix.UserID},
		{"MATRIX_ACCESS_TOKEN", config.Matrix.AccessToken},
	} {
		if v.value == "" {
			return fmt.Errorf("%s is required", v.name)
		}
	}
	return nil
}
