package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvSettings loads .env.local then .env from the working directory. Values already present in the
// environment win, so neither file can override an explicit export.
func LoadEnvSettings(logger *slog.Logger) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err == nil {
			Debugf(logger, "loaded env file:%s", name)
		}
	}
}

// LoadEnvForNetwork loads .env.{network} - ie: .env.sandbox carrying locally generated marketplace ids and mnemonics.
func LoadEnvForNetwork(logger *slog.Logger, network string) {
	name := fmt.Sprintf(".env.%s", network)
	if err := godotenv.Load(name); err == nil {
		Infof(logger, "loaded network env file:%s", name)
	}
}

// LoadNamedEnvFile loads an explicitly requested env file, failing if it can't be read.
func LoadNamedEnvFile(logger *slog.Logger, envFile string) error {
	Infof(logger, "loading env file:%s", envFile)
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("unable to load env file %s: %w", envFile, err)
	}
	return nil
}
