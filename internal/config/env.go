package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// DotEnvLookup returns a lookup that reads the process environment first and then the
// KEY=value pairs of the .env file at path. A missing file is not an error.
func DotEnvLookup(path string) (LookupFunc, error) {
	vars, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides secrets and deployment settings from the environment.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("IC_TOKEN", &cfg.Intercom.Token)
	str("IC_BOT_ID", &cfg.Intercom.BotID)
	str("GH_TOKEN", &cfg.GitHub.Token)
	str("KARE_ID", &cfg.Kare.ClientID)
	str("KARE_SECRET", &cfg.Kare.ClientSecret)
	str("KARE_URL", &cfg.Kare.BaseURL)
	str("TC_URL", &cfg.Site.Origin)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG %q: %w", v, err)
		}
		cfg.Debug = debug
	}
	return nil
}
