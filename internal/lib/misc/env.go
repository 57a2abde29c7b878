/*
 * Copyright (c) 2026. Byta Labs.
 * All Rights reserved.
 */

package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvSettings loads .env.local then .env from the working directory. Neither needs to exist and
// variables already present in the environment are never overwritten.
func LoadEnvSettings(log *slog.Logger) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err == nil {
			Debugf(log, "loaded env file:%s", name)
		}
	}
}

// LoadEnvForNetwork loads the network specific overrides, ie: .env.bsctestnet
func LoadEnvForNetwork(log *slog.Logger, network string) {
	name := fmt.Sprintf(".env.%s", network)
	if err := godotenv.Load(name); err == nil {
		Debugf(log, "loaded env file:%s", name)
	}
}
