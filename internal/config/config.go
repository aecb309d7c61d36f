// Package config resolves server runtime settings from the environment.
// Settings use the CONF_ prefix (CONF_HOST, CONF_PASSWORDS_FILE, ...); a .env
// file in the working directory is applied first when present.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Server holds the tunables the command line does not cover.  The listen port
// stays a positional argument.
type Server struct {
	Host           string `envconfig:"HOST" default:"0.0.0.0"`
	PasswordsFile  string `envconfig:"PASSWORDS_FILE" default:"passwords.txt"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"16"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServer reads .env (if any) and the CONF_* environment variables.
func LoadServer() (Server, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Server{}, err
		}
	}
	var cfg Server
	if err := envconfig.Process("conf", &cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}
