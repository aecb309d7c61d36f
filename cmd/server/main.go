// Conferencing server.
//
// Usage: server <port>
//
// Credentials come from the passwords file (CONF_PASSWORDS_FILE, default
// passwords.txt): one "<username>\t<password>" per line.  Remaining settings
// are environment variables; see internal/config.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"confchat/internal/config"
	"confchat/internal/server"
	"confchat/internal/store"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: server <port>")
		os.Exit(2)
	}
	port := os.Args[1]

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(level).
		With().Timestamp().Logger()

	users, err := store.Load(cfg.PasswordsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	log.Info().Int("users", users.Len()).Str("file", cfg.PasswordsFile).Msg("credentials loaded")

	srv := server.New(users, cfg.MaxConnections, log)

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		srv.Shutdown()
	}()

	addr := net.JoinHostPort(cfg.Host, port)
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}
