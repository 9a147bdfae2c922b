package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/database"
	"github.com/stemsi/psytest-backend/internal/logger"
)

func main() {
	var dir string
	flag.StringVar(&dir, "path", "", "Read migrations from this directory instead of the embedded set")
	flag.Usage = printUsage
	flag.Parse()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	if cfg.StoreDriver == "sqlite" {
		log.Fatal().Msg("SQLite creates its schema on open; migrations target PostgreSQL only")
	}

	m, err := database.NewMigrator(cfg.DatabaseURL, dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open migrator")
	}
	defer m.Close()

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Up failed")
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Down failed")
		}
	case "step":
		n, err := intArg(args)
		if err != nil {
			log.Fatal().Err(err).Msg("step requires a signed count")
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Int("steps", n).Msg("Step failed")
		}
	case "version":
	case "force":
		v, err := intArg(args)
		if err != nil {
			log.Fatal().Err(err).Msg("force requires a version")
		}
		if err := m.Force(v); err != nil {
			log.Fatal().Err(err).Int("version", v).Msg("Force failed")
		}
	default:
		printUsage()
		os.Exit(2)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Str("command", args[0]).Msg("No migrations applied")
	case err != nil:
		log.Fatal().Err(err).Msg("Version failed")
	default:
		log.Info().Str("command", args[0]).Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, errors.New("missing argument")
	}
	return strconv.Atoi(args[1])
}

func printUsage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: migrate [flags] <command>")
	fmt.Fprintln(out, "Commands: up, down, step <n>, version, force <version>")
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}
