package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"auth-server/config"
	"auth-server/database"
	"auth-server/models"
	"auth-server/server"

	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	commandFlag := flag.String("command", "start", "Command to run: start, migrate, seed, sweep, create-migration, hash-secret")
	nameFlag := flag.String("name", "", "Migration name (alphanum+underscore only)")
	dirFlag := flag.String("dir", "./database/migrations", "Target directory for the new .sql file")
	secretFlag := flag.String("secret", "", "Client secret to hash for a seed artifact")
	costFlag := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost for hash-secret")
	flag.Parse()

	if *commandFlag == "" {
		fmt.Println("Usage: go run main.go --command <command-name> [... other options]")
		os.Exit(1)
	}

	switch *commandFlag {
	case "start":
		server.StartServer()
	case "migrate":
		exitOnError(withConfig(func(ctx context.Context, cfg config.Config) error {
			return server.RunMigrate(ctx, cfg)
		}))
	case "seed":
		exitOnError(withConfig(func(ctx context.Context, cfg config.Config) error {
			_, err := server.RunSeed(ctx, cfg)
			return err
		}))
	case "sweep":
		exitOnError(withConfig(func(ctx context.Context, cfg config.Config) error {
			_, err := server.RunSweep(ctx, cfg)
			return err
		}))
	case "create-migration":
		server.InitLogger()
		exitOnError(database.CreateMigration(*dirFlag, *nameFlag))
	case "hash-secret":
		hash, err := models.HashSecret(*secretFlag, *costFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
	default:
		fmt.Printf("Unknown command %q\n", *commandFlag)
		os.Exit(1)
	}
}

func withConfig(fn func(ctx context.Context, cfg config.Config) error) error {
	server.InitLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return fn(context.Background(), cfg)
}

func exitOnError(err error) {
	if err != nil {
		logger.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}
