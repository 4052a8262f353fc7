// Command setup creates the keyspace and tables once and prints the resulting table set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/config"
	"github.com/mbeoliero/widechat/internal/repository"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file, empty to read env only")
	flag.Parse()

	ctx := context.Background()
	if err := run(ctx, *configPath); err != nil {
		log.CtxError(ctx, "schema setup failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Schema creation runs as the connect bootstrap step
	cfg.Cassandra.AutoMigrate = true
	cfg.Redis.Enabled = false

	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	if err := repos.CheckConnection(ctx); err != nil {
		return err
	}

	tables, err := repos.Schema.Tables(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("keyspace %s is ready with %d tables:\n", cfg.Cassandra.Keyspace, len(tables))
	for _, t := range tables {
		fmt.Printf("  %s\n", t)
	}
	return nil
}
