package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"mind-ease/config"
	"mind-ease/storage"
)

func main() {
	cfg, err := config.LoadStorage()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	if err := storage.CreateTables(ctx, cfg.ConnectionString, cfg.Tables...); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, cfg.ConnectionString, cfg.Queues...); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.WithFields(log.Fields{"tables": cfg.Tables, "queues": cfg.Queues}).Info("storage init complete")
}
