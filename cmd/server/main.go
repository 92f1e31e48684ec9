package main

import (
	"context"
	"log"

	"github.com/seitanmen/QuickMessenger/internal/server"
	"github.com/seitanmen/QuickMessenger/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	app.Run(ctx)
}
