package main

import (
	"log"
	"os"

	"go.uber.org/fx"

	"messenger/internal/app"
	"messenger/internal/config"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fx.New(app.Module(cfg)).Run()
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
