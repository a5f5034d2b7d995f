// Package main runs the Rumble game service: the HTTP API, the round
// scheduler and, when configured, settlement anchoring on Neo N3.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/rumble/internal/app/runtime"
	"github.com/R3E-Network/rumble/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	// Allow a .env file for local runs.
	_ = godotenv.Load()

	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := runtime.NewApplicationWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	log.Println("Service stopped")
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[rumbled] ")
}
